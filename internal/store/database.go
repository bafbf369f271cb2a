package store

import (
	"context"
	"embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fortuna/jstats/internal/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Database wraps the PostgreSQL connection used for jobs and collected tables.
type Database struct {
	conn   *sqlx.DB
	dsn    string
	logger *logging.Logger
}

// NewDatabase opens and pings a connection pool. The DSN must be a
// postgres:// URL so migrations can reuse it.
func NewDatabase(dsn string, logger *logging.Logger) (*Database, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return &Database{
		conn:   db,
		dsn:    dsn,
		logger: logging.OrDefault(logger).Named("store"),
	}, nil
}

// NewDatabaseFromDB wraps an existing pool without pinging it.
func NewDatabaseFromDB(db *sqlx.DB, logger *logging.Logger) *Database {
	return &Database{conn: db, logger: logging.OrDefault(logger).Named("store")}
}

// Close closes the database connection
func (db *Database) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// DB returns the underlying pool.
func (db *Database) DB() *sqlx.DB {
	return db.conn
}

// RunMigrations applies every pending embedded migration.
func (db *Database) RunMigrations() error {
	if db.dsn == "" {
		return errors.New("run migrations: database opened without a DSN")
	}
	db.logger.Info("running database migrations")

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "load embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, db.dsn)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.CombineErrors(srcErr, dbErr); err != nil {
			db.logger.Warn("close migrator", "error", err)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "read migration version")
	}
	db.logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// HealthCheck performs a health check on the database
func (db *Database) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.conn.PingContext(ctx)
}
