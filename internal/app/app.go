// Package app assembles the collector from configuration. Both binaries use it.
package app

import (
	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/cache"
	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/config"
	"github.com/fortuna/jstats/internal/ingest/jleague"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
)

// NewLogger builds the process logger and installs it as the default.
func NewLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	logging.SetDefault(logger)
	return logger
}

// Fetcher owns the site client and the resources behind it.
type Fetcher struct {
	Source   *jleague.Source
	Client   *jleague.Client
	Cache    *cache.RedisCache
	renderer *jleague.ChromeRenderer
}

// NewFetcher builds the J.League source. An unreachable Redis disables the
// page cache instead of failing.
func NewFetcher(cfg *config.Config, logger *logging.Logger) (*Fetcher, error) {
	logger = logging.OrDefault(logger)
	f := &Fetcher{}

	opts := jleague.ClientOptions{
		BaseURL:     cfg.BaseURL,
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.HTTPTimeout,
		MaxRetries:  cfg.MaxRetries,
		MinInterval: jleague.MinRequestInterval,
		Logger:      logger,
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Warn("page cache disabled", "error", err)
		} else {
			f.Cache = rc
			opts.Cache = rc
			opts.CacheTTL = cfg.CacheTTL
		}
	}

	if cfg.Renderer == config.RendererChrome {
		f.renderer = jleague.NewChromeRenderer(cfg.UserAgent, cfg.HTTPTimeout)
		opts.Renderer = f.renderer
	}

	client, err := jleague.NewClient(opts)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "create jleague client")
	}
	f.Client = client
	f.Source = jleague.NewSource(client, logger)
	return f, nil
}

// Close releases the browser and the Redis connection.
func (f *Fetcher) Close() {
	if f.renderer != nil {
		f.renderer.Close()
	}
	if f.Cache != nil {
		_ = f.Cache.Close()
	}
}

// LoadCatalog returns the configured catalog or the embedded one.
func LoadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "load catalog")
	}
	return cat, nil
}

// NewRunner wires a collection runner with the configured politeness delay
// and fetch parallelism.
func NewRunner(cfg *config.Config, f *Fetcher, cat *catalog.Catalog, logger *logging.Logger, sinks ...collector.Sink) *collector.Runner {
	return collector.NewRunner(f.Source, f.Source, cat,
		collector.WithRunnerLogger(logger),
		collector.WithSinks(sinks...),
		collector.WithEngineOptions(
			reconciliation.WithLogger(logger),
			reconciliation.WithDelay(cfg.RequestDelay),
			reconciliation.WithWorkers(cfg.FetchWorkers),
		),
	)
}
