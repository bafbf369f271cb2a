// Package config loads runtime settings from .env files, the environment,
// an optional YAML file and command-line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/ingest/jleague"
	"github.com/fortuna/jstats/internal/reconciliation"
	"github.com/fortuna/jstats/internal/scheduler"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigFileEnv names the environment variable holding an optional YAML file.
const ConfigFileEnv = "JSTATS_CONFIG"

// Renderer choices.
const (
	RendererHTTP   = "http"
	RendererChrome = "chrome"
)

// Config holds every runtime setting of the collector and the service.
type Config struct {
	ConfigFile string

	// Fetching
	BaseURL      string
	UserAgent    string
	HTTPTimeout  time.Duration
	MaxRetries   int
	RequestDelay time.Duration
	Renderer     string
	FetchWorkers int
	CatalogFile  string

	// Collection defaults
	Season    int
	League    string
	Team      string
	OutputDir string

	// Infrastructure
	DatabaseURL   string
	RunMigrations bool
	RedisURL      string
	CacheTTL      time.Duration
	APIPort       string
	WSPort        string

	// Logging
	LogLevel  string
	LogFormat string

	// Daily schedule
	ScheduleEnabled bool
	ScheduleHour    int
	ScheduleSeason  int
	ScheduleTargets []string
}

// Load reads configuration in order of precedence: flags bound on v,
// environment variables, .env/.env.local, the YAML file named by
// JSTATS_CONFIG (or the "config" key), then defaults. A nil v uses a
// fresh instance.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	loadEnvFiles()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	configFile := v.GetString("config")
	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	cfg := &Config{
		ConfigFile: v.ConfigFileUsed(),

		BaseURL:      v.GetString("base_url"),
		UserAgent:    v.GetString("user_agent"),
		HTTPTimeout:  v.GetDuration("http_timeout"),
		MaxRetries:   v.GetInt("max_retries"),
		RequestDelay: v.GetDuration("request_delay"),
		Renderer:     strings.ToLower(strings.TrimSpace(v.GetString("renderer"))),
		FetchWorkers: v.GetInt("fetch_workers"),
		CatalogFile:  v.GetString("catalog_file"),

		Season:    v.GetInt("season"),
		League:    strings.ToLower(strings.TrimSpace(v.GetString("league"))),
		Team:      strings.ToLower(strings.TrimSpace(v.GetString("team"))),
		OutputDir: v.GetString("output_dir"),

		DatabaseURL:   v.GetString("database_url"),
		RunMigrations: v.GetBool("run_migrations"),
		RedisURL:      v.GetString("redis_url"),
		CacheTTL:      v.GetDuration("cache_ttl"),
		APIPort:       v.GetString("api_port"),
		WSPort:        v.GetString("ws_port"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		ScheduleEnabled: v.GetBool("schedule_enabled"),
		ScheduleHour:    v.GetInt("schedule_hour"),
		ScheduleSeason:  v.GetInt("schedule_season"),
		ScheduleTargets: stringList(v, "schedule_targets"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", jleague.BaseURL)
	v.SetDefault("user_agent", jleague.UserAgent)
	v.SetDefault("http_timeout", jleague.DefaultTimeout)
	v.SetDefault("max_retries", jleague.DefaultMaxRetries)
	v.SetDefault("request_delay", reconciliation.DefaultDelay)
	v.SetDefault("renderer", RendererHTTP)
	v.SetDefault("fetch_workers", 1)

	v.SetDefault("season", 2025)
	v.SetDefault("league", string(catalog.J1))
	v.SetDefault("team", "shimizu")
	v.SetDefault("output_dir", "output")

	v.SetDefault("run_migrations", true)
	v.SetDefault("cache_ttl", 6*time.Hour)
	v.SetDefault("api_port", "8085")
	v.SetDefault("ws_port", "8086")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("schedule_enabled", false)
	v.SetDefault("schedule_hour", 4)
	v.SetDefault("schedule_targets", "j1/shimizu")
}

// Validate rejects settings the collector cannot run with.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = errors.CombineErrors(errs, errors.Wrapf(ErrInvalidConfig, format, args...))
	}

	if _, err := catalog.ParseLeague(c.League); err != nil {
		add("league %q", c.League)
	}
	if c.Season < 1993 || c.Season > 2100 {
		add("season %d out of range", c.Season)
	}
	if c.Team == "" {
		add("team is required")
	}
	if c.FetchWorkers < 1 {
		add("fetch workers must be positive, got %d", c.FetchWorkers)
	}
	if c.MaxRetries < 0 {
		add("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RequestDelay < 0 {
		add("request delay must not be negative, got %s", c.RequestDelay)
	}
	if c.Renderer != RendererHTTP && c.Renderer != RendererChrome {
		add("renderer %q (want %s or %s)", c.Renderer, RendererHTTP, RendererChrome)
	}
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		add("schedule hour %d outside 0-23", c.ScheduleHour)
	}
	if _, err := scheduler.ParseTargets(c.ScheduleTargets); err != nil {
		errs = errors.CombineErrors(errs, errors.Mark(err, ErrInvalidConfig))
	}
	return errs
}

// ScheduleConfig converts the schedule settings for the orchestrator.
func (c *Config) ScheduleConfig() (*scheduler.Config, error) {
	targets, err := scheduler.ParseTargets(c.ScheduleTargets)
	if err != nil {
		return nil, err
	}
	sc := scheduler.DefaultConfig()
	sc.Enabled = c.ScheduleEnabled
	sc.Hour = c.ScheduleHour
	sc.Season = c.ScheduleSeason
	sc.Targets = targets
	return sc, nil
}

// loadEnvFiles loads .env then .env.local. Existing variables win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// stringList accepts a comma separated string (environment) or a YAML list.
func stringList(v *viper.Viper, key string) []string {
	raw, ok := v.Get(key).(string)
	if !ok {
		return v.GetStringSlice(key)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
