// Package config loads application configuration from file, environment, and defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Refresh   RefreshConfig   `yaml:"refresh" mapstructure:"refresh"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Sources    []SourceConfig   `yaml:"sources" mapstructure:"sources"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchConfig configures the HTTP fetcher used by source adapters.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the configured per-request timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// RefreshConfig configures the per-source refresh scheduler.
type RefreshConfig struct {
	FreshnessWindowMins int `yaml:"freshness_window_mins" mapstructure:"freshness_window_mins"`
	UpsertBatchSize     int `yaml:"upsert_batch_size" mapstructure:"upsert_batch_size"`
}

// FreshnessWindow returns the configured window as a duration.
func (r RefreshConfig) FreshnessWindow() time.Duration {
	return time.Duration(r.FreshnessWindowMins) * time.Minute
}

// ReconcileConfig configures the merge engine commit path.
type ReconcileConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleAfterMins    int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	UnlinkedThreshold int    `yaml:"unlinked_threshold" mapstructure:"unlinked_threshold"`
}

// StaleAfter returns the age at which a source cache entry triggers an alert.
func (m MonitoringConfig) StaleAfter() time.Duration {
	return time.Duration(m.StaleAfterMins) * time.Minute
}

// SourceConfig describes one configured CFP provider. Order matters: the
// scheduler onboards uncached sources in configuration order.
type SourceConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	URL     string `yaml:"url" mapstructure:"url"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads configuration from config.yaml (optional), environment
// variables with the CFPTRACK prefix, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.cfptrack")

	// Environment
	v.SetEnvPrefix("CFPTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("fetch.user_agent", "cfptrack/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("refresh.freshness_window_mins", 60)
	v.SetDefault("refresh.upsert_batch_size", 50)
	v.SetDefault("reconcile.batch_size", 50)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stale_after_mins", 720)
	v.SetDefault("monitoring.unlinked_threshold", 200)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}

	return &cfg, nil
}

// DefaultSources returns the built-in provider list, in onboarding order.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "developers-events", URL: "https://developers.events/all-cfps.json", Enabled: true},
		{Name: "confs-tech", URL: "https://29flvjv5x9-dsn.algolia.net/1/indexes/*/queries", Enabled: true},
		{Name: "joindin", URL: "https://api.joind.in/v2.1/events?filter=cfp", Enabled: true},
	}
}

// LoadSourcesFile replaces the source list with the contents of a standalone
// YAML file. Used by the --sources flag to swap provider sets without
// touching the main config.
func LoadSourcesFile(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read sources file %s", path)
	}

	var doc struct {
		Sources []SourceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "config: parse sources file %s", path)
	}
	if len(doc.Sources) == 0 {
		return nil, eris.Errorf("config: sources file %s defines no sources", path)
	}
	return doc.Sources, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
