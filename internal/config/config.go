// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Report   ReportConfig   `mapstructure:"report"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs frontier traversal and the harvest pool.
type CrawlerConfig struct {
	StartURLs   []string `mapstructure:"start_urls"`
	MaxPages    int      `mapstructure:"max_pages"`
	Concurrency int      `mapstructure:"concurrency"`
	UserAgent   string   `mapstructure:"user_agent"`
}

// HTTPConfig configures per-request timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// DBConfig selects and tunes the record store.
type DBConfig struct {
	Provider        string `mapstructure:"provider"`
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ReportConfig sets where change reports land.
type ReportConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	WindowHours int    `mapstructure:"window_hours"`
}

// ScheduleConfig drives the periodic crawl loop.
type ScheduleConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("crawler.start_urls", []string{"https://books.toscrape.com/catalogue/page-1.html"})
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.concurrency", 20)
	v.SetDefault("crawler.user_agent", "catalogwatch-harvester/1.0")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 2000)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("report.output_dir", "reports")
	v.SetDefault("report.window_hours", 24)
	v.SetDefault("schedule.interval_minutes", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Crawler.StartURLs) == 0 {
		return fmt.Errorf("crawler.start_urls must not be empty")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("db.provider must be memory or postgres, got %q", c.DB.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Schedule.IntervalMinutes <= 0 {
		return fmt.Errorf("schedule.interval_minutes must be > 0")
	}
	return nil
}

// RequestTimeout converts the per-request timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial retry backoff to a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the retry backoff ceiling to a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// ConnLifetime converts the pool connection lifetime to a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMin) * time.Minute
}

// ServerTimeout converts the HTTP handler timeout to a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ScheduleInterval converts the crawl cadence to a duration.
func (c Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}

// ReportWindow converts the report lookback to a duration.
func (c Config) ReportWindow() time.Duration {
	return time.Duration(c.Report.WindowHours) * time.Hour
}
