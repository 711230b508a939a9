// Package config loads the application settings and the plugin catalog.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/maestro/internal/fingerprint"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/internal/storage/postgres"
	"github.com/FranksOps/maestro/internal/storage/sqlite"
)

// EnvPrefix prefixes environment overrides: MAESTRO_DATABASE_DSN sets
// database.dsn.
const EnvPrefix = "MAESTRO"

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the application configuration.
type Config struct {
	DataDir   string `mapstructure:"data_dir"`
	PublicDir string `mapstructure:"public_dir"`
	// Catalog is an optional plugin catalog file synced on startup.
	Catalog string `mapstructure:"catalog"`

	Database Database `mapstructure:"database"`
	Server   Server   `mapstructure:"server"`
	Log      Log      `mapstructure:"log"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Fetchers Fetchers `mapstructure:"fetchers"`
	Gather   Gather   `mapstructure:"gather"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Server struct {
	Listen      string `mapstructure:"listen"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Pipeline struct {
	Workers        int           `mapstructure:"workers"`
	ProvideTimeout time.Duration `mapstructure:"provide_timeout"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	PluginTimeout  time.Duration `mapstructure:"plugin_timeout"`
	// Tolerance is the consecutive failures allowed per plugin.
	Tolerance int `mapstructure:"tolerance"`
}

type Fetchers struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BingKey           string  `mapstructure:"bing_key"`
	TwitterKey        string  `mapstructure:"twitter_key"`
	FreesoundKey      string  `mapstructure:"freesound_key"`
}

type Gather struct {
	Concurrency       int           `mapstructure:"concurrency"`
	SoundConcurrency  int           `mapstructure:"sound_concurrency"`
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxImages         int           `mapstructure:"max_images"`
	MinWidth          int           `mapstructure:"min_width"`
	MinHeight         int           `mapstructure:"min_height"`
	ThumbSize         int           `mapstructure:"thumb_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	Fingerprint       string        `mapstructure:"fingerprint"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// SetDefaults registers every key, which also makes each one overridable
// from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("public_dir", "public")
	v.SetDefault("catalog", "")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.metrics_port", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.provide_timeout", 10*time.Second)
	v.SetDefault("pipeline.fetch_timeout", time.Minute)
	v.SetDefault("pipeline.plugin_timeout", 2*time.Minute)
	v.SetDefault("pipeline.tolerance", 10)

	v.SetDefault("fetchers.requests_per_second", 3)
	v.SetDefault("fetchers.bing_key", "")
	v.SetDefault("fetchers.twitter_key", "")
	v.SetDefault("fetchers.freesound_key", "")

	v.SetDefault("gather.concurrency", 5)
	v.SetDefault("gather.sound_concurrency", 3)
	v.SetDefault("gather.max_depth", 1)
	v.SetDefault("gather.max_images", 0)
	v.SetDefault("gather.min_width", 110)
	v.SetDefault("gather.min_height", 110)
	v.SetDefault("gather.thumb_size", 256)
	v.SetDefault("gather.timeout", 30*time.Second)
	v.SetDefault("gather.user_agent", "")
	v.SetDefault("gather.fingerprint", string(fingerprint.ProfileGo))
	v.SetDefault("gather.respect_robots", true)
	v.SetDefault("gather.requests_per_second", 2)
}

// Load reads the optional file at path, applies MAESTRO_* overrides and
// validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.PublicDir == "" {
		errs = append(errs, errors.New("public_dir is required"))
	}
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want %s or %s", c.Database.Driver, DriverSQLite, DriverPostgres))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers must be at least 1"))
	}
	if c.Pipeline.Tolerance < 0 {
		errs = append(errs, errors.New("pipeline.tolerance must not be negative"))
	}
	if _, err := fingerprint.ParseProfile(c.Gather.Fingerprint); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SQLitePath is the default database file inside the data directory.
func (c *Config) SQLitePath() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.DataDir, "maestro.db")
}

// OpenStore opens the configured backend.
func (c *Config) OpenStore(ctx context.Context) (storage.Backend, error) {
	switch c.Database.Driver {
	case DriverPostgres:
		return postgres.New(ctx, c.Database.DSN)
	default:
		path := c.SQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		return sqlite.New(path)
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger: JSON when Format is "json", text
// otherwise.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(l.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
