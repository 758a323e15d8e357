// Package config loads the engine configuration from a YAML file, a .env
// file and VELLUM_* environment variables, in increasing precedence.
//
//	# vellum.yaml
//	driver: pgx
//	dsn: postgres://localhost:5432/shop
//	slow_threshold: 200ms
//	cache_size: 1024
//	cache_ttl: 1m
//
// Any field can be overridden from the environment:
//
//	VELLUM_DSN=file:shop.db VELLUM_DRIVER=sqlite ./shop
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "VELLUM_"

// Config holds the engine settings.
type Config struct {
	// Dialect is derived from Driver when empty.
	Dialect string `yaml:"dialect"`
	// Driver is the database/sql driver name: sqlite, pgx, postgres or mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Debug logs every statement.
	Debug bool `yaml:"debug"`
	// SlowThreshold enables slow-query logging when positive.
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	LogLevel      string        `yaml:"log_level"`
	// CacheSize enables the result cache when positive.
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	// AutoMigrate creates missing tables when the engine opens.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// Default returns the configuration used when nothing is set: an SQLite
// database file in the working directory.
func Default() *Config {
	return &Config{
		Driver:   "sqlite",
		DSN:      "file:vellum.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		LogLevel: "info",
		CacheTTL: time.Minute,
	}
}

// Load reads the configuration. path may be empty, in which case only
// the .env file of the working directory and the environment are read.
// The .env file is looked up next to path.
func Load(path string) (*Config, error) {
	cfg := Default()
	dir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		dir = filepath.Dir(path)
	}
	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}
	if err := cfg.apply(func(key string) (string, bool) {
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}
	if err := cfg.apply(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply overrides the fields set in lookup.
func (c *Config) apply(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	str("DIALECT", &c.Dialect)
	str("DRIVER", &c.Driver)
	str("DSN", &c.DSN)
	boolean("DEBUG", &c.Debug)
	duration("SLOW_THRESHOLD", &c.SlowThreshold)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup(EnvPrefix + "CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sCACHE_SIZE: %w", EnvPrefix, err))
		} else {
			c.CacheSize = n
		}
	}
	duration("CACHE_TTL", &c.CacheTTL)
	boolean("AUTO_MIGRATE", &c.AutoMigrate)
	return errors.Join(errs...)
}

// Validate checks the configuration and fills in the dialect.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return errors.New("config: driver is required")
	}
	if c.DSN == "" {
		return errors.New("config: dsn is required")
	}
	if c.Dialect == "" {
		c.Dialect = sql.DialectOf(c.Driver)
	}
	if !dialect.Supported(c.Dialect) {
		return fmt.Errorf("config: unsupported dialect %q", c.Dialect)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("config: negative cache size %d", c.CacheSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}
