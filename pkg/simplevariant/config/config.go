// Package config loads server configuration from defaults, an optional YAML
// file and the environment, and builds the wired runtime from it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                "8080",
		Environment:         "development",
		LogLevel:            "info",
		DatabaseURL:         "memory",
		DBSchema:            "variants",
		StorageURL:          "memory://",
		CacheURL:            "memory",
		CacheTTL:            5 * time.Minute,
		CacheCapacity:       10000,
		ProbeAssets:         true,
		ProbeTimeout:        5 * time.Second,
		FetchTimeout:        30 * time.Second,
		GenerateConcurrency: 4,
		VariantTimeout:      30 * time.Second,
		MaxUploadBytes:      20 << 20,
		Reconcile: ReconcileConfig{
			Enabled:       true,
			Interval:      reconcile.DefaultInterval,
			IdleThreshold: reconcile.DefaultIdleThreshold,
			ScanLimit:     reconcile.DefaultScanLimit,
			BatchSize:     reconcile.DefaultBatchSize,
			ItemDelay:     reconcile.DefaultItemDelay,
			RetryBackoff:  reconcile.DefaultRetryBackoff,
		},
	}
}

// ServerConfig represents server configuration for the variant service
type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"` // development, production, testing
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`     // debug, info, warn, error

	// Database configuration: "memory" or a postgres:// URL
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	DBSchema    string `yaml:"db_schema" env:"DB_SCHEMA"`

	// Storage configuration: memory://, file:///path or s3://bucket?region=...
	StorageURL       string `yaml:"storage_url" env:"STORAGE_URL"`
	StoragePublicURL string `yaml:"storage_public_url" env:"STORAGE_PUBLIC_URL"`

	// Lookup cache: "memory", "none" or a redis:// URL
	CacheURL      string        `yaml:"cache_url" env:"CACHE_URL"`
	CacheTTL      time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	CacheCapacity int           `yaml:"cache_capacity" env:"CACHE_CAPACITY"`

	// Lookup behaviour
	ProbeAssets  bool          `yaml:"probe_assets" env:"PROBE_ASSETS"`
	ProbeRemote  bool          `yaml:"probe_remote" env:"PROBE_REMOTE"` // probe with HTTP HEAD instead of the store
	RemoteFetch  bool          `yaml:"remote_fetch" env:"REMOTE_FETCH"` // fetch originals by URL when the store misses
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`

	// Generation
	GenerateConcurrency int                         `yaml:"generate_concurrency" env:"GENERATE_CONCURRENCY"`
	VariantTimeout      time.Duration               `yaml:"variant_timeout" env:"VARIANT_TIMEOUT"`
	Catalog             []simplevariant.VariantSpec `yaml:"catalog"`

	MaxUploadBytes    int64  `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	AdminAPIKeySHA256 string `yaml:"admin_api_key_sha256" env:"ADMIN_API_KEY_SHA256"`

	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ReconcileConfig configures the idle reconciliation loop
type ReconcileConfig struct {
	Enabled       bool          `yaml:"enabled" env:"RECONCILE_ENABLED"`
	Interval      time.Duration `yaml:"interval" env:"RECONCILE_INTERVAL"`
	IdleThreshold time.Duration `yaml:"idle_threshold" env:"RECONCILE_IDLE_THRESHOLD"`
	ScanLimit     int           `yaml:"scan_limit" env:"RECONCILE_SCAN_LIMIT"`
	BatchSize     int           `yaml:"batch_size" env:"RECONCILE_BATCH_SIZE"`
	ItemDelay     time.Duration `yaml:"item_delay" env:"RECONCILE_ITEM_DELAY"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env:"RECONCILE_RETRY_BACKOFF"`
}

// WithEnv applies environment variable overrides. Variables that are not set
// leave the current value untouched.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML configuration file. Environment variables still
// override values from the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// WithPort sets the listen port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithDatabaseURL sets the metadata store
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithStorageURL sets the object storage
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = url
		return nil
	}
}

// WithCacheURL sets the lookup cache
func WithCacheURL(url string) Option {
	return func(c *ServerConfig) error {
		c.CacheURL = url
		return nil
	}
}

// WithCatalog replaces the variant catalog
func WithCatalog(catalog simplevariant.Catalog) Option {
	return func(c *ServerConfig) error {
		c.Catalog = catalog
		return nil
	}
}

// DatabaseType returns "memory" or "postgres" based on DatabaseURL.
func (c *ServerConfig) DatabaseType() string {
	if isPostgresURL(c.DatabaseURL) {
		return "postgres"
	}
	return "memory"
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgresql://") || strings.HasPrefix(url, "postgres://")
}

// VariantCatalog returns the configured catalog, or the default one.
func (c *ServerConfig) VariantCatalog() simplevariant.Catalog {
	if len(c.Catalog) == 0 {
		return simplevariant.DefaultCatalog()
	}
	return simplevariant.Catalog(c.Catalog)
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be development, production or testing, got %q", c.Environment)
	}

	if c.DatabaseURL != "" && c.DatabaseURL != "memory" && !isPostgresURL(c.DatabaseURL) {
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", c.DatabaseURL)
	}

	if _, err := c.Storage(); err != nil {
		return err
	}
	if _, err := c.CacheType(); err != nil {
		return err
	}

	if c.CacheTTL <= 0 {
		return errors.New("cache_ttl must be positive")
	}
	if c.GenerateConcurrency <= 0 {
		return errors.New("generate_concurrency must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.Reconcile.Interval <= 0 || c.Reconcile.IdleThreshold < 0 {
		return errors.New("reconcile interval must be positive and idle threshold non-negative")
	}
	if c.Reconcile.ScanLimit <= 0 || c.Reconcile.BatchSize <= 0 {
		return errors.New("reconcile scan_limit and batch_size must be positive")
	}

	if err := c.VariantCatalog().Validate(); err != nil {
		return err
	}

	return nil
}
