package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/source"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config plus the resolved data source.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Source       SourceConfig       `koanf:"source"`
	Catalog      CatalogConfig      `koanf:"catalog"`
	Orders       OrdersConfig       `koanf:"orders"`
	Index        IndexConfig        `koanf:"index"`
	Verification VerificationConfig `koanf:"verification"`

	// ActiveSource is populated by Load from Source.DefinitionsDir.
	ActiveSource source.Definition `koanf:"-"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type LoggingConfig struct {
	Level      string `koanf:"level"`  // debug | info | warn | error
	Format     string `koanf:"format"` // text | json
	File       string `koanf:"file"`   // empty disables the rotated file sink
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

type SourceConfig struct {
	Provider        string `koanf:"provider"` // dir | http | gcs
	Root            string `koanf:"root"`
	BaseURL         string `koanf:"base_url"`
	Bucket          string `koanf:"bucket"`
	Prefix          string `koanf:"prefix"`
	CredentialsJSON string `koanf:"credentials_json"`
	DefinitionsDir  string `koanf:"definitions_dir"`
	Active          string `koanf:"active"`
}

type CatalogConfig struct {
	TTL                   string `koanf:"ttl"` // parsed and validated on startup
	ResolveInterval       string `koanf:"resolve_interval"`
	DailyLookbackDays     int    `koanf:"daily_lookback_days"`
	MonthlyLookbackMonths int    `koanf:"monthly_lookback_months"`
}

type OrdersConfig struct {
	LoadConcurrency int `koanf:"load_concurrency"`
}

type IndexConfig struct {
	DefaultDims  []string `koanf:"default_dims"`
	DefaultLimit int      `koanf:"default_limit"`
}

type VerificationConfig struct {
	RememberDecisions bool `koanf:"remember_decisions"`
	MaxPending        int  `koanf:"max_pending"`
}

// CatalogTTL returns the parsed catalog cache TTL.
func (c CatalogConfig) CatalogTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// CatalogResolveInterval returns how long a resolved catalog path is reused.
// Zero means the catalog TTL.
func (c CatalogConfig) CatalogResolveInterval() time.Duration {
	if c.ResolveInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.ResolveInterval)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (must be text or json)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	switch c.Source.Provider {
	case "dir":
		if strings.TrimSpace(c.Source.Root) == "" {
			return fmt.Errorf("source.root is required for the dir provider")
		}
	case "http":
		if !strings.HasPrefix(c.Source.BaseURL, "http://") && !strings.HasPrefix(c.Source.BaseURL, "https://") {
			return fmt.Errorf("invalid source.base_url %q", c.Source.BaseURL)
		}
	case "gcs":
		if strings.TrimSpace(c.Source.Bucket) == "" {
			return fmt.Errorf("source.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unsupported source.provider %q", c.Source.Provider)
	}
	if strings.TrimSpace(c.Source.DefinitionsDir) == "" {
		return fmt.Errorf("source.definitions_dir is required")
	}
	if strings.TrimSpace(c.Source.Active) == "" {
		return fmt.Errorf("source.active is required")
	}

	ttl, err := time.ParseDuration(c.Catalog.TTL)
	if err != nil {
		return fmt.Errorf("invalid catalog.ttl %q: %w", c.Catalog.TTL, err)
	}
	if ttl <= 0 {
		return fmt.Errorf("catalog.ttl must be > 0")
	}
	if c.Catalog.ResolveInterval != "" {
		d, err := time.ParseDuration(c.Catalog.ResolveInterval)
		if err != nil {
			return fmt.Errorf("invalid catalog.resolve_interval %q: %w", c.Catalog.ResolveInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("catalog.resolve_interval must be > 0")
		}
	}
	if c.Catalog.DailyLookbackDays < 0 {
		return fmt.Errorf("catalog.daily_lookback_days must be >= 0")
	}
	if c.Catalog.MonthlyLookbackMonths < 0 {
		return fmt.Errorf("catalog.monthly_lookback_months must be >= 0")
	}

	if c.Orders.LoadConcurrency <= 0 {
		return fmt.Errorf("orders.load_concurrency must be > 0")
	}
	if c.Index.DefaultLimit <= 0 {
		return fmt.Errorf("index.default_limit must be > 0")
	}
	if c.Verification.MaxPending <= 0 {
		return fmt.Errorf("verification.max_pending must be > 0")
	}

	return nil
}

// Load parses config from file + env, validates it, then resolves the active data source.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.host":                     "127.0.0.1",
		"server.mode":                     "release",
		"logging.level":                   "info",
		"logging.format":                  "text",
		"logging.file":                    "",
		"logging.max_size_mb":             50,
		"logging.max_backups":             3,
		"logging.max_age_days":            14,
		"logging.compress":                false,
		"source.provider":                 "dir",
		"source.root":                     "./data",
		"source.definitions_dir":          "./config/sources",
		"source.active":                   "default",
		"catalog.ttl":                     "5m",
		"catalog.resolve_interval":        "",
		"catalog.daily_lookback_days":     120,
		"catalog.monthly_lookback_months": 24,
		"orders.load_concurrency":         8,
		"index.default_dims":              []string{"product_name", "sku", "color", "size"},
		"index.default_limit":             50,
		"verification.remember_decisions": false,
		"verification.max_pending":        64,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("ORDERLENS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ORDERLENS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := source.NewFileSystemRepository(cfg.Source.DefinitionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source definitions: %w", err)
	}
	def, err := repo.Get(context.Background(), cfg.Source.Active)
	if err != nil {
		return nil, fmt.Errorf("no data source definition %q found in %q", cfg.Source.Active, cfg.Source.DefinitionsDir)
	}
	cfg.ActiveSource = *def

	return &cfg, nil
}
