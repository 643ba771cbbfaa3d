package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	TCGdex  TCGdexConfig  `yaml:"tcgdex" mapstructure:"tcgdex"`
	JustTCG JustTCGConfig `yaml:"justtcg" mapstructure:"justtcg"`
	EBay    EBayConfig    `yaml:"ebay" mapstructure:"ebay"`
	Queue   QueueConfig   `yaml:"queue" mapstructure:"queue"`
	Pricing PricingConfig `yaml:"pricing" mapstructure:"pricing"`
	Scan    ScanConfig    `yaml:"scan" mapstructure:"scan"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TCGdexConfig holds catalog lookup settings. The API is unkeyed.
type TCGdexConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// JustTCGConfig holds retail pricing API settings.
type JustTCGConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// EBayConfig holds peer-marketplace API settings.
type EBayConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Marketplace string `yaml:"marketplace" mapstructure:"marketplace"`
	SearchLimit int    `yaml:"search_limit" mapstructure:"search_limit"`
}

// QueueConfig configures the durable work queue and its drainer.
type QueueConfig struct {
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Lease       time.Duration `yaml:"lease" mapstructure:"lease"`
	DrainLimit  int           `yaml:"drain_limit" mapstructure:"drain_limit"`
}

// PricingConfig tunes the fusion engine and retention.
type PricingConfig struct {
	Currency       string        `yaml:"currency" mapstructure:"currency"`
	RetailWeight   float64       `yaml:"retail_weight" mapstructure:"retail_weight"`
	MarketWeight   float64       `yaml:"market_weight" mapstructure:"market_weight"`
	BaselineWeight float64       `yaml:"baseline_weight" mapstructure:"baseline_weight"`
	MaxRise        float64       `yaml:"max_rise" mapstructure:"max_rise"`
	MaxDrop        float64       `yaml:"max_drop" mapstructure:"max_drop"`
	BaselineAge    time.Duration `yaml:"baseline_age" mapstructure:"baseline_age"`
	Retention      time.Duration `yaml:"retention" mapstructure:"retention"`
}

// ScanConfig bounds concurrent identification requests.
type ScanConfig struct {
	MaxInflight int `yaml:"max_inflight" mapstructure:"max_inflight"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.path", "vault.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("tcgdex.base_url", "https://api.tcgdex.net")
	v.SetDefault("tcgdex.rate_per_sec", 10)
	v.SetDefault("tcgdex.burst", 10)
	v.SetDefault("justtcg.base_url", "https://api.justtcg.com")
	v.SetDefault("ebay.base_url", "https://api.ebay.com")
	v.SetDefault("ebay.marketplace", "EBAY_US")
	v.SetDefault("ebay.search_limit", 50)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.lease", "10m")
	v.SetDefault("queue.drain_limit", 10)
	v.SetDefault("pricing.currency", "USD")
	v.SetDefault("pricing.retail_weight", 0.45)
	v.SetDefault("pricing.market_weight", 0.35)
	v.SetDefault("pricing.baseline_weight", 0.20)
	v.SetDefault("pricing.max_rise", 0.80)
	v.SetDefault("pricing.max_drop", 0.60)
	v.SetDefault("pricing.baseline_age", "168h")
	v.SetDefault("pricing.retention", "2160h")
	v.SetDefault("scan.max_inflight", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Validate checks the configuration for the given run mode. Modes: "serve"
// (HTTP server), "drain" (one-shot queue drain), "migrate" (schema only).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "migrate":
		// Schema work needs only the store.
	case "drain":
		problems = append(problems, c.validatePipeline()...)
	case "serve":
		problems = append(problems, c.validatePipeline()...)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Scan.MaxInflight < 1 || c.Scan.MaxInflight > 64 {
			problems = append(problems, "scan.max_inflight must be between 1 and 64")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var problems []string
	if c.Queue.Workers < 1 || c.Queue.Workers > 32 {
		problems = append(problems, "queue.workers must be between 1 and 32")
	}
	if c.Queue.MaxAttempts < 1 {
		problems = append(problems, "queue.max_attempts must be >= 1")
	}
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"pricing.retail_weight", c.Pricing.RetailWeight},
		{"pricing.market_weight", c.Pricing.MarketWeight},
		{"pricing.baseline_weight", c.Pricing.BaselineWeight},
	} {
		if w.value < 0 {
			problems = append(problems, w.name+" must be >= 0")
			break
		}
	}
	if c.Pricing.MaxRise <= 0 || c.Pricing.MaxDrop <= 0 {
		problems = append(problems, "pricing.max_rise and pricing.max_drop must be > 0")
	}
	return problems
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
