package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ConsistencySequential = "sequential"
	ConsistencyAtomic     = "atomic"

	devSecret = "dev_secret"
)

// Config holds application configuration values.
type Config struct {
	Env              string        `mapstructure:"ENV"`
	Secret           string        `mapstructure:"SECRET"`
	HTTPPort         string        `mapstructure:"HTTP_PORT"`
	DatabaseDriver   string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseDSN      string        `mapstructure:"DATABASE_DSN"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogFormat        string        `mapstructure:"LOG_FORMAT"`
	StockConsistency string        `mapstructure:"STOCK_CONSISTENCY"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SeedDir          string        `mapstructure:"SEED_DIR"`
}

// Load reads configuration from environment variables with reasonable defaults.
// A .env file, when present, is expected to have been loaded into the process
// environment already.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("SECRET", devSecret)
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "")
	v.SetDefault("DATABASE_DSN", "clinicdesk.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STOCK_CONSISTENCY", ConsistencySequential)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("SEED_DIR", "assets")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.StockConsistency = strings.ToLower(strings.TrimSpace(cfg.StockConsistency))
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverFor(cfg.DatabaseDSN)
	}
	return cfg, cfg.Validate()
}

// DriverFor infers the database/sql driver name from a DSN.
func DriverFor(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "pgx"
	}
	return "sqlite"
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) Validate() error {
	switch c.StockConsistency {
	case ConsistencySequential, ConsistencyAtomic:
	default:
		return fmt.Errorf("STOCK_CONSISTENCY must be %q or %q, got %q", ConsistencySequential, ConsistencyAtomic, c.StockConsistency)
	}
	switch c.DatabaseDriver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be \"sqlite\" or \"pgx\", got %q", c.DatabaseDriver)
	}
	if c.IsProduction() && (c.Secret == "" || c.Secret == devSecret) {
		return fmt.Errorf("SECRET must be set in production")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
