package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	StoreDriver     string   `mapstructure:"STORE_DRIVER"`
	SQLitePath      string   `mapstructure:"SQLITE_PATH"`
	RPCURL          string   `mapstructure:"RPC_URL"`
	RPCMaxAttempts  int      `mapstructure:"RPC_MAX_ATTEMPTS"`
	RPCBaseDelayMS  int      `mapstructure:"RPC_BASE_DELAY_MS"`
	RPCTimeoutSecs  int      `mapstructure:"RPC_TIMEOUT_SECONDS"`
	FHIRBaseURL     string   `mapstructure:"FHIR_BASE_URL"`
	EventTopicURL   string   `mapstructure:"EVENT_TOPIC_URL"`
	EventTopicKey   string   `mapstructure:"EVENT_TOPIC_KEY"`
	SafeMode        bool     `mapstructure:"SAFE_MODE"`
	DeterministicID bool     `mapstructure:"DETERMINISTIC_TASK_IDS"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "7001")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("SQLITE_PATH", "data/careloop.db")
	v.SetDefault("RPC_URL", "http://localhost:9000/rpc")
	v.SetDefault("RPC_MAX_ATTEMPTS", 3)
	v.SetDefault("RPC_BASE_DELAY_MS", 500)
	v.SetDefault("RPC_TIMEOUT_SECONDS", 10)
	v.SetDefault("FHIR_BASE_URL", "http://localhost:8080/fhir")
	v.SetDefault("SAFE_MODE", true)
	v.SetDefault("DETERMINISTIC_TASK_IDS", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("STORE_DRIVER")
	v.BindEnv("SQLITE_PATH")
	v.BindEnv("RPC_URL")
	v.BindEnv("RPC_MAX_ATTEMPTS")
	v.BindEnv("RPC_BASE_DELAY_MS")
	v.BindEnv("RPC_TIMEOUT_SECONDS")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("EVENT_TOPIC_URL")
	v.BindEnv("EVENT_TOPIC_KEY")
	v.BindEnv("SAFE_MODE")
	v.BindEnv("DETERMINISTIC_TASK_IDS")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can actually run the requested
// store driver. Postgres mode needs DATABASE_URL; sqlite mode needs a path.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is \"sqlite\"")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"sqlite\", got %q", c.StoreDriver)
	}

	if c.RPCMaxAttempts < 1 {
		return fmt.Errorf("RPC_MAX_ATTEMPTS must be at least 1, got %d", c.RPCMaxAttempts)
	}
	if c.RPCBaseDelayMS < 0 {
		return fmt.Errorf("RPC_BASE_DELAY_MS must not be negative, got %d", c.RPCBaseDelayMS)
	}
	return nil
}
