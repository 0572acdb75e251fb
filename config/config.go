/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults (Default)
  2. YAML file, when a path is given
  3. Environment variables (LEDGER_*); a .env file in the working
     directory is loaded first when present

ENVIRONMENT:
  LEDGER_PORT                 HTTP port
  LEDGER_CORS_ORIGINS         comma-separated allowed origins
  LEDGER_DB_PATH              SQLite path (":memory:" allowed)
  LEDGER_LOG_LEVEL            debug|info|warn|error
  LEDGER_LOG_FORMAT           json|console
  LEDGER_PRICE_POLICY         weighted_average|max
  LEDGER_OVER_MATCH_POLICY    reject|flag
  LEDGER_TIMEZONE             IANA zone for business days
  LEDGER_HARD_SYNC_INTERVAL   e.g. 1h; 0 disables the scheduler
  LEDGER_METRICS_ENABLED      true|false

SEE ALSO:
  - config/logger.go: zap logger built from LoggingConfig
  - cmd/server/main.go: startup
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/produce-ledger/inventory"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Inventory InventoryConfig `yaml:"inventory"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

type InventoryConfig struct {
	PricePolicy      string        `yaml:"price_policy"`
	OverMatchPolicy  string        `yaml:"over_match_policy"`
	Timezone         string        `yaml:"timezone"`
	HardSyncInterval time.Duration `yaml:"hard_sync_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "ledger.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Inventory: InventoryConfig{
			PricePolicy:     string(inventory.PriceWeightedAverage),
			OverMatchPolicy: string(inventory.OverMatchReject),
			Timezone:        "UTC",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setInt(&c.Server.Port, "LEDGER_PORT", &errs)
	setSlice(&c.Server.AllowedOrigins, "LEDGER_CORS_ORIGINS")
	setString(&c.Database.Path, "LEDGER_DB_PATH")
	setString(&c.Logging.Level, "LEDGER_LOG_LEVEL")
	setString(&c.Logging.Format, "LEDGER_LOG_FORMAT")
	setString(&c.Inventory.PricePolicy, "LEDGER_PRICE_POLICY")
	setString(&c.Inventory.OverMatchPolicy, "LEDGER_OVER_MATCH_POLICY")
	setString(&c.Inventory.Timezone, "LEDGER_TIMEZONE")
	setDuration(&c.Inventory.HardSyncInterval, "LEDGER_HARD_SYNC_INTERVAL", &errs)
	setBool(&c.Metrics.Enabled, "LEDGER_METRICS_ENABLED", &errs)
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if !inventory.PricePolicy(c.Inventory.PricePolicy).Valid() {
		return fmt.Errorf("invalid price policy: %s", c.Inventory.PricePolicy)
	}
	if !inventory.OverMatchPolicy(c.Inventory.OverMatchPolicy).Valid() {
		return fmt.Errorf("invalid over-match policy: %s", c.Inventory.OverMatchPolicy)
	}
	if _, err := time.LoadLocation(c.Inventory.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Inventory.Timezone, err)
	}
	if c.Inventory.HardSyncInterval < 0 {
		return fmt.Errorf("hard sync interval must not be negative: %s", c.Inventory.HardSyncInterval)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path)
	}
	return nil
}

// Engine converts the inventory section into the engine's Config.
func (c *Config) Engine() (inventory.Config, error) {
	loc, err := time.LoadLocation(c.Inventory.Timezone)
	if err != nil {
		return inventory.Config{}, err
	}
	return inventory.Config{
		PricePolicy:     inventory.PricePolicy(c.Inventory.PricePolicy),
		OverMatchPolicy: inventory.OverMatchPolicy(c.Inventory.OverMatchPolicy),
		Location:        loc,
	}, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// =============================================================================
// ENVIRONMENT HELPERS
// =============================================================================

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setSlice(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string, errs *[]error) {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func setBool(dst *bool, key string, errs *[]error) {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func setDuration(dst *time.Duration, key string, errs *[]error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
