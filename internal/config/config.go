package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rcourtman/buttonclicker/internal/catalog"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rcourtman/buttonclicker/internal/logging"
	"github.com/rcourtman/buttonclicker/internal/pending"
	"github.com/rcourtman/buttonclicker/internal/reconciler"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const defaultDataDir = "/var/lib/buttonclicker"

// Config holds everything needed to run the reconciler and its surfaces.
type Config struct {
	DataDir string

	StoreBackend   string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	LogLevel  string
	LogFormat string

	HTTPAddr    string
	MetricsAddr string

	PendingTTL      time.Duration
	PendingMax      int
	ConsumableBonus int64
	DefaultCredits  int64

	SandboxPageSize int
	SKUs            catalog.SKUs

	// EnvOverrides records which settings came from the environment.
	EnvOverrides map[string]bool
}

// Load reads configuration from the environment, after applying an optional
// .env from the data directory and from the working directory.
func Load() (*Config, error) {
	dataDir := defaultDataDir
	if dir := os.Getenv("BUTTONCLICKER_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default()
	cfg.DataDir = dataDir
	cfg.SQLitePath = filepath.Join(dataDir, "entitlements.db")

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         defaultDataDir,
		StoreBackend:    StoreFile,
		SQLitePath:      filepath.Join(defaultDataDir, "entitlements.db"),
		RedisAddr:       "localhost:6379",
		LogLevel:        "info",
		LogFormat:       "auto",
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9091",
		PendingTTL:      pending.DefaultTTL,
		PendingMax:      pending.DefaultMaxEntries,
		ConsumableBonus: reconciler.DefaultConsumableBonus,
		DefaultCredits:  entitlements.DefaultCredits,
		SandboxPageSize: 2,
		SKUs:            catalog.DefaultSKUs(),
		EnvOverrides:    make(map[string]bool),
	}
}

func (c *Config) applyEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"STORE_BACKEND", &c.StoreBackend},
		{"SQLITE_PATH", &c.SQLitePath},
		{"REDIS_ADDR", &c.RedisAddr},
		{"REDIS_PASSWORD", &c.RedisPassword},
		{"REDIS_KEY_PREFIX", &c.RedisKeyPrefix},
		{"LOG_LEVEL", &c.LogLevel},
		{"LOG_FORMAT", &c.LogFormat},
		{"HTTP_ADDR", &c.HTTPAddr},
		{"METRICS_ADDR", &c.MetricsAddr},
		{"SKU_CONSUMABLE", &c.SKUs.Consumable},
		{"SKU_BLUE", &c.SKUs.Blue},
		{"SKU_PURPLE", &c.SKUs.Purple},
		{"SKU_GREEN", &c.SKUs.Green},
		{"SKU_SUBSCRIPTION_PARENT", &c.SKUs.ParentSubscription},
		{"SKU_SUBSCRIPTION_CHILD", &c.SKUs.ChildSubscription},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.key); ok {
			*s.dst = strings.TrimSpace(v)
			c.EnvOverrides[s.key] = true
		}
	}
	c.StoreBackend = strings.ToLower(c.StoreBackend)

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.RedisDB = db
		c.EnvOverrides["REDIS_DB"] = true
	}
	if v := os.Getenv("PENDING_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PENDING_TTL %q: %w", v, err)
		}
		c.PendingTTL = ttl
		c.EnvOverrides["PENDING_TTL"] = true
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PENDING_MAX", &c.PendingMax},
		{"SANDBOX_PAGE_SIZE", &c.SandboxPageSize},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", i.key, v, err)
			}
			*i.dst = n
			c.EnvOverrides[i.key] = true
		}
	}

	int64s := []struct {
		key string
		dst *int64
	}{
		{"CONSUMABLE_BONUS", &c.ConsumableBonus},
		{"DEFAULT_CREDITS", &c.DefaultCredits},
	}
	for _, i := range int64s {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", i.key, v, err)
			}
			*i.dst = n
			c.EnvOverrides[i.key] = true
		}
	}

	if len(c.EnvOverrides) > 0 {
		log.Debug().Int("count", len(c.EnvOverrides)).Msg("Applied environment overrides")
	}
	return nil
}

// Validate checks the configuration for values the reconciler cannot run with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreFile:
		if c.DataDir == "" {
			return fmt.Errorf("data dir is required for the file store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis store")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("invalid redis db: %d", c.RedisDB)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}

	if c.PendingTTL < time.Second {
		return fmt.Errorf("pending ttl must be at least 1 second")
	}
	if c.PendingMax <= 0 {
		return fmt.Errorf("pending max must be positive: %d", c.PendingMax)
	}
	if c.ConsumableBonus <= 0 {
		return fmt.Errorf("consumable bonus must be positive: %d", c.ConsumableBonus)
	}
	if c.DefaultCredits <= 0 {
		return fmt.Errorf("default credits must be positive: %d", c.DefaultCredits)
	}
	if c.SandboxPageSize <= 0 {
		return fmt.Errorf("sandbox page size must be positive: %d", c.SandboxPageSize)
	}

	if _, err := catalog.New(c.SKUs); err != nil {
		return fmt.Errorf("invalid sku catalog: %w", err)
	}
	return nil
}

// Catalog builds the SKU catalog. Validate must have passed.
func (c *Config) Catalog() *catalog.Catalog {
	return catalog.MustNew(c.SKUs)
}
