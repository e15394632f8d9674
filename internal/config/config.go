// Package config assembles the process configuration: YAML defaults
// overlaid by environment variables, validated once at startup. The
// scoring calibration rides along and is frozen into every run's
// config snapshot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// KeepaConfig configures the external-API client.
type KeepaConfig struct {
	APIKey          string  `yaml:"-"`
	BaseURL         string  `yaml:"base_url"`
	Domain          int     `yaml:"domain" validate:"gte=1"`
	BucketCapacity  int     `yaml:"bucket_capacity" validate:"gt=0"`
	RefillPerMinute float64 `yaml:"refill_per_minute" validate:"gt=0"`
	MaxRetries      int     `yaml:"max_retries" validate:"gte=1,lte=10"`
	TimeoutSeconds  int     `yaml:"timeout_seconds" validate:"gt=0"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"gt=0"`
	Name     string `yaml:"name" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"-"`
	SSLMode  string `yaml:"ssl_mode" validate:"oneof=disable prefer require verify-ca verify-full"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// DSN renders the lib/pq connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// IngestionConfig shapes a pipeline run.
type IngestionConfig struct {
	CategoryID     int64 `yaml:"category_id"`
	BatchSize      int   `yaml:"batch_size" validate:"gt=0,lte=100"`
	FreshnessHours int   `yaml:"freshness_hours" validate:"gt=0"`
	MaxProducts    int   `yaml:"max_products" validate:"gt=0"`
	IncludeHistory bool  `yaml:"include_history"`
	FetchWorkers   int   `yaml:"fetch_workers" validate:"gte=1,lte=16"`
	ScoringWorkers int   `yaml:"scoring_workers" validate:"gte=1,lte=64"`
	RetentionDays  int   `yaml:"retention_days" validate:"gt=0"`
}

// GatesConfig holds the run-level quality gates.
type GatesConfig struct {
	DQThresholdPct       float64 `yaml:"dq_threshold_pct" validate:"gt=0,lte=100"`
	ErrorBudgetThreshold float64 `yaml:"error_budget_threshold" validate:"gt=0,lte=1"`
}

// ShortlistConfig holds the selection thresholds.
type ShortlistConfig struct {
	MinScore int     `yaml:"min_score" validate:"gte=0,lte=100"`
	MinValue float64 `yaml:"min_value" validate:"gte=0"`
	MaxItems int     `yaml:"max_items" validate:"gt=0"`
}

// BudgetConfig sizes the monthly token ledger.
type BudgetConfig struct {
	MonthlyLimit int `yaml:"monthly_limit" validate:"gt=0"`
	DiscoveryPct int `yaml:"discovery_pct" validate:"gt=0,lt=100"`
	ScanningPct  int `yaml:"scanning_pct" validate:"gt=0,lt=100"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
	RedisAddr string  `yaml:"redis_addr"`
	CacheTTL  int     `yaml:"cache_ttl_seconds"`
}

// Config is the full process configuration.
type Config struct {
	Keepa     KeepaConfig     `yaml:"keepa"`
	Database  DatabaseConfig  `yaml:"database"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Gates     GatesConfig     `yaml:"gates"`
	Shortlist ShortlistConfig `yaml:"shortlist"`
	Budget    BudgetConfig    `yaml:"budget"`
	Server    ServerConfig    `yaml:"server"`

	OutputDir string `yaml:"output_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Keepa: KeepaConfig{
			BaseURL:         "https://api.keepa.com",
			Domain:          1,
			BucketCapacity:  200,
			RefillPerMinute: 21,
			MaxRetries:      3,
			TimeoutSeconds:  30,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Name:         "smartacus",
			User:         "postgres",
			SSLMode:      "prefer",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Ingestion: IngestionConfig{
			CategoryID:     2230642011, // car cradles & mounts
			BatchSize:      100,
			FreshnessHours: 20,
			MaxProducts:    100,
			IncludeHistory: true,
			FetchWorkers:   2,
			ScoringWorkers: 8,
			RetentionDays:  180,
		},
		Gates: GatesConfig{
			DQThresholdPct:       30,
			ErrorBudgetThreshold: 0.10,
		},
		Shortlist: ShortlistConfig{
			MinScore: 50,
			MinValue: 5000,
			MaxItems: 10,
		},
		Budget: BudgetConfig{
			MonthlyLimit: 900000,
			DiscoveryPct: 20,
			ScanningPct:  80,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 10,
			CacheTTL:  60,
		},
		OutputDir: "out/runs",
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when empty or absent), then environment overrides, then
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Keepa.APIKey, "KEEPA_API_KEY")
	envStr(&c.Keepa.BaseURL, "KEEPA_BASE_URL")
	envInt(&c.Keepa.BucketCapacity, "KEEPA_BUCKET_CAPACITY")
	envFloat(&c.Keepa.RefillPerMinute, "KEEPA_REFILL_PER_MINUTE")

	envStr(&c.Database.Host, "DATABASE_HOST")
	envInt(&c.Database.Port, "DATABASE_PORT")
	envStr(&c.Database.Name, "DATABASE_NAME")
	envStr(&c.Database.User, "DATABASE_USER")
	envStr(&c.Database.Password, "DATABASE_PASSWORD")
	envStr(&c.Database.SSLMode, "DATABASE_SSL_MODE")

	envInt64(&c.Ingestion.CategoryID, "INGEST_CATEGORY_ID")
	envInt(&c.Ingestion.BatchSize, "INGEST_BATCH_SIZE")
	envInt(&c.Ingestion.FreshnessHours, "INGEST_FRESHNESS_HOURS")
	envInt(&c.Ingestion.MaxProducts, "INGEST_MAX_PRODUCTS")
	envInt(&c.Ingestion.RetentionDays, "INGEST_RETENTION_DAYS")

	envFloat(&c.Gates.DQThresholdPct, "DQ_THRESHOLD_PCT")
	envFloat(&c.Gates.ErrorBudgetThreshold, "ERROR_BUDGET_THRESHOLD")

	envInt(&c.Shortlist.MinScore, "SHORTLIST_MIN_SCORE")
	envFloat(&c.Shortlist.MinValue, "SHORTLIST_MIN_VALUE")
	envInt(&c.Shortlist.MaxItems, "SHORTLIST_MAX_ITEMS")

	envInt(&c.Budget.MonthlyLimit, "BUDGET_MONTHLY_LIMIT")

	envStr(&c.Server.Addr, "SERVER_ADDR")
	envStr(&c.Server.RedisAddr, "REDIS_ADDR")

	envStr(&c.OutputDir, "OUTPUT_DIR")
}

// KeepaTimeout is the per-call deadline as a duration.
func (c *Config) KeepaTimeout() time.Duration {
	return time.Duration(c.Keepa.TimeoutSeconds) * time.Second
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
