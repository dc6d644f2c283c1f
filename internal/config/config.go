package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/simaogato/stockledger-backend/internal/domain"
)

// Store drivers accepted by LEDGER_STORE
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	LogLevel string

	// Persistence
	Store       string
	PostgresDSN string
	SQLitePath  string
	DBLogMode   bool // echo ORM statements, sqlite store only

	// Ledger arithmetic
	Precision int32
	CashScale int32
}

// MathContext returns the arithmetic policy configured for the ledger
func (c *AppConfig) MathContext() domain.MathContext {
	return domain.MathContext{Precision: c.Precision, CashScale: c.CashScale}
}

// Load reads an optional .env file (current or parent directory) and then the
// environment. Missing variables fall back to development defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", err)
		}
	}

	return FromEnv()
}

// FromEnv builds the configuration from the process environment only
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Store:       strings.ToLower(getEnv("LEDGER_STORE", StoreMemory)),
		PostgresDSN: postgresDSN(),
		SQLitePath:  getEnv("SQLITE_PATH", "data/ledger.db"),
	}

	logMode, err := strconv.ParseBool(getEnv("DB_LOG_MODE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_LOG_MODE: %w", err)
	}
	cfg.DBLogMode = logMode

	precision, err := getEnvAsInt32("LEDGER_PRECISION", domain.DefaultPrecision)
	if err != nil {
		return nil, err
	}
	if precision <= 0 {
		return nil, fmt.Errorf("LEDGER_PRECISION must be positive, got %d", precision)
	}
	cfg.Precision = precision

	cashScale, err := getEnvAsInt32("LEDGER_CASH_SCALE", domain.NoCashScale)
	if err != nil {
		return nil, err
	}
	if cashScale < domain.NoCashScale {
		return nil, fmt.Errorf("LEDGER_CASH_SCALE must be -1 (disabled) or >= 0, got %d", cashScale)
	}
	cfg.CashScale = cashScale

	switch cfg.Store {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return nil, fmt.Errorf("unknown LEDGER_STORE %q (want memory, postgres or sqlite)", cfg.Store)
	}

	return cfg, nil
}

// postgresDSN uses DB_CONN_STR when set, otherwise builds it from individual vars (Docker friendly)
func postgresDSN() string {
	if dsn := os.Getenv("DB_CONN_STR"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "stockledger"),
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt32(key string, fallback int32) (int32, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return int32(value), nil
}
