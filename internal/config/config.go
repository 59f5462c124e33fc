package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	// NodeID seeds the snowflake generator for ledger entry ids; unique per replica.
	NodeID int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis RedisConfig

	RateLimit RateLimitConfig

	// BillingProvider selects the webhook adapter.
	BillingProvider string
	Stripe          StripeConfig

	// IdentityHeader carries the caller's account id, set by the identity proxy in front of the API.
	IdentityHeader  string
	TierCatalogPath string
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	BalanceTTL time.Duration
}

// Enabled reports whether a Redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig bounds calls that fan out to the billing provider, per account.
type RateLimitConfig struct {
	PortalRate  float64
	PortalBurst int
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	PortalReturnURL  string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_NAME", "tokenledger"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("NODE_ID", 1)),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "tokenledger"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 300),
		DBAutoMigrate:     getenvBool("DB_AUTO_MIGRATE", true),

		Redis: RedisConfig{
			Addr:       strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:   getenv("REDIS_PASSWORD", ""),
			DB:         getenvInt("REDIS_DB", 0),
			BalanceTTL: getenvDuration("BALANCE_CACHE_TTL", 30*time.Second),
		},

		RateLimit: RateLimitConfig{
			PortalRate:  getenvFloat("RATE_LIMIT_PORTAL_RATE", 0.2),
			PortalBurst: getenvInt("RATE_LIMIT_PORTAL_BURST", 5),
		},

		BillingProvider: getenv("BILLING_PROVIDER", "stripe"),

		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			PortalReturnURL:  strings.TrimSpace(getenv("STRIPE_PORTAL_RETURN_URL", "http://localhost:3000/account")),
		},

		IdentityHeader:  getenv("IDENTITY_HEADER", "X-Account-ID"),
		TierCatalogPath: getenv("TIER_CATALOG_PATH", "config/tiers.yml"),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
