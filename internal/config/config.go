package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL            string
	BaseCurrency           string
	YahooURL               string
	EODHDURL               string
	EODHDAPIKey            string
	CoinGeckoURL           string
	CoinGeckoVsCurrency    string
	Providers              []string
	ProviderTimeout        time.Duration
	ProviderRetryMax       int
	ProviderRetryBaseDelay time.Duration
	ProviderRatePerSec     float64
	QuoteCacheTTL          time.Duration
	WorkerConcurrency      int
	LookbackDays           int
	SeedShareValue         decimal.Decimal
	FixedIncomeConvention  string
	FixedIncomeDayBasis    int
	DegradedPolicy         string
	CascadeForward         bool
	QuoteSyncSchedule      string
	FXSyncSchedule         string
	SnapshotSchedule       string
	HTTPPort               string
	AdminAPIKey            string
	GoogleSheetsID         string
	GoogleCredentialsJSON  string
	LogLevel               slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; real env vars win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DatabaseURL:            envOrDefaultWarn("DATABASE_URL", ""),
		BaseCurrency:           envOrDefaultCurrency("BASE_CURRENCY", "BRL"),
		YahooURL:               envOrDefault("YAHOO_URL", "https://query1.finance.yahoo.com"),
		EODHDURL:               envOrDefault("EODHD_URL", "https://eodhd.com/api"),
		EODHDAPIKey:            envOrDefault("EODHD_API_KEY", ""),
		CoinGeckoURL:           envOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoVsCurrency:    envOrDefault("COINGECKO_VS_CURRENCY", "usd"),
		Providers:              envOrDefaultList("PROVIDERS", []string{"yahoo", "eodhd", "coingecko"}),
		ProviderTimeout:        envOrDefaultDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderRetryMax:       envOrDefaultInt("PROVIDER_RETRY_MAX", 3),
		ProviderRetryBaseDelay: envOrDefaultDuration("PROVIDER_RETRY_BASE_DELAY", 1*time.Second),
		ProviderRatePerSec:     envOrDefaultFloat("PROVIDER_RATE_PER_SEC", 2),
		QuoteCacheTTL:          envOrDefaultDuration("QUOTE_CACHE_TTL", 15*time.Minute),
		WorkerConcurrency:      envOrDefaultInt("WORKER_CONCURRENCY", 4),
		LookbackDays:           envOrDefaultInt("LOOKBACK_DAYS", 7),
		SeedShareValue:         envOrDefaultDecimal("QUOTA_SEED_SHARE_VALUE", decimal.NewFromInt(1)),
		FixedIncomeConvention:  envOrDefaultChoice("FIXED_INCOME_CONVENTION", "compound", "linear", "compound"),
		FixedIncomeDayBasis:    envOrDefaultInt("FIXED_INCOME_DAY_BASIS", 365),
		DegradedPolicy:         envOrDefaultChoice("DEGRADED_POLICY", "exclude", "exclude", "fail"),
		CascadeForward:         envOrDefaultBool("CASCADE_FORWARD", true),
		QuoteSyncSchedule:      envOrDefault("QUOTE_SYNC_SCHEDULE", "0 */4 * * 1-5"),
		FXSyncSchedule:         envOrDefault("FX_SYNC_SCHEDULE", "30 22 * * *"),
		SnapshotSchedule:       envOrDefault("SNAPSHOT_SCHEDULE", "0 23 * * *"),
		HTTPPort:               envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:            envOrDefault("ADMIN_API_KEY", ""),
		GoogleSheetsID:         envOrDefault("GOOGLE_SHEETS_ID", ""),
		GoogleCredentialsJSON:  envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
		LogLevel:               envOrDefaultLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			slog.Warn("invalid decimal env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(strings.ToLower(item)); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envOrDefaultChoice(key, defaultVal string, allowed ...string) string {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	slog.Warn("unsupported env var value, using default", "key", key, "value", v, "allowed", allowed, "default", defaultVal)
	return defaultVal
}

func envOrDefaultCurrency(key, defaultVal string) string {
	v := strings.ToUpper(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	if money.GetCurrency(v) == nil {
		slog.Warn("unknown currency code, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return v
}

func envOrDefaultLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return level
}
