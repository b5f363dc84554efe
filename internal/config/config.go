// Package config loads the configuration surface described in spec.md §6
// from environment variables (via an optional .env file) with typed
// defaults, the way the teacher's internal/config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// SecretLookup resolves a named secret (refresh token, client secret) from
// whatever out-of-scope provider the deployment uses. A nil SecretLookup
// falls back to environment variables only.
type SecretLookup func(key string) (string, error)

// Config holds every option in spec.md §6's configuration table.
type Config struct {
	Underlying string

	Expirations     int
	StrikeDistance  float64
	RecalcInterval  int
	PriceMoveThresh float64

	MarketHoursPoll   time.Duration
	ExtendedHoursPoll time.Duration
	ClosedHoursPoll   time.Duration

	AggregationBucket  time.Duration
	MaxBufferSize      int
	BufferFlushEvery   time.Duration

	APIRequestTimeout time.Duration
	APIRetryAttempts  int
	APIRetryDelay     time.Duration
	APIRetryBackoff   float64

	QuoteBatchSize  int
	OptionBatchSize int

	GreeksEnabled      bool
	IVCalcEnabled      bool
	IVMaxIterations    int
	IVTolerance        float64
	IVMin              float64
	IVMax              float64
	RiskFreeRate       float64
	DefaultIV          float64

	AnalyticsInterval time.Duration
	StalenessWindow   time.Duration

	StrikeCleanupInterval int

	RetentionQuotes time.Duration
	RetentionLog    time.Duration
	RetentionMetrics time.Duration

	DataDir  string
	HTTPPort int

	TradernetAPIKey    string
	TradernetAPISecret string
	RefreshToken       string
	BrokerBaseURL      string
	BrokerTokenURL     string

	S3ArchiveBucket string
	S3ArchivePrefix string

	MaintenanceInterval time.Duration

	LogLevel  string
	LogPretty bool

	BackfillEnabled     bool
	BackfillLookback    int
	BackfillOptionEvery int
}

// Load reads configuration from the environment, applying an optional .env
// file and then a pluggable secret lookup for credential fields. Settings
// resolved from secretLookup take precedence over bare env vars, mirroring
// the teacher's "settings DB overrides env" precedence.
func Load(secretLookup SecretLookup) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Underlying: getEnv("UNDERLYING", "SPY"),

		Expirations:     getEnvAsInt("EXPIRATIONS", 4),
		StrikeDistance:  getEnvAsFloat("STRIKE_DISTANCE", 10.0),
		RecalcInterval:  getEnvAsInt("STRIKE_RECALC_INTERVAL", 10),
		PriceMoveThresh: getEnvAsFloat("PRICE_MOVE_THRESHOLD", 1.0),

		MarketHoursPoll:   getEnvAsDuration("MARKET_HOURS_POLL_INTERVAL", 5*time.Second),
		ExtendedHoursPoll: getEnvAsDuration("EXTENDED_HOURS_POLL_INTERVAL", 30*time.Second),
		ClosedHoursPoll:   getEnvAsDuration("CLOSED_HOURS_POLL_INTERVAL", 300*time.Second),

		AggregationBucket: getEnvAsDuration("AGGREGATION_BUCKET_SECONDS", 60*time.Second),
		MaxBufferSize:     getEnvAsInt("MAX_BUFFER_SIZE", 1000),
		BufferFlushEvery:  getEnvAsDuration("BUFFER_FLUSH_INTERVAL", 60*time.Second),

		APIRequestTimeout: getEnvAsDuration("API_REQUEST_TIMEOUT", 30*time.Second),
		APIRetryAttempts:  getEnvAsInt("API_RETRY_ATTEMPTS", 3),
		APIRetryDelay:     getEnvAsDuration("API_RETRY_DELAY", 500*time.Millisecond),
		APIRetryBackoff:   getEnvAsFloat("API_RETRY_BACKOFF", 2.0),

		QuoteBatchSize:  getEnvAsInt("QUOTE_BATCH_SIZE", 50),
		OptionBatchSize: getEnvAsInt("OPTION_BATCH_SIZE", 100),

		GreeksEnabled:   getEnvAsBool("GREEKS_ENABLED", true),
		IVCalcEnabled:   getEnvAsBool("IV_CALCULATION_ENABLED", true),
		IVMaxIterations: getEnvAsInt("IV_MAX_ITERATIONS", 100),
		IVTolerance:     getEnvAsFloat("IV_TOLERANCE", 1e-5),
		IVMin:           getEnvAsFloat("IV_MIN", 0.01),
		IVMax:           getEnvAsFloat("IV_MAX", 5.0),
		RiskFreeRate:    getEnvAsFloat("RISK_FREE_RATE", 0.05),
		DefaultIV:       getEnvAsFloat("IMPLIED_VOLATILITY_DEFAULT", 0.30),

		AnalyticsInterval: getEnvAsDuration("ANALYTICS_INTERVAL", 60*time.Second),
		StalenessWindow:   getEnvAsDuration("ANALYTICS_STALENESS_WINDOW", 5*time.Minute),

		StrikeCleanupInterval: getEnvAsInt("STRIKE_CLEANUP_INTERVAL", 20),

		RetentionQuotes:  getEnvAsDuration("RETENTION_QUOTES", 90*24*time.Hour),
		RetentionLog:     getEnvAsDuration("RETENTION_QUALITY_LOG", 365*24*time.Hour),
		RetentionMetrics: getEnvAsDuration("RETENTION_METRICS", 30*24*time.Hour),

		DataDir:  getEnv("DATA_DIR", "./data"),
		HTTPPort: getEnvAsInt("HTTP_PORT", 8080),

		BrokerBaseURL:  getEnv("BROKER_BASE_URL", "https://api.broker.example/v1"),
		BrokerTokenURL: getEnv("BROKER_TOKEN_URL", "https://api.broker.example/oauth/token"),

		S3ArchiveBucket: getEnv("S3_ARCHIVE_BUCKET", ""),
		S3ArchivePrefix: getEnv("S3_ARCHIVE_PREFIX", "optionpulse"),

		MaintenanceInterval: getEnvAsDuration("MAINTENANCE_INTERVAL", 24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		BackfillEnabled:     getEnvAsBool("BACKFILL_ENABLED", true),
		BackfillLookback:    getEnvAsInt("BACKFILL_LOOKBACK_BARS", 390),
		BackfillOptionEvery: getEnvAsInt("BACKFILL_OPTION_SAMPLING", 30),
	}

	apiKey, err := resolveSecret(secretLookup, "TRADERNET_API_KEY")
	if err != nil {
		return nil, err
	}
	apiSecret, err := resolveSecret(secretLookup, "TRADERNET_API_SECRET")
	if err != nil {
		return nil, err
	}
	refreshToken, err := resolveSecret(secretLookup, "BROKER_REFRESH_TOKEN")
	if err != nil {
		return nil, err
	}
	cfg.TradernetAPIKey = apiKey
	cfg.TradernetAPISecret = apiSecret
	cfg.RefreshToken = refreshToken

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields are present.
func (c *Config) Validate() error {
	if c.Underlying == "" {
		return fmt.Errorf("config: UNDERLYING is required")
	}
	if c.RefreshToken == "" || c.TradernetAPIKey == "" || c.TradernetAPISecret == "" {
		return fmt.Errorf("config: broker credentials are required (client id, secret, refresh token)")
	}
	return nil
}

func resolveSecret(lookup SecretLookup, key string) (string, error) {
	if lookup != nil {
		if v, err := lookup(key); err == nil && v != "" {
			return v, nil
		}
	}
	return getEnv(key, ""), nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	// Bare numeric env values (as named in spec.md §6, e.g. "60") are
	// seconds; suffixed values ("500ms") parse as a Go duration.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
