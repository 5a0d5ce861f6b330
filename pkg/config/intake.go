package config

import "time"

// IntakeConfig holds runtime configuration for the deployment-failure intake service.
type IntakeConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	WebhookSecret      string
	WebhookRequireAuth bool
	ReadRequireAuth    bool
	MaxBodyBytes       int64
	TrustProxyHeaders  bool

	AutoFixEnabled       bool
	InternalAPIURL       string
	InternalAPIToken     string
	InternalJWTSecret    string
	AutoFixTriggerPath   string
	AutoFixDelay         time.Duration
	AutoFixTimeout       time.Duration
	AutoFixRatePerSecond float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreKey           string
	StoreMaxRecords    int
	StoreRetention     time.Duration
	StoreTimeout       time.Duration
	FallbackStorePath  string
	FallbackMaxRecords int
	RetentionSweep     time.Duration

	RateLimitWebhook int
	RateLimitAPI     int
	RateLimitWindow  time.Duration
	RateLimitRedis   bool

	DatabaseURL   string
	MigrationsDir string
}

// LoadIntakeConfig constructs an IntakeConfig from environment variables.
func LoadIntakeConfig() IntakeConfig {
	return IntakeConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("INTAKE_ADDR", ":4100"),
		LogLevel:    GetString("LOG_LEVEL", "info"),

		WebhookSecret:      GetString("DEPLOYMENT_WEBHOOK_SECRET", ""),
		WebhookRequireAuth: GetBool("WEBHOOK_REQUIRE_AUTH", false),
		ReadRequireAuth:    GetBool("READ_REQUIRE_AUTH", true),
		MaxBodyBytes:       int64(GetInt("MAX_BODY_BYTES", 1<<20)),
		TrustProxyHeaders:  GetBool("TRUST_PROXY_HEADERS", false),

		AutoFixEnabled:       GetBool("AUTO_FIX_ENABLED", false),
		InternalAPIURL:       GetString("INTERNAL_API_URL", "http://localhost:3000"),
		InternalAPIToken:     GetString("INTERNAL_API_TOKEN", ""),
		InternalJWTSecret:    GetString("INTERNAL_JWT_SECRET", ""),
		AutoFixTriggerPath:   GetString("AUTO_FIX_TRIGGER_PATH", "/api/auto-fix/trigger"),
		AutoFixDelay:         GetSeconds("AUTO_FIX_DELAY_SECONDS", 5),
		AutoFixTimeout:       GetSeconds("AUTO_FIX_TIMEOUT_SECONDS", 10),
		AutoFixRatePerSecond: GetFloat("AUTO_FIX_RATE_PER_SECOND", 5),

		RedisAddr:     GetString("REDIS_ADDR", ""),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),

		StoreKey:           GetString("STORE_KEY", "deployment:errors"),
		StoreMaxRecords:    GetInt("STORE_MAX_RECORDS", 1000),
		StoreRetention:     time.Duration(GetInt("STORE_RETENTION_HOURS", 24)) * time.Hour,
		StoreTimeout:       time.Duration(GetInt("STORE_TIMEOUT_MS", 2000)) * time.Millisecond,
		FallbackStorePath:  GetString("FALLBACK_STORE_PATH", "data/deployment-errors.json"),
		FallbackMaxRecords: 100,
		RetentionSweep:     time.Duration(GetInt("RETENTION_SWEEP_MINUTES", 10)) * time.Minute,

		RateLimitWebhook: GetInt("RATE_LIMIT_WEBHOOK", 100),
		RateLimitAPI:     GetInt("RATE_LIMIT_API", 60),
		RateLimitWindow:  GetSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitRedis:   GetBool("RATE_LIMIT_REDIS", true),

		DatabaseURL:   GetString("DATABASE_URL", ""),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
	}
}
