package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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

	Auth      AuthConfig
	Payment   PaymentConfig
	Hub       HubConfig
	RateLimit RateLimitConfig
	Messages  MessagesConfig
	Bootstrap BootstrapConfig
	Scheduler SchedulerConfig
}

type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type PaymentConfig struct {
	// WebhookSecrets maps provider name to its shared signing secret.
	WebhookSecrets   map[string]string
	WebhookTolerance time.Duration
	StripeAPIKey     string
	StripeBaseURL    string
	Currency         string
}

type HubConfig struct {
	SendBuffer      int
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	DispatchWorkers int
	DispatchQueue   int
	AllowedOrigins  []string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CheckoutRate   float64
	CheckoutBurst  int
	LoginRate      float64
	LoginBurst     int
	WebhookLockTTL time.Duration
}

// SchedulerConfig drives the background order sweeper. A zero
// PendingOrderTTL leaves the sweeper off.
type SchedulerConfig struct {
	PendingOrderTTL time.Duration
	Interval        time.Duration
	BatchSize       int
}

type MessagesConfig struct {
	Path string
}

// BootstrapConfig seeds a fresh database. Empty admin credentials skip
// the admin account.
type BootstrapConfig struct {
	AdminEmail     string
	AdminPassword  string
	SampleProducts bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "storefront"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "storefront"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Auth: AuthConfig{
			JWTSecret:       strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			Issuer:          getenv("AUTH_JWT_ISSUER", "storefront"),
			AccessTokenTTL:  getenvDuration("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getenvDuration("AUTH_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		Payment: PaymentConfig{
			WebhookSecrets: map[string]string{
				"stripe": strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
				"adyen":  strings.TrimSpace(getenv("ADYEN_HMAC_KEY", "")),
			},
			WebhookTolerance: getenvDuration("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute),
			StripeAPIKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeBaseURL:    getenv("STRIPE_API_BASE", "https://api.stripe.com"),
			Currency:         strings.ToLower(getenv("PAYMENT_CURRENCY", "usd")),
		},
		Hub: HubConfig{
			SendBuffer:      getenvInt("HUB_SEND_BUFFER", 16),
			PingInterval:    getenvDuration("HUB_PING_INTERVAL", 15*time.Second),
			ReadTimeout:     getenvDuration("HUB_READ_TIMEOUT", 60*time.Second),
			DispatchWorkers: getenvInt("HUB_DISPATCH_WORKERS", 4),
			DispatchQueue:   getenvInt("HUB_DISPATCH_QUEUE", 1024),
			AllowedOrigins:  parseList(getenv("HUB_ALLOWED_ORIGINS", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword:  getenv("REDIS_PASSWORD", ""),
			RedisDB:        getenvInt("REDIS_DB", 0),
			CheckoutRate:   getenvFloat("RATE_LIMIT_CHECKOUT_RATE", 1),
			CheckoutBurst:  getenvInt("RATE_LIMIT_CHECKOUT_BURST", 5),
			LoginRate:      getenvFloat("RATE_LIMIT_LOGIN_RATE", 0.2),
			LoginBurst:     getenvInt("RATE_LIMIT_LOGIN_BURST", 5),
			WebhookLockTTL: getenvDuration("RATE_LIMIT_WEBHOOK_LOCK_TTL", 30*time.Second),
		},
		Messages: MessagesConfig{
			Path: getenv("MESSAGES_CONFIG_PATH", ""),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:     strings.ToLower(strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", ""))),
			AdminPassword:  getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
			SampleProducts: getenvBool("BOOTSTRAP_SAMPLE_PRODUCTS", false),
		},
		Scheduler: SchedulerConfig{
			PendingOrderTTL: getenvDuration("ORDER_PENDING_TTL", 0),
			Interval:        getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
