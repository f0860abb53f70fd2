package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingConfig marks a required setting that is absent or invalid.
var ErrMissingConfig = errors.New("configuration error")

// Config centralises runtime configuration.
type Config struct {
	Env             string
	HTTPPort        string
	DatabaseURL     string
	AllowedOrigins  []string
	ReadTimeoutSec  int
	WriteTimeoutSec int
	IdleTimeoutSec  int

	JWT         JWTConfig
	BcryptCost  int
	ExternalIDP ExternalIDPConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Queue       QueueConfig
}

// JWTConfig holds signing secrets and token lifetimes.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	ResetSecret   string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

// ExternalIDPConfig describes the third-party identity provider. An empty
// JWKSURL disables it.
type ExternalIDPConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string
	Provider string
	JWKSTTL  time.Duration
	Timeout  time.Duration
}

// Enabled reports whether external tokens can be verified.
func (c ExternalIDPConfig) Enabled() bool { return c.JWKSURL != "" }

// QueueConfig locates the message broker. An empty URL means mail is logged
// instead of published.
type QueueConfig struct {
	URL       string
	MailQueue string
}

// Production reports whether the service runs in production.
func (c Config) Production() bool { return strings.EqualFold(c.Env, "production") }

// Load reads configuration from environment variables providing sane defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	httpPort := getEnv("HTTP_PORT", "")
	if httpPort == "" {
		httpPort = getEnv("PORT", "8080")
	}

	cfg := Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPPort:        httpPort,
		DatabaseURL:     resolveDatabaseURL(),
		AllowedOrigins:  splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		ReadTimeoutSec:  getIntEnv("HTTP_READ_TIMEOUT", 15),
		WriteTimeoutSec: getIntEnv("HTTP_WRITE_TIMEOUT", 15),
		IdleTimeoutSec:  getIntEnv("HTTP_IDLE_TIMEOUT", 60),
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
			ResetSecret:   getEnv("JWT_RESET_SECRET", ""),
			Issuer:        getEnv("JWT_ISSUER", ""),
			AccessTTL:     getDurationEnv("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    getDurationEnv("JWT_REFRESH_TTL", 336*time.Hour),
			ResetTTL:      getDurationEnv("JWT_RESET_TTL", 15*time.Minute),
		},
		BcryptCost: getIntEnv("BCRYPT_COST", 12),
		ExternalIDP: ExternalIDPConfig{
			JWKSURL:  getEnv("EXTERNAL_IDP_JWKS_URL", ""),
			Issuer:   getEnv("EXTERNAL_IDP_ISSUER", ""),
			Audience: getEnv("EXTERNAL_IDP_AUDIENCE", ""),
			Provider: getEnv("EXTERNAL_IDP_PROVIDER", "external"),
			JWKSTTL:  getDurationEnv("EXTERNAL_IDP_JWKS_TTL", 10*time.Minute),
			Timeout:  getDurationEnv("EXTERNAL_IDP_TIMEOUT", 5*time.Second),
		},
		Redis:     loadRedisConfig(),
		RateLimit: loadRateLimitConfig(),
		Queue: QueueConfig{
			URL:       firstNonEmpty(os.Getenv("RABBITMQ_URL"), os.Getenv("AMQP_URL")),
			MailQueue: getEnv("MAIL_QUEUE", "mail.password_reset"),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%w: provide DATABASE_URL or PG* env vars", ErrMissingConfig)
	}
	if cfg.JWT.AccessSecret == "" {
		return Config{}, fmt.Errorf("%w: JWT_ACCESS_SECRET is required", ErrMissingConfig)
	}
	if cfg.JWT.RefreshSecret == "" {
		return Config{}, fmt.Errorf("%w: JWT_REFRESH_SECRET is required", ErrMissingConfig)
	}
	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		return Config{}, fmt.Errorf("%w: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ", ErrMissingConfig)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return Config{}, fmt.Errorf("%w: BCRYPT_COST must be between 4 and 31", ErrMissingConfig)
	}
	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: TRUSTED_PROXIES: %v", ErrMissingConfig, err)
	}
	cfg.RateLimit.TrustedProxies = proxies
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := []string{}
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return []string{"*"}
	}
	return parts
}

func resolveDatabaseURL() string {
	for _, key := range []string{
		"DATABASE_URL",
		"DATABASE_PUBLIC_URL",
		"DATABASE_INTERNAL_URL",
		"POSTGRES_URL",
		"PGURL",
	} {
		if coerced := coerceDatabaseURL(os.Getenv(key)); coerced != "" {
			return coerced
		}
	}
	if coerced := coerceDatabaseURL(readEnvFile("DATABASE_URL_FILE")); coerced != "" {
		return coerced
	}

	host := firstNonEmpty(os.Getenv("PGHOST"), os.Getenv("POSTGRES_HOST"), os.Getenv("DATABASE_HOST"))
	user := firstNonEmpty(os.Getenv("PGUSER"), os.Getenv("POSTGRES_USER"), os.Getenv("DATABASE_USER"))
	if host == "" || user == "" {
		return ""
	}
	password := firstNonEmpty(os.Getenv("PGPASSWORD"), os.Getenv("POSTGRES_PASSWORD"), os.Getenv("DATABASE_PASSWORD"))
	database := firstNonEmpty(os.Getenv("PGDATABASE"), os.Getenv("POSTGRES_DB"), os.Getenv("DATABASE_NAME"), user)
	port := firstNonEmpty(os.Getenv("PGPORT"), os.Getenv("POSTGRES_PORT"), os.Getenv("DATABASE_PORT"), "5432")
	sslMode := firstNonEmpty(os.Getenv("PGSSLMODE"), os.Getenv("POSTGRES_SSL_MODE"), "require")

	dsn := &neturl.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + database,
		User:   neturl.User(user),
	}
	if password != "" {
		dsn.User = neturl.UserPassword(user, password)
	}
	query := dsn.Query()
	query.Set("sslmode", sslMode)
	dsn.RawQuery = query.Encode()
	return dsn.String()
}

func coerceDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "postgres://"):
		return raw
	case strings.HasPrefix(raw, "postgresql://"):
		return "postgres://" + strings.TrimPrefix(raw, "postgresql://")
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func readEnvFile(key string) string {
	path := os.Getenv(key)
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
