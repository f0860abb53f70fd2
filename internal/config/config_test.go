package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgresql://app:secret@db:5432/identity")
	t.Setenv("JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/identity", cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 1209600*time.Second, cfg.JWT.RefreshTTL)
	assert.Equal(t, 15*time.Minute, cfg.JWT.ResetTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.False(t, cfg.ExternalIDP.Enabled())
	assert.Equal(t, "external", cfg.ExternalIDP.Provider)
	assert.Equal(t, "mail.password_reset", cfg.Queue.MailQueue)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.Production())
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
}

func TestFromEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("EXTERNAL_IDP_JWKS_URL", "https://idp.example.com/.well-known/jwks.json")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("AMQP_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.True(t, cfg.Production())
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	assert.True(t, cfg.ExternalIDP.Enabled())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.Queue.URL)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestFromEnvRequiresSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing access secret", env: map[string]string{"JWT_ACCESS_SECRET": ""}},
		{name: "missing refresh secret", env: map[string]string{"JWT_REFRESH_SECRET": ""}},
		{name: "shared secrets", env: map[string]string{"JWT_REFRESH_SECRET": "access-secret"}},
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}},
		{name: "bcrypt cost", env: map[string]string{"BCRYPT_COST": "40"}},
		{name: "trusted proxies", env: map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8,not-an-ip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := fromEnv()
			assert.ErrorIs(t, err, ErrMissingConfig)
		})
	}
}

func TestResolveDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGUSER", "app")
	t.Setenv("PGPASSWORD", "pw")
	t.Setenv("PGDATABASE", "identity")
	t.Setenv("PGSSLMODE", "disable")

	assert.Equal(t, "postgres://app:pw@db.internal:5432/identity?sslmode=disable", resolveDatabaseURL())
}

func TestRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := loadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.TTL)
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := parseTrustedProxies(" 10.0.0.0/8, 192.168.1.7 ,,::1")
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.7/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())

	prefixes, err = parseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, prefixes)
}

func TestNewRedisClientDisabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), RedisConfig{})
	assert.NoError(t, err)
	assert.Nil(t, client)
}
