package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "SWEEP_INTERVAL", "RATE_LIMIT_REQUESTS", "RSA_KEY_BITS", "CORS_ORIGINS", "MAX_TTL"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.TimerHorizon)
	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 4096, cfg.RSAKeyBits)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoadParsesAndFallsBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("MAX_TTL", "3600")
	t.Setenv("RATE_LIMIT_REQUESTS", "many")
	t.Setenv("RSA_KEY_BITS", "1024")
	t.Setenv("DB_LOG_SQL", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, time.Hour, cfg.MaxTTL)
	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.Equal(t, 4096, cfg.RSAKeyBits)
	assert.True(t, cfg.DBLogSQL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingKeySecret)

	cfg.KeyEncryptionSecret = "kek"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAuth)

	cfg.JWTSecret = "short"
	assert.ErrorIs(t, cfg.Validate(), ErrWeakJWTSecret)

	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())

	assert.NoError(t, Config{KeyEncryptionSecret: "kek", JWKSURL: "https://idp.example/jwks"}.Validate())
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("BAZAAR_TEST_A=from-file\nBAZAAR_TEST_B=from-file\n"), 0o600))

	t.Setenv("BAZAAR_TEST_A", "from-env")
	t.Setenv("BAZAAR_TEST_B", "")
	os.Unsetenv("BAZAAR_TEST_B")

	LoadDotEnv(file, filepath.Join(dir, "missing.env"))

	assert.Equal(t, "from-env", os.Getenv("BAZAAR_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("BAZAAR_TEST_B"))
}
