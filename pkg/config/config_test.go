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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, KnownProviders, cfg.Providers)
	assert.Equal(t, 3, cfg.MaxFailures)
	assert.Equal(t, 5*time.Minute, cfg.RecoveryAfter)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 60*time.Second, cfg.TTLs().Quote)
	assert.Equal(t, 0.10, cfg.Assumptions().DiscountRate)
	assert.Equal(t, 5, cfg.Assumptions().ProjectionYears)
}

func TestLoadEnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"TIINGO_API_KEY=from-file\nSTOCKMETER_PROVIDERS=Tiingo, yahoo\nSTOCKMETER_MAX_FAILURES=5\n"), 0o600))
	t.Setenv("STOCKMETER_MAX_FAILURES", "7")
	t.Setenv("STOCKMETER_CACHE", " SQLite ")
	// godotenv sets process variables; register them for cleanup.
	t.Setenv("TIINGO_API_KEY", "")
	os.Unsetenv("TIINGO_API_KEY")
	t.Setenv("STOCKMETER_PROVIDERS", "")
	os.Unsetenv("STOCKMETER_PROVIDERS")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.TiingoKey)
	assert.Equal(t, []string{"tiingo", "yahoo"}, cfg.Providers)
	assert.Equal(t, 7, cfg.MaxFailures, "environment wins over .env")
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("STOCKMETER_RECOVERY_AFTER", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	cfg.Providers = []string{"yahoo", "bloomberg", "yahoo"}
	cfg.MaxFailures = 0
	cfg.CacheBackend = "redis"
	cfg.AlpacaKey = "key-only"
	cfg.TerminalGrowth = 0.2

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown provider "bloomberg"`)
	assert.Contains(t, msg, `provider "yahoo" listed twice`)
	assert.Contains(t, msg, "STOCKMETER_MAX_FAILURES")
	assert.Contains(t, msg, `unknown cache backend "redis"`)
	assert.Contains(t, msg, "ALPACA_API_KEY and ALPACA_SECRET_KEY")
	assert.Contains(t, msg, "terminal growth")
}
