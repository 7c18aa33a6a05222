package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, DriverMemory, c.StoreDriver)
	assert.Equal(t, 24*time.Hour, c.TokenTTL)
	assert.True(t, decimal.NewFromInt(20).Equal(c.CoinsPerUnit()))
	assert.Equal(t, slog.LevelInfo, c.LogLevel())
	assert.Equal(t, []string{"http://localhost:3000"}, c.AllowedOrigins())
	assert.Equal(t, "0.0.0.0:8080", c.Addr())
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COINS_PER_CURRENCY_UNIT=12.5\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("PORT", "9999")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	// godotenv sets these; make sure they are cleared afterwards.
	t.Setenv("COINS_PER_CURRENCY_UNIT", "")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("COINS_PER_CURRENCY_UNIT")
	os.Unsetenv("LOG_LEVEL")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", c.Port)
	assert.True(t, decimal.RequireFromString("12.5").Equal(c.CoinsPerUnit()))
	assert.Equal(t, slog.LevelDebug, c.LogLevel())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins())
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"driver":      {"STORE_DRIVER", "mysql"},
		"rate":        {"COINS_PER_CURRENCY_UNIT", "0"},
		"level":       {"LOG_LEVEL", "loud"},
		"admin email": {"ADMIN_EMAIL", "root@example.com"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
