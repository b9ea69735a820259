package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultTablePrefix, cfg.TablePrefix)
	assert.Equal(t, DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultMaxPageSize, cfg.MaxPageSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"database_path: /var/lib/dynabo/data.db\napi_port: 9090\nquery_timeout: 5s\n",
	), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "/var/lib/dynabo/data.db", cfg.DatabasePath)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultTablePrefix, cfg.TablePrefix)
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Equal(t, DefaultAPIPort, cfg.APIPort)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_port: [oops\n"), 0o644))

	cfg := NewDefaultConfig()
	assert.Error(t, cfg.LoadFile(path))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/env.db")
	t.Setenv("TABLE_PREFIX", "obj_")
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "3000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_PAGE_SIZE", "250")
	t.Setenv("QUERY_TIMEOUT", "45s")
	t.Setenv("SHUTDOWN_TIMEOUT", "2s")

	cfg := NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "/tmp/env.db", cfg.DatabasePath)
	assert.Equal(t, "obj_", cfg.TablePrefix)
	assert.Equal(t, "127.0.0.1:3000", cfg.ListenAddr())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.MaxPageSize)
	assert.Equal(t, 45*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	for _, tc := range []struct{ key, value string }{
		{"API_PORT", "not-a-port"},
		{"API_PORT", "70000"},
		{"API_PORT", "0"},
		{"MAX_PAGE_SIZE", "-5"},
		{"QUERY_TIMEOUT", "soon"},
		{"SHUTDOWN_TIMEOUT", "-1s"},
	} {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			cfg := NewDefaultConfig()
			assert.Error(t, cfg.LoadFromEnv())
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DatabasePath = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidDatabasePath)

	cfg = NewDefaultConfig()
	cfg.APIPort = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidAPIPort)

	cfg = NewDefaultConfig()
	cfg.MaxPageSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMaxPageSize)

	cfg = NewDefaultConfig()
	cfg.QueryTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidQueryTimeout)
}
