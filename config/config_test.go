package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LIBRARY_DB", "LOG_LEVEL", "LIBRARY_ENV", "ADMIN_USERNAME", "BCRYPT_COST"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "library.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "admin", cfg.Admin.Username)
	assert.False(t, cfg.Development())
}

func TestLoadFromEnvFile(t *testing.T) {
	for _, k := range []string{"LIBRARY_DB", "BCRYPT_COST", "LIBRARY_ENV"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LIBRARY_DB=/tmp/x.db\nBCRYPT_COST=5\nLIBRARY_ENV=development\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.BcryptCost)
	assert.True(t, cfg.Development())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", false)
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger("loud", false)
	require.Error(t, err)
}
