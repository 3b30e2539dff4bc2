package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.Addr)
	assert.Equal(t, "learnapp:18090", cfg.LearnHost)
	assert.True(t, cfg.CreateDefaultModel)
	assert.Equal(t, 64, cfg.MaxUploadMB)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_DRIVER=sqlite3\nMAX_UPLOAD_MB=8\n"), 0o644))
	t.Setenv("DETECT_ADDR", ":9000")
	// godotenv 는 이미 설정된 값을 덮어쓰지 않음
	t.Setenv("DB_DRIVER", "")
	os.Unsetenv("DB_DRIVER")
	t.Setenv("MAX_UPLOAD_MB", "")
	os.Unsetenv("MAX_UPLOAD_MB")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 8, cfg.MaxUploadMB)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
