package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "sessionmux-core/internal/core/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: from-yaml
session:
  restart_delay: 4s
  max_attempts: 4
`)
	t.Setenv("SESSIONMUX_SESSION_RESTART_DELAY", "1500ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-yaml", cfg.Instance.ID)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.RestartDelay, "env overrides yaml")
	assert.Equal(t, 4, cfg.Session.MaxAttempts, "yaml overrides defaults")
	assert.Equal(t, 3*time.Second, cfg.Session.StabilizeDelay, "defaults fill the rest")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
storage:
  postgres:
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
	assert.Contains(t, err.Error(), "storage.postgres.dsn")
}

func TestLoad_SkipValidate(t *testing.T) {
	path := writeConfig(t, "instance:\n  id: \"\"\n")
	cfg, err := NewBuilder().WithConfigFile(path).WithSkipValidate(true).Build().Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Instance.ID)
}

func TestLoader_NoSources(t *testing.T) {
	_, err := NewLoader().Load()
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
}

func TestBuilder_CustomPrefix(t *testing.T) {
	t.Setenv("SMXTEST_INSTANCE_ID", "prefixed")
	cfg, err := NewBuilder().WithPrefix("SMXTEST").WithConfigFile(filepath.Join(t.TempDir(), "none.yaml")).Build().Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Instance.ID)
}
