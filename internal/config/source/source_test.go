package source

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionmux-core/internal/config/schema"
	coreerrors "sessionmux-core/internal/core/errors"
)

func TestDefaultSource_SessionTimings(t *testing.T) {
	cfg := &schema.Root{}
	require.NoError(t, NewDefaultSource().LoadInto(cfg))

	assert.Equal(t, 2*time.Second, cfg.Session.RestartDelay)
	assert.Equal(t, 5*time.Second, cfg.Session.SettleDelay)
	assert.Equal(t, 3*time.Second, cfg.Session.StabilizeDelay)
	assert.Equal(t, 3, cfg.Session.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Session.AttemptBackoff)
	assert.Equal(t, 30*time.Second, cfg.Session.TicketTTL)
	assert.Equal(t, 10*time.Second, cfg.Session.ProvisionTimeout)
	assert.Equal(t, 5*time.Second, cfg.Storage.Sync.Delay)
	assert.False(t, cfg.Storage.Postgres.Enabled)
	assert.True(t, cfg.Storage.Redis.Embedded)
}

func TestYAMLSource_OverridesAndSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessionmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instance:
  id: node-a
session:
  restart_delay: 750ms
storage:
  postgres:
    enabled: true
    dsn: postgres://u:p@localhost/smx
  sync:
    concurrency: 2
provider:
  name: simulated
  options:
    auto_open: "false"
`), 0o600))

	cfg := &schema.Root{}
	require.NoError(t, NewDefaultSource().LoadInto(cfg))
	require.NoError(t, NewYAMLSource(filepath.Join(dir, "missing.yaml"), path).LoadInto(cfg))

	assert.Equal(t, "node-a", cfg.Instance.ID)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.RestartDelay)
	assert.Equal(t, 5*time.Second, cfg.Session.SettleDelay, "untouched defaults survive")
	assert.True(t, cfg.Storage.Postgres.Enabled)
	assert.Equal(t, "postgres://u:p@localhost/smx", cfg.Storage.Postgres.DSN.Value())
	assert.Equal(t, 2, cfg.Storage.Sync.Concurrency)
	assert.Equal(t, "false", cfg.Provider.Options["auto_open"])
}

func TestYAMLSource_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session: [unclosed"), 0o600))

	err := NewYAMLSource(path).LoadInto(&schema.Root{})
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
}

func TestEnvSource_LoadInto(t *testing.T) {
	t.Setenv("SESSIONMUX_INSTANCE_ID", "node-env")
	t.Setenv("SESSIONMUX_SESSION_MAX_ATTEMPTS", "5")
	t.Setenv("SESSIONMUX_SYNC_RATE", "12.5")
	t.Setenv("SESSIONMUX_POSTGRES_MAX_CONNS", "4")
	t.Setenv("SESSIONMUX_REDIS_EMBEDDED", "false")
	t.Setenv("SESSIONMUX_SEAL_KEY", "secret")
	t.Setenv("SESSIONMUX_PROVIDER_OPTIONS", "open_delay=10ms, auto_open=true,broken")
	t.Setenv("SESSIONMUX_SESSION_RESTART_DELAY", "not-a-duration")

	cfg := &schema.Root{}
	require.NoError(t, NewDefaultSource().LoadInto(cfg))
	require.NoError(t, NewEnvSource(DefaultEnvPrefix).LoadInto(cfg))

	assert.Equal(t, "node-env", cfg.Instance.ID)
	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, 12.5, cfg.Storage.Sync.Rate)
	assert.Equal(t, int32(4), cfg.Storage.Postgres.MaxConns)
	assert.False(t, cfg.Storage.Redis.Embedded)
	assert.Equal(t, "secret", cfg.Storage.SealKey.Value())
	assert.Equal(t, map[string]string{"open_delay": "10ms", "auto_open": "true"}, cfg.Provider.Options)
	assert.Equal(t, 2*time.Second, cfg.Session.RestartDelay, "invalid values are ignored")
}

func TestByPriority(t *testing.T) {
	sources := []Source{NewEnvSource(DefaultEnvPrefix), NewDefaultSource(), NewYAMLSource()}
	sort.Sort(ByPriority(sources))
	assert.Equal(t, []string{"defaults", "yaml", "env"}, []string{sources[0].Name(), sources[1].Name(), sources[2].Name()})
}
