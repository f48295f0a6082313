package owner

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/storage/postgres"
)

func TestMemory_Observe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.Observe(ctx, "A", "a@device")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = m.Observe(ctx, "A", "a@device")
	require.NoError(t, err)
	assert.False(t, first)

	_, err = m.Observe(ctx, "", "")
	assert.Error(t, err)
}

func TestPostgres_Observe(t *testing.T) {
	dsn := os.Getenv("SESSIONMUX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SESSIONMUX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Open(ctx, &postgres.Config{DSN: dsn}, corelog.NewNopLogger())
	require.NoError(t, err)
	defer db.Close()

	dir, err := NewPostgres(db, 16, corelog.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, dir.Migrate(ctx))

	ownerID := "test-" + uuid.NewString()
	defer db.Exec(ctx, `DELETE FROM owner_profiles WHERE owner_id = $1`, ownerID)

	first, err := dir.Observe(ctx, ownerID, "id")
	require.NoError(t, err)
	assert.True(t, first)

	// 新目录没有缓存，依赖 ON CONFLICT
	dir2, err := NewPostgres(db, 16, nil)
	require.NoError(t, err)
	first, err = dir2.Observe(ctx, ownerID, "id")
	require.NoError(t, err)
	assert.False(t, first)
}
