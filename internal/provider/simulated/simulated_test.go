package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session/model"
)

func TestFactory_Options(t *testing.T) {
	assert.Contains(t, provider.Registered(), Name)

	p, err := provider.New(Name, map[string]string{"auto_open": "true", "open_delay": "15ms"})
	require.NoError(t, err)
	sim := p.(*Provider)
	assert.True(t, sim.AutoOpen)
	assert.Equal(t, 15*time.Millisecond, sim.OpenDelay)

	_, err = provider.New(Name, map[string]string{"open_delay": "soon"})
	assert.Error(t, err)
	_, err = provider.New("missing", nil)
	assert.Error(t, err)
}

func TestProvider_AutoOpen(t *testing.T) {
	p := New()
	p.AutoOpen = true
	key := model.NewKey("alice", "phone")

	h, err := p.Start(context.Background(), provider.Config{Key: key, Credentials: []byte("c")})
	require.NoError(t, err)

	select {
	case ev := <-h.Events():
		assert.Equal(t, provider.EventStatusOpen, ev.Type)
		assert.Equal(t, "alice", ev.Identity)
	case <-time.After(time.Second):
		t.Fatal("no status-open event")
	}
	assert.Equal(t, []byte("c"), p.Latest(key).Credentials)
}

func TestProvider_FailNextStarts(t *testing.T) {
	p := New()
	key := model.NewKey("bob", "tablet")
	p.FailNextStarts(key, 2)

	for i := 0; i < 2; i++ {
		_, err := p.Start(context.Background(), provider.Config{Key: key})
		assert.Error(t, err)
	}
	_, err := p.Start(context.Background(), provider.Config{Key: key})
	require.NoError(t, err)
	assert.Equal(t, 3, p.StartCount(key))
	assert.Len(t, p.Handles(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Start(ctx, provider.Config{Key: key})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandle_CloseStopsEvents(t *testing.T) {
	p := New()
	h, err := p.Start(context.Background(), provider.Config{Key: model.NewKey("carol", "laptop")})
	require.NoError(t, err)
	sim := h.(*Handle)

	assert.True(t, sim.CloseWith("network", 0))
	require.NoError(t, sim.Close())
	require.NoError(t, sim.Close())
	assert.True(t, sim.IsClosed())
	assert.Equal(t, 2, sim.CloseCalls())
	assert.False(t, sim.Open(), "emit after close is dropped")

	ev, ok := <-sim.Events()
	require.True(t, ok, "buffered event is still delivered")
	assert.Equal(t, provider.EventStatusClose, ev.Type)
	_, ok = <-sim.Events()
	assert.False(t, ok)
}

func TestHandle_EmitCopiesKeyMaterial(t *testing.T) {
	p := New()
	h, err := p.Start(context.Background(), provider.Config{Key: model.NewKey("dave", "watch")})
	require.NoError(t, err)
	sim := h.(*Handle)

	km := model.KeyMaterial{"pre-key": {"1": []byte{0x01}}}
	require.True(t, sim.Emit(provider.Event{Type: provider.EventKeyMaterialUpdate, KeyMaterial: km}))
	km["pre-key"]["1"][0] = 0xff

	ev := <-sim.Events()
	blob, ok := ev.KeyMaterial.Get("pre-key", "1")
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, blob)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "status-open", provider.EventStatusOpen.String())
	assert.Equal(t, "key-material-update", provider.EventKeyMaterialUpdate.String())
	assert.Equal(t, "event(42)", provider.EventType(42).String())
}
