package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/owner"
	"sessionmux-core/internal/provider/simulated"
	"sessionmux-core/internal/session/model"
	"sessionmux-core/internal/session/store"
)

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

type statusLog struct {
	mu      sync.Mutex
	entries []statusEntry
}

type statusEntry struct {
	Status Status
	Detail string
}

func (l *statusLog) callback() StatusCallback {
	return func(status Status, detail string) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.entries = append(l.entries, statusEntry{status, detail})
	}
}

func (l *statusLog) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Status)
	}
	return out
}

func (l *statusLog) has(status Status) bool {
	for _, s := range l.statuses() {
		if s == status {
			return true
		}
	}
	return false
}

func (l *statusLog) detailOf(status Status) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Status == status {
			return e.Detail
		}
	}
	return ""
}

type harness struct {
	t        *testing.T
	mr       *miniredis.Miniredis
	client   *redis.Client
	store    *store.DualTier
	settings *store.RedisDeviceSettings
	prov     *simulated.Provider
	owners   *owner.Memory
	mgr      *Manager
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	settings := store.NewRedisDeviceSettings(client, "smx:", "prefs")
	st, err := store.New(ctx, store.Config{
		InstanceID: "node-1",
		Local:      store.NewRedisCache(client, "smx:", corelog.NewNopLogger()),
		Purgers:    []store.DeviceSettingsPurger{settings},
		Logger:     corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		t:        t,
		mr:       mr,
		client:   client,
		store:    st,
		settings: settings,
		prov:     simulated.New(),
		owners:   owner.NewMemory(),
	}

	cfg := Config{
		Provider:         h.prov,
		Store:            st,
		Owners:           h.owners,
		RestartDelay:     20 * time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
		StabilizeDelay:   10 * time.Millisecond,
		AttemptBackoff:   5 * time.Millisecond,
		TicketTTL:        time.Second,
		ProvisionTimeout: 100 * time.Millisecond,
		Logger:           corelog.NewNopLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := NewManager(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	h.mgr = mgr
	return h
}

// knownOwner 预先登记 owner，避免首次注册触发初始重启
func (h *harness) knownOwner(ownerID string) {
	_, err := h.owners.Observe(context.Background(), ownerID, ownerID)
	require.NoError(h.t, err)
}

// connect 启动并发出 status-open，等待会话进入注册表
func (h *harness) connect(key model.Key, cb StatusCallback) *simulated.Handle {
	h.t.Helper()
	require.NoError(h.t, h.mgr.Start(context.Background(), key, cb))
	handle := h.prov.Latest(key)
	require.NotNil(h.t, handle)
	require.True(h.t, handle.Open())
	require.Eventually(h.t, func() bool {
		s := h.mgr.Registry().Get(key)
		return s != nil && s.Handle == handle
	}, waitFor, tick)
	return handle
}
