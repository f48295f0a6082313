package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session/model"
	"sessionmux-core/internal/session/store"
)

func TestManager_LoggedOutDeletesAndSuppressesRestart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	require.NoError(t, h.settings.Set(ctx, "1", "lang", "en"))

	log := &statusLog{}
	handle := h.connect(key, log.callback())
	_, ok, err := h.store.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, handle.CloseWith(ReasonLoggedOut, 401))

	require.Eventually(t, func() bool { return h.mgr.Guard().IsDeleted(key) && log.has(StatusDeleted) }, waitFor, tick)
	_, ok, err = h.store.Load(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	settings, err := h.settings.GetAll(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, settings)
	assert.Nil(t, h.mgr.Registry().Get(key))
	assert.Equal(t, ReasonLoggedOut, log.detailOf(StatusDeleted))

	// 等过重启延迟，不应再有启动
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.prov.StartCount(key))
	assert.False(t, log.has(StatusRestarting))
}

func TestManager_ConnectionLostRestartsOnce(t *testing.T) {
	h := newHarness(t, nil)
	key := model.NewKey("A", "1")
	h.knownOwner("A")

	log := &statusLog{}
	first := h.connect(key, log.callback())
	require.True(t, first.CloseWith(ReasonConnectionLost, 0))

	require.Eventually(t, func() bool { return h.prov.StartCount(key) == 2 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, h.prov.StartCount(key))
	assert.True(t, first.IsClosed())
	assert.False(t, h.mgr.Guard().IsDeleted(key))
	assert.Equal(t, ReasonConnectionLost, log.detailOf(StatusRestarting))

	second := h.prov.Latest(key)
	require.NotSame(t, first, second)
	require.True(t, second.Open())
	require.Eventually(t, func() bool {
		s := h.mgr.Registry().Get(key)
		return s != nil && s.Handle == second
	}, waitFor, tick)
}

func TestManager_UnknownReasonTreatedAsRecoverable(t *testing.T) {
	h := newHarness(t, nil)
	key := model.NewKey("A", "1")
	h.knownOwner("A")

	log := &statusLog{}
	handle := h.connect(key, log.callback())
	require.True(t, handle.CloseWith("streamErrored", 0))

	require.Eventually(t, func() bool { return h.prov.StartCount(key) == 2 }, waitFor, tick)
	assert.Equal(t, "unclassified close reason: streamErrored", log.detailOf(StatusRestarting))
}

func TestManager_DeleteDuringRestartDelayDropsRestart(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RestartDelay = 80 * time.Millisecond })
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")

	handle := h.connect(key, nil)
	require.True(t, handle.CloseWith(ReasonConnectionClosed, 0))
	require.Eventually(t, func() bool { return handle.IsClosed() }, waitFor, tick)

	require.NoError(t, h.mgr.Delete(ctx, key, nil))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.prov.StartCount(key))
	assert.Nil(t, h.mgr.Registry().Get(key))
}

func TestManager_CloseAfterDeleteNeverRestarts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")

	handle := h.connect(key, nil)
	require.NoError(t, h.mgr.Delete(ctx, key, nil))

	// 句柄已被释放，迟到的 close 无法投递
	assert.False(t, handle.CloseWith(ReasonConnectionLost, 0))

	result := h.mgr.Restart(ctx, key, nil)
	assert.False(t, result.Success)
	assert.True(t, errors.Is(result.Err, coreerrors.ErrSessionDeleted))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.prov.StartCount(key))
}

func TestManager_RestartExhaustedLeavesNoEntry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")

	h.connect(key, nil)
	h.prov.FailNextStarts(key, 3)

	log := &statusLog{}
	result := h.mgr.Restart(ctx, key, log.callback())

	assert.False(t, result.Success)
	assert.True(t, errors.Is(result.Err, coreerrors.ErrRestartExhausted))
	assert.Nil(t, h.mgr.Registry().Get(key))
	assert.Empty(t, h.mgr.Sessions())
	assert.Equal(t, 4, h.prov.StartCount(key))
	assert.Equal(t, []Status{StatusStopping, StatusStarting, StatusRegistrationFailed}, log.statuses())
}

func TestManager_RestartSuccess(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.StabilizeDelay = 50 * time.Millisecond })
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	first := h.connect(key, nil)

	// 新句柄在稳定等待期间打开
	go func() {
		deadline := time.Now().Add(waitFor)
		for time.Now().Before(deadline) {
			if latest := h.prov.Latest(key); latest != nil && latest != first {
				latest.Open()
				return
			}
			time.Sleep(tick)
		}
	}()

	log := &statusLog{}
	result := h.mgr.Restart(ctx, key, log.callback())
	require.True(t, result.Success)
	assert.True(t, first.IsClosed())
	assert.Equal(t, []Status{StatusStopping, StatusStarting, StatusConnected}, log.statuses())

	require.Eventually(t, func() bool {
		s := h.mgr.Registry().Get(key)
		return s != nil && s == result.Session
	}, waitFor, tick)
}

func TestManager_ConcurrentRestartsDeduplicated(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.SettleDelay = 50 * time.Millisecond })
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	h.connect(key, nil)

	done := make(chan RestartResult, 1)
	go func() { done <- h.mgr.Restart(ctx, key, nil) }()
	require.Eventually(t, func() bool { return h.mgr.coordinator.InProgress(key) }, waitFor, tick)

	log := &statusLog{}
	second := h.mgr.Restart(ctx, key, log.callback())
	assert.True(t, errors.Is(second.Err, coreerrors.ErrAlreadyInProgress))
	assert.Equal(t, []Status{StatusAlreadyInProgress}, log.statuses())

	assert.True(t, (<-done).Success)
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	h := newHarness(t, nil)
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	h.connect(key, nil)

	log := &statusLog{}
	err := h.mgr.Start(context.Background(), key, log.callback())
	assert.True(t, errors.Is(err, coreerrors.ErrAlreadyRunning))
	assert.Equal(t, []Status{StatusAlreadyRunning}, log.statuses())
	assert.Equal(t, 1, h.prov.StartCount(key))
}

func TestManager_StartInvalidKey(t *testing.T) {
	h := newHarness(t, nil)
	err := h.mgr.Start(context.Background(), model.NewKey("", "1"), nil)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
	assert.Equal(t, 0, h.prov.StartCount(model.NewKey("", "1")))
}

func TestManager_ProviderStartFailureReported(t *testing.T) {
	h := newHarness(t, nil)
	key := model.NewKey("A", "1")
	h.prov.FailNextStarts(key, 1)

	log := &statusLog{}
	err := h.mgr.Start(context.Background(), key, log.callback())
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProviderError))
	assert.Equal(t, []Status{StatusStarting, StatusRegistrationFailed}, log.statuses())
	assert.Empty(t, h.mgr.Sessions())
}

func TestManager_FirstSeenOwnerRunsInitialRestart(t *testing.T) {
	h := newHarness(t, nil)
	key := model.NewKey("new-owner", "1")

	log := &statusLog{}
	require.NoError(t, h.mgr.Start(context.Background(), key, log.callback()))
	first := h.prov.Latest(key)
	require.True(t, first.Open())

	require.Eventually(t, func() bool { return h.prov.StartCount(key) == 2 }, waitFor, tick)
	second := h.prov.Latest(key)
	require.True(t, second.Open())

	require.Eventually(t, func() bool {
		statuses := log.statuses()
		return len(statuses) >= 5 && statuses[len(statuses)-1] == StatusConnected
	}, waitFor, tick)
	assert.Equal(t, []Status{StatusStarting, StatusConnected, StatusStopping, StatusStarting, StatusConnected}, log.statuses())
	assert.True(t, first.IsClosed())

	seen, err := h.owners.Observe(context.Background(), "new-owner", "new-owner")
	require.NoError(t, err)
	assert.False(t, seen)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.prov.StartCount(key))
}

func TestManager_PersistsCredentialAndKeyMaterialUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	handle := h.connect(key, nil)

	require.True(t, handle.Emit(provider.Event{Type: provider.EventCredentialUpdate, Credentials: []byte("rotated")}))
	require.True(t, handle.Emit(provider.Event{Type: provider.EventKeyMaterialUpdate, KeyMaterial: model.KeyMaterial{
		"pre-key": {"1": []byte{0x00, 0xff}},
	}}))

	require.Eventually(t, func() bool {
		rec, ok, err := h.store.Load(ctx, key)
		if err != nil || !ok {
			return false
		}
		_, hasKey := rec.KeyMaterial.Get("pre-key", "1")
		return string(rec.Credentials) == "rotated" && hasKey
	}, waitFor, tick)

	// 读视图对提供方可见
	got, err := h.store.KeysFor(key).Get(ctx, "pre-key", []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, got["1"])

	// 重启时带上最新凭据
	require.True(t, handle.CloseWith(ReasonRestartRequired, 515))
	require.Eventually(t, func() bool { return h.prov.StartCount(key) == 2 }, waitFor, tick)
	assert.Equal(t, []byte("rotated"), h.prov.Latest(key).Credentials)
}

func TestManager_ExplicitStartAfterDeleteIsFreshRegistration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	h.connect(key, nil)
	require.NoError(t, h.mgr.Delete(ctx, key, nil))
	require.True(t, h.mgr.Guard().IsDeleted(key))

	h.connect(key, nil)
	assert.False(t, h.mgr.Guard().IsDeleted(key))
	assert.Equal(t, 2, h.prov.StartCount(key))
}

func TestManager_StopDoesNotRestartOrDelete(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	handle := h.connect(key, nil)

	require.NoError(t, h.mgr.Stop(ctx, key))
	assert.True(t, handle.IsClosed())
	assert.Nil(t, h.mgr.Registry().Get(key))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.prov.StartCount(key))
	_, ok, err := h.store.Load(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, coreerrors.IsNotFound(h.mgr.Stop(ctx, key)))
}

func TestManager_ResumeStartsActiveRecords(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	active := []model.Key{model.NewKey("A", "1"), model.NewKey("B", "2")}
	for _, key := range active {
		require.NoError(t, h.store.Save(ctx, key, model.StatusActive, []byte("c-"+key.OwnerID), nil))
	}
	require.NoError(t, h.store.Save(ctx, model.NewKey("C", "3"), model.StatusDeleted, nil, nil))

	started, err := h.mgr.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	for _, key := range active {
		assert.Equal(t, 1, h.prov.StartCount(key))
		assert.Equal(t, []byte("c-"+key.OwnerID), h.prov.Latest(key).Credentials)
	}
	assert.Equal(t, 0, h.prov.StartCount(model.NewKey("C", "3")))
	assert.Len(t, h.mgr.Sessions(), 2)
}

func TestManager_EventStreamEndWithoutCloseRestarts(t *testing.T) {
	h := newHarness(t, nil)
	key := model.NewKey("A", "1")
	h.knownOwner("A")
	handle := h.connect(key, nil)

	// 提供方自行关闭句柄，没有 close 事件
	require.NoError(t, handle.Close())
	require.Eventually(t, func() bool { return h.prov.StartCount(key) == 2 }, waitFor, tick)
}

func TestManager_ShutdownReleasesAll(t *testing.T) {
	h := newHarness(t, nil)
	h.knownOwner("A")
	h1 := h.connect(model.NewKey("A", "1"), nil)
	h2 := h.connect(model.NewKey("A", "2"), nil)

	require.NoError(t, h.mgr.Shutdown(context.Background()))
	assert.True(t, h1.IsClosed())
	assert.True(t, h2.IsClosed())
	assert.Equal(t, 0, h.mgr.Registry().Len())
	assert.True(t, errors.Is(h.mgr.Start(context.Background(), model.NewKey("A", "3"), nil), coreerrors.ErrClosed))
}

// deletingStore 在首次 key material 写入前执行删除，模拟删除与写入交错
type deletingStore struct {
	*store.DualTier
	once     sync.Once
	onDelete func()
	written  chan struct{}
}

func (s *deletingStore) Save(ctx context.Context, key model.Key, status model.Status, credentials []byte, km model.KeyMaterial) error {
	if km.Len() == 0 {
		return s.DualTier.Save(ctx, key, status, credentials, km)
	}
	fired := false
	s.once.Do(func() {
		s.onDelete()
		fired = true
	})
	err := s.DualTier.Save(ctx, key, status, credentials, km)
	if fired {
		close(s.written)
	}
	return err
}

func TestManager_DeleteDuringSaveDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	key := model.NewKey("A", "1")
	ds := &deletingStore{written: make(chan struct{})}

	var h *harness
	h = newHarness(t, func(cfg *Config) {
		ds.DualTier = cfg.Store.(*store.DualTier)
		ds.onDelete = func() {
			assert.NoError(t, h.mgr.Delete(ctx, key, nil))
		}
		cfg.Store = ds
	})
	h.knownOwner("A")
	handle := h.connect(key, nil)

	require.True(t, handle.Emit(provider.Event{Type: provider.EventKeyMaterialUpdate, KeyMaterial: model.KeyMaterial{
		"pre-key": {"1": []byte{0x01}},
	}}))
	select {
	case <-ds.written:
	case <-time.After(waitFor):
		t.Fatal("key material write never happened")
	}

	require.Eventually(t, func() bool {
		_, found, err := h.store.Load(ctx, key)
		return err == nil && !found
	}, waitFor, tick)
	assert.True(t, h.mgr.Guard().IsDeleted(key))

	// 新进程的删除保护为空，本地缓存不能留下可恢复的记录
	fresh, err := NewManager(ctx, Config{
		Provider: h.prov,
		Store:    h.store,
		Logger:   corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	defer fresh.Close()
	started, err := fresh.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)
}
