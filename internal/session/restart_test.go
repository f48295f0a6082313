package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/session/model"
)

func newTestCoordinator(stop func(model.Key)) *RestartCoordinator {
	return NewRestartCoordinator(RestartConfig{
		SettleDelay:    5 * time.Millisecond,
		StabilizeDelay: 5 * time.Millisecond,
		MaxAttempts:    3,
		AttemptBackoff: 5 * time.Millisecond,
		TicketTTL:      time.Second,
		Stop:           stop,
		Logger:         corelog.NewNopLogger(),
	})
}

func TestRestartCoordinator_SuccessSequence(t *testing.T) {
	key := model.NewKey("A", "1")
	var stopped atomic.Int32
	c := newTestCoordinator(func(k model.Key) {
		assert.Equal(t, key, k)
		stopped.Add(1)
	})
	log := &statusLog{}
	live := newLiveSession(key, nil, nil)

	result := c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
		return live, nil
	}, log.callback())

	require.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Same(t, live, result.Session)
	assert.Equal(t, int32(1), stopped.Load())
	assert.Equal(t, []Status{StatusStopping, StatusStarting, StatusConnected}, log.statuses())
	assert.False(t, c.InProgress(key))
}

func TestRestartCoordinator_Exhausted(t *testing.T) {
	key := model.NewKey("A", "1")
	c := newTestCoordinator(nil)
	log := &statusLog{}
	var attempts []time.Time

	result := c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
		attempts = append(attempts, time.Now())
		return nil, errors.New("refused")
	}, log.callback())

	assert.False(t, result.Success)
	assert.Nil(t, result.Session)
	assert.True(t, errors.Is(result.Err, coreerrors.ErrRestartExhausted))
	require.Len(t, attempts, 3)
	// 第 n 次失败后等待 n * backoff
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 5*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 10*time.Millisecond)
	assert.Equal(t, []Status{StatusStopping, StatusStarting}, log.statuses())
	assert.False(t, c.InProgress(key))
}

func TestRestartCoordinator_CountsRestartsNotAttempts(t *testing.T) {
	m := metrics.NewMemoryMetrics()
	metrics.SetGlobal(m)
	defer metrics.SetGlobal(nil)

	key := model.NewKey("A", "1")
	c := newTestCoordinator(nil)
	result := c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
		return nil, errors.New("refused")
	}, nil)
	require.False(t, result.Success)

	assert.Equal(t, int64(1), m.GetCounter(metrics.SessionRestarts, nil))
	assert.Equal(t, int64(1), m.GetCounter(metrics.RestartExhausted, nil))

	// 去重拒绝的调用不计入
	id, ok := c.acquire(key)
	require.True(t, ok)
	c.Restart(context.Background(), key, nil, nil)
	c.release(key, id)
	assert.Equal(t, int64(1), m.GetCounter(metrics.SessionRestarts, nil))
}

func TestRestartCoordinator_SecondAttemptSucceeds(t *testing.T) {
	key := model.NewKey("A", "1")
	c := newTestCoordinator(nil)
	calls := 0

	result := c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("not yet")
		}
		return newLiveSession(key, nil, nil), nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 2, calls)
}

func TestRestartCoordinator_Dedup(t *testing.T) {
	key := model.NewKey("A", "1")
	c := newTestCoordinator(nil)
	release := make(chan struct{})
	entered := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var first RestartResult
	go func() {
		defer wg.Done()
		first = c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
			close(entered)
			<-release
			return newLiveSession(key, nil, nil), nil
		}, nil)
	}()
	<-entered

	log := &statusLog{}
	var starts atomic.Int32
	for i := 0; i < 5; i++ {
		r := c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
			starts.Add(1)
			return nil, nil
		}, log.callback())
		assert.False(t, r.Success)
		assert.True(t, errors.Is(r.Err, coreerrors.ErrAlreadyInProgress))
	}
	assert.Equal(t, int32(0), starts.Load())
	assert.Len(t, log.statuses(), 5)
	assert.Equal(t, StatusAlreadyInProgress, log.statuses()[0])

	// 其他键不受影响
	other := c.Restart(context.Background(), model.NewKey("B", "1"), func(context.Context) (*LiveSession, error) {
		return newLiveSession(model.NewKey("B", "1"), nil, nil), nil
	}, nil)
	assert.True(t, other.Success)

	close(release)
	wg.Wait()
	assert.True(t, first.Success)
	assert.False(t, c.InProgress(key))
}

func TestRestartCoordinator_TicketCeiling(t *testing.T) {
	key := model.NewKey("A", "1")
	c := NewRestartCoordinator(RestartConfig{TicketTTL: 30 * time.Millisecond, Logger: corelog.NewNopLogger()})

	id, ok := c.acquire(key)
	require.True(t, ok)
	_, ok = c.acquire(key)
	assert.False(t, ok)

	// 调用方从未释放，票据到期后重新可用
	require.Eventually(t, func() bool { return !c.InProgress(key) }, time.Second, 5*time.Millisecond)
	id2, ok := c.acquire(key)
	require.True(t, ok)

	// 过期票据的持有者不能清除新票据
	c.release(key, id)
	assert.True(t, c.InProgress(key))
	c.release(key, id2)
	assert.False(t, c.InProgress(key))
}

func TestRestartCoordinator_DeletedAbortsWithoutRetry(t *testing.T) {
	key := model.NewKey("A", "1")
	c := newTestCoordinator(nil)
	calls := 0
	result := c.Restart(context.Background(), key, func(context.Context) (*LiveSession, error) {
		calls++
		return nil, coreerrors.ErrSessionDeleted
	}, nil)
	assert.False(t, result.Success)
	assert.True(t, errors.Is(result.Err, coreerrors.ErrSessionDeleted))
	assert.Equal(t, 1, calls)
}

func TestRestartCoordinator_Cancelled(t *testing.T) {
	c := NewRestartCoordinator(RestartConfig{SettleDelay: time.Hour, Logger: corelog.NewNopLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := c.Restart(ctx, model.NewKey("A", "1"), func(context.Context) (*LiveSession, error) {
		t.Fatal("start must not run")
		return nil, nil
	}, nil)
	assert.True(t, coreerrors.IsCode(result.Err, coreerrors.CodeCancelled))
}
