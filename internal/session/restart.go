package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/core/safe"
	"sessionmux-core/internal/session/model"
)

// RestartConfig 重启协调器配置
type RestartConfig struct {
	SettleDelay    time.Duration // stop 之后等待
	StabilizeDelay time.Duration // 启动成功后等待连接稳定
	MaxAttempts    int
	AttemptBackoff time.Duration // 第 n 次失败后等待 n * AttemptBackoff
	TicketTTL      time.Duration // 重启票据的最长存活时间

	// Stop 停止 key 当前的活动句柄（可能不存在）
	Stop   func(key model.Key)
	Logger corelog.Logger
}

// StartFunc 启动一次，成功返回新的活动会话
type StartFunc func(ctx context.Context) (*LiveSession, error)

// RestartResult 重启结果
type RestartResult struct {
	Success bool
	Session *LiveSession
	Err     error
}

// RestartCoordinator 按会话键去重的重启执行器
type RestartCoordinator struct {
	cfg RestartConfig

	mu      sync.Mutex
	tickets *expirable.LRU[model.Key, uint64]
	seq     atomic.Uint64

	logger corelog.Logger
}

// NewRestartCoordinator 创建协调器
func NewRestartCoordinator(cfg RestartConfig) *RestartCoordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = 30 * time.Second
	}
	if cfg.Stop == nil {
		cfg.Stop = func(model.Key) {}
	}
	return &RestartCoordinator{
		cfg:     cfg,
		tickets: expirable.NewLRU[model.Key, uint64](0, nil, cfg.TicketTTL),
		logger:  corelog.OrDefault(cfg.Logger),
	}
}

// acquire 不存在票据时创建，返回票据号
func (c *RestartCoordinator) acquire(key model.Key) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tickets.Peek(key); ok {
		return 0, false
	}
	id := c.seq.Add(1)
	c.tickets.Add(key, id)
	return id, true
}

// release 只清除自己的票据，过期后被别人重新获取的票据不受影响
func (c *RestartCoordinator) release(key model.Key, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.tickets.Peek(key); ok && cur == id {
		c.tickets.Remove(key)
	}
}

// InProgress 是否有进行中的重启
func (c *RestartCoordinator) InProgress(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tickets.Peek(key)
	return ok
}

// Restart stopping -> stop -> settle -> starting -> 最多 MaxAttempts 次启动 -> stabilize -> connected
// 已有票据时立即返回 ALREADY_IN_PROGRESS，不排队
func (c *RestartCoordinator) Restart(ctx context.Context, key model.Key, start StartFunc, cb StatusCallback) RestartResult {
	logger := corelog.ForSession(c.logger, key.String())

	id, ok := c.acquire(key)
	if !ok {
		logger.Infof("RestartCoordinator: restart already in progress")
		cb.emit(StatusAlreadyInProgress, "")
		return RestartResult{Err: coreerrors.ErrAlreadyInProgress}
	}
	defer c.release(key, id)
	metrics.IncRestart()

	cb.emit(StatusStopping, "")
	c.cfg.Stop(key)
	if err := safe.Sleep(ctx, c.cfg.SettleDelay); err != nil {
		return RestartResult{Err: coreerrors.Wrap(err, coreerrors.CodeCancelled, "restart cancelled while settling")}
	}

	cb.emit(StatusStarting, "")
	var (
		live    *LiveSession
		lastErr error
	)
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		live, lastErr = start(ctx)
		if lastErr == nil {
			break
		}
		if coreerrors.Is(lastErr, coreerrors.ErrSessionDeleted) {
			logger.Infof("RestartCoordinator: session deleted during restart, giving up")
			return RestartResult{Err: lastErr}
		}
		logger.WithError(lastErr).Warnf("RestartCoordinator: start attempt %d/%d failed", attempt, c.cfg.MaxAttempts)
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := safe.Sleep(ctx, time.Duration(attempt)*c.cfg.AttemptBackoff); err != nil {
			return RestartResult{Err: coreerrors.Wrap(err, coreerrors.CodeCancelled, "restart cancelled between attempts")}
		}
	}
	if lastErr != nil {
		metrics.IncRestartExhausted()
		logger.Errorf("RestartCoordinator: restart exhausted after %d attempts", c.cfg.MaxAttempts)
		return RestartResult{Err: coreerrors.Wrapf(lastErr, coreerrors.CodeRestartExhausted,
			"restart attempts exhausted after %d tries", c.cfg.MaxAttempts)}
	}

	if err := safe.Sleep(ctx, c.cfg.StabilizeDelay); err != nil {
		return RestartResult{Session: live, Err: coreerrors.Wrap(err, coreerrors.CodeCancelled, "restart cancelled while stabilizing")}
	}
	if live.Released() {
		logger.Warnf("RestartCoordinator: new session released before it stabilized")
		return RestartResult{Err: coreerrors.New(coreerrors.CodeInvalidState, "session released before it stabilized")}
	}

	logger.Infof("RestartCoordinator: restart complete")
	cb.emit(StatusConnected, "")
	return RestartResult{Success: true, Session: live}
}
