package session

import (
	"context"
	"sync/atomic"

	"sessionmux-core/internal/activity"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session/model"
)

// controller 驱动一个会话实例：Starting -> Connected -> Closing -> Deleted | Restarting
// 每个实例独占一个 goroutine 串行处理其句柄的事件；任何等待之后都重新校验共享状态
type controller struct {
	m    *Manager
	key  model.Key
	gen  uint64
	live *LiveSession
	cb   StatusCallback

	// announce 为 false 时由重启协调器负责发出 connected
	announce bool

	credentials []byte
	state       atomic.Int32
	logger      corelog.Logger
}

func (c *controller) State() State {
	return State(c.state.Load())
}

func (c *controller) setState(s State) {
	c.state.Store(int32(s))
}

// stale 句柄已释放、键已删除或已被新的实例取代
func (c *controller) stale() bool {
	return c.live.Released() || c.m.guard.IsDeleted(c.key) || !c.m.isCurrent(c)
}

func (c *controller) run() {
	ctx := c.m.Ctx()
	for ev := range c.live.Handle.Events() {
		if c.live.Released() {
			return
		}
		switch ev.Type {
		case provider.EventStatusOpen:
			c.onOpen(ctx, ev)
		case provider.EventStatusClose:
			c.onClose(ctx, Classify(ev.Reason, ev.StatusCode))
			return
		case provider.EventCredentialUpdate:
			c.onCredentials(ctx, ev.Credentials)
		case provider.EventKeyMaterialUpdate:
			c.onKeyMaterial(ctx, ev.KeyMaterial)
		default:
			c.logger.Debugf("Controller: ignoring %s", ev.Type)
		}
	}

	// 提供方未发出 close 就关闭了事件通道
	if !c.live.Released() && ctx.Err() == nil {
		c.logger.Warnf("Controller: event stream ended without close event")
		c.onClose(ctx, Classify("", 0))
	}
}

func (c *controller) onOpen(ctx context.Context, ev provider.Event) {
	if c.stale() {
		c.logger.Infof("Controller: open for stale session ignored")
		c.live.Release()
		return
	}

	// 1. 注册
	if old := c.m.registry.Add(c.live); old != nil {
		old.Release()
	}
	c.setState(StateConnected)
	metrics.IncSessionStarted()
	metrics.SetLiveSessions(c.m.registry.Len())

	// 2. 连接后的预置调用，失败不影响连接状态
	pctx, cancel := context.WithTimeout(ctx, c.m.cfg.ProvisionTimeout)
	if err := c.live.Handle.UploadPreKeys(pctx); err != nil {
		c.logger.WithError(err).Warnf("Controller: upload pre-keys failed")
	}
	if err := c.live.Handle.AssertPeerSessions(pctx, []string{c.key.OwnerID}); err != nil {
		c.logger.WithError(err).Warnf("Controller: assert peer sessions failed")
	}
	cancel()
	if c.stale() {
		return
	}

	// 3. 持久化凭据
	saved, err := c.m.saveRecord(ctx, c.key, c.credentials, nil)
	if err != nil {
		c.logger.WithError(err).Errorf("Controller: failed to persist credentials on open")
	}
	if c.stale() || (err == nil && !saved) {
		return
	}

	c.m.recordActivity(c.key, activity.ActionConnected, "")
	if c.announce {
		c.m.report(c.key, c.cb, StatusConnected, "")
	}

	// 4. 首次出现的 owner：建档并走一次完整的重启流程
	identity := ev.Identity
	if identity == "" {
		identity = c.key.OwnerID
	}
	firstSeen, err := c.m.owners.Observe(ctx, c.key.OwnerID, identity)
	if err != nil {
		c.logger.WithError(err).Warnf("Controller: owner directory unavailable")
	}
	if firstSeen && !c.stale() {
		c.logger.Infof("Controller: first time owner %s observed, running initial restart cycle", c.key.OwnerID)
		c.m.recordActivity(c.key, activity.ActionRegistered, identity)
		c.m.restartAsync(c.key, c.cb)
	}

	// 5. 延迟推送到远端
	c.m.store.ScheduleSync(c.key)
}

func (c *controller) onClose(ctx context.Context, cls Classification) {
	c.setState(StateClosing)
	logger := c.logger.WithFields(map[string]interface{}{
		"reason": cls.Reason,
		"code":   cls.StatusCode,
		"bucket": cls.Bucket.String(),
	})

	if cls.Bucket == BucketUnrecoverable {
		logger.Warnf("Controller: unrecoverable close, deleting session")
		if err := c.m.deleteSession(ctx, c.key, cls.Detail(), c.cb); err != nil {
			logger.WithError(err).Errorf("Controller: delete failed")
		}
		c.setState(StateDeleted)
		return
	}

	c.live.Release()
	c.setState(StateRestarting)
	if cls.Bucket == BucketUnknown {
		logger.Warnf("Controller: unclassified close, treating as recoverable")
	} else {
		logger.Infof("Controller: recoverable close")
	}
	c.m.report(c.key, c.cb, StatusRestarting, cls.Detail())

	if c.m.guard.IsDeleted(c.key) {
		logger.Infof("Controller: session deleted, restart suppressed")
		return
	}
	c.m.scheduleRestart(c)
}

func (c *controller) onCredentials(ctx context.Context, creds []byte) {
	if c.stale() {
		return
	}
	c.credentials = creds
	saved, err := c.m.saveRecord(ctx, c.key, creds, nil)
	if err != nil {
		c.logger.WithError(err).Errorf("Controller: failed to persist credential update")
		return
	}
	if saved {
		c.m.store.ScheduleSync(c.key)
	}
}

func (c *controller) onKeyMaterial(ctx context.Context, km model.KeyMaterial) {
	if c.stale() || len(km) == 0 {
		return
	}
	saved, err := c.m.saveRecord(ctx, c.key, nil, km)
	if err != nil {
		c.logger.WithError(err).Errorf("Controller: failed to persist key material update")
		return
	}
	if saved {
		c.m.store.SyncOneAsync(c.key)
	}
}
