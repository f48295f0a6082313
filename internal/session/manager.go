// Package session 会话生命周期管理：注册表、删除保护、连接状态机与重启协调
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sessionmux-core/internal/activity"
	"sessionmux-core/internal/core/dispose"
	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/core/safe"
	"sessionmux-core/internal/owner"
	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session/model"
	"sessionmux-core/internal/session/notify"
	"sessionmux-core/internal/session/store"
)

// Store 管理器使用的存储操作
type Store interface {
	Load(ctx context.Context, key model.Key) (*model.Record, bool, error)
	Save(ctx context.Context, key model.Key, status model.Status, credentials []byte, km model.KeyMaterial) error
	Delete(ctx context.Context, key model.Key) error
	ListAll(ctx context.Context) ([]*model.Record, error)
	KeysFor(key model.Key) store.KeyReader
	ScheduleSync(key model.Key)
	SyncOneAsync(key model.Key)
	Flush(ctx context.Context)
}

// Config 管理器配置
type Config struct {
	Provider provider.Provider
	Store    Store
	Owners   owner.Directory
	Activity activity.Recorder
	Notifier notify.Notifier

	RestartDelay     time.Duration // 可恢复断开后的重启延迟
	SettleDelay      time.Duration
	StabilizeDelay   time.Duration
	MaxAttempts      int
	AttemptBackoff   time.Duration
	TicketTTL        time.Duration
	ProvisionTimeout time.Duration
	NotifyTimeout    time.Duration

	Logger corelog.Logger
}

// DefaultConfig 默认时间参数
func DefaultConfig() Config {
	return Config{
		RestartDelay:     2 * time.Second,
		SettleDelay:      5 * time.Second,
		StabilizeDelay:   3 * time.Second,
		MaxAttempts:      3,
		AttemptBackoff:   2 * time.Second,
		TicketTTL:        30 * time.Second,
		ProvisionTimeout: 10 * time.Second,
		NotifyTimeout:    2 * time.Second,
	}
}

// SessionInfo 会话快照
type SessionInfo struct {
	Key       model.Key
	ID        string
	State     State
	StartedAt time.Time
}

// Manager 持有注册表、删除保护集合与重启协调器，是它们唯一的写入方
type Manager struct {
	dispose.Dispose

	cfg         Config
	provider    provider.Provider
	store       Store
	owners      owner.Directory
	activity    activity.Recorder
	notifier    notify.Notifier
	registry    *Registry
	guard       *DeletionGuard
	coordinator *RestartCoordinator

	mu          sync.Mutex
	controllers map[model.Key]*controller
	timers      map[model.Key]*time.Timer
	gen         atomic.Uint64

	logger corelog.Logger
}

// NewManager 创建管理器
func NewManager(parentCtx context.Context, cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, coreerrors.New(coreerrors.CodeConfigError, "session manager: provider is required")
	}
	if cfg.Store == nil {
		return nil, coreerrors.New(coreerrors.CodeConfigError, "session manager: store is required")
	}
	def := DefaultConfig()
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.StabilizeDelay < 0 {
		cfg.StabilizeDelay = def.StabilizeDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptBackoff < 0 {
		cfg.AttemptBackoff = def.AttemptBackoff
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = def.TicketTTL
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = def.ProvisionTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.Owners == nil {
		cfg.Owners = owner.NewMemory()
	}
	if cfg.Activity == nil {
		cfg.Activity = activity.Nop{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	logger := corelog.OrDefault(cfg.Logger)

	m := &Manager{
		cfg:         cfg,
		provider:    cfg.Provider,
		store:       cfg.Store,
		owners:      cfg.Owners,
		activity:    cfg.Activity,
		notifier:    cfg.Notifier,
		registry:    NewRegistry(logger),
		guard:       NewDeletionGuard(),
		controllers: make(map[model.Key]*controller),
		timers:      make(map[model.Key]*time.Timer),
		logger:      logger,
	}
	m.coordinator = NewRestartCoordinator(RestartConfig{
		SettleDelay:    cfg.SettleDelay,
		StabilizeDelay: cfg.StabilizeDelay,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptBackoff: cfg.AttemptBackoff,
		TicketTTL:      cfg.TicketTTL,
		Stop:           m.stopLive,
		Logger:         logger,
	})
	m.SetCtx(parentCtx, "session-manager", m.onClose)
	return m, nil
}

// Registry 会话注册表
func (m *Manager) Registry() *Registry { return m.registry }

// Guard 删除保护集合
func (m *Manager) Guard() *DeletionGuard { return m.guard }

// ============================================================================
// 对外操作
// ============================================================================

// Start 显式启动；已在运行时报告 already_running
// 已删除的键视为全新注册，先从删除保护中移除
func (m *Manager) Start(ctx context.Context, key model.Key, cb StatusCallback) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if m.IsClosed() {
		return coreerrors.ErrClosed
	}
	if m.isLive(key) || m.coordinator.InProgress(key) {
		m.report(key, cb, StatusAlreadyRunning, "")
		return coreerrors.ErrAlreadyRunning
	}
	if m.guard.Evict(key) {
		corelog.ForSession(m.logger, key.String()).Infof("SessionManager: explicit start of deleted session, treating as fresh registration")
	}
	m.cancelTimer(key)

	if _, err := m.startSession(ctx, key, cb, true); err != nil {
		if coreerrors.IsCode(err, coreerrors.CodeAlreadyRunning) {
			m.report(key, cb, StatusAlreadyRunning, "")
		}
		return err
	}
	return nil
}

// Restart 经重启协调器重启
func (m *Manager) Restart(ctx context.Context, key model.Key, cb StatusCallback) RestartResult {
	if err := key.Validate(); err != nil {
		return RestartResult{Err: err}
	}
	logger := corelog.ForSession(m.logger, key.String())
	if m.guard.IsDeleted(key) {
		logger.Infof("SessionManager: restart of deleted session refused")
		return RestartResult{Err: coreerrors.ErrSessionDeleted}
	}
	m.cancelTimer(key)

	reporting := func(status Status, detail string) {
		m.report(key, cb, status, detail)
	}
	result := m.coordinator.Restart(ctx, key, func(ctx context.Context) (*LiveSession, error) {
		return m.startSession(ctx, key, cb, false)
	}, reporting)

	switch {
	case result.Success:
		m.recordActivity(key, activity.ActionRestarted, "")
	case coreerrors.IsCode(result.Err, coreerrors.CodeRestartExhausted):
		m.stopLive(key)
		m.recordActivity(key, activity.ActionRestartExhausted, result.Err.Error())
		m.report(key, cb, StatusRegistrationFailed, result.Err.Error())
	}
	return result
}

// Delete 显式注销，与不可恢复断开走同一路径
func (m *Manager) Delete(ctx context.Context, key model.Key, cb StatusCallback) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return m.deleteSession(ctx, key, "deleted by request", cb)
}

// Stop 释放活动会话但保留记录，不安排重启
func (m *Manager) Stop(ctx context.Context, key model.Key) error {
	m.cancelTimer(key)
	m.mu.Lock()
	c, ok := m.controllers[key]
	delete(m.controllers, key)
	m.mu.Unlock()
	if !ok && m.registry.Get(key) == nil {
		return coreerrors.Newf(coreerrors.CodeNotFound, "session %s is not running", key)
	}
	if c != nil {
		c.setState(StateStopped)
		c.live.Release()
	}
	m.stopLive(key)
	return nil
}

// Resume 启动本地缓存中所有 active 记录
func (m *Manager) Resume(ctx context.Context) (int, error) {
	records, err := m.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, rec := range records {
		key := rec.Key()
		if rec.Status != model.StatusActive || m.guard.IsDeleted(key) || m.isLive(key) {
			continue
		}
		if _, err := m.startSession(ctx, key, nil, true); err != nil {
			corelog.ForSession(m.logger, key.String()).WithError(err).Warnf("SessionManager: resume failed")
			continue
		}
		started++
	}
	m.logger.Infof("SessionManager: resumed %d/%d cached sessions", started, len(records))
	return started, nil
}

// Sessions 当前会话快照
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.controllers))
	for key, c := range m.controllers {
		if c.live.Released() {
			continue
		}
		out = append(out, SessionInfo{Key: key, ID: c.live.ID, State: c.State(), StartedAt: c.live.StartedAt})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Shutdown 停止所有会话并立即执行挂起的远端推送
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Close()
	m.store.Flush(ctx)
	return err
}

// Close 释放全部会话
func (m *Manager) Close() error {
	return m.Dispose.Close().Err()
}

func (m *Manager) onClose() error {
	m.mu.Lock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
	controllers := make([]*controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.controllers = make(map[model.Key]*controller)
	m.mu.Unlock()

	for _, c := range controllers {
		c.setState(StateStopped)
		c.live.Release()
	}
	for _, s := range m.registry.GetAll() {
		s.Release()
	}
	m.logger.Infof("SessionManager: stopped %d sessions", len(controllers))
	return nil
}

// ============================================================================
// 内部
// ============================================================================

func (m *Manager) isCurrent(c *controller) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controllers[c.key] == c
}

func (m *Manager) isLive(key model.Key) bool {
	m.mu.Lock()
	c, ok := m.controllers[key]
	m.mu.Unlock()
	if ok && !c.live.Released() {
		return true
	}
	return m.registry.Get(key) != nil
}

// startSession 创建句柄和控制器；announce 决定由谁发出 starting/connected
func (m *Manager) startSession(ctx context.Context, key model.Key, cb StatusCallback, announce bool) (*LiveSession, error) {
	logger := corelog.ForSession(m.logger, key.String())
	if m.guard.IsDeleted(key) {
		return nil, coreerrors.ErrSessionDeleted
	}

	rec, found, err := m.store.Load(ctx, key)
	if err != nil {
		logger.WithError(err).Errorf("SessionManager: failed to load session record")
		if announce {
			m.report(key, cb, StatusRegistrationFailed, err.Error())
		}
		return nil, err
	}
	var creds []byte
	if found {
		creds = rec.Credentials
	}

	if announce {
		m.report(key, cb, StatusStarting, "")
	}
	handle, err := m.provider.Start(ctx, provider.Config{
		Key:         key,
		Credentials: creds,
		Keys:        m.store.KeysFor(key),
	})
	if err != nil {
		logger.WithError(err).Warnf("SessionManager: provider start failed")
		if announce {
			m.report(key, cb, StatusRegistrationFailed, err.Error())
		}
		return nil, coreerrors.Wrap(err, coreerrors.CodeProviderError, "provider start failed")
	}

	// 等待期间可能已被删除或已关闭
	if m.guard.IsDeleted(key) || m.IsClosed() {
		handle.Close()
		return nil, coreerrors.ErrSessionDeleted
	}

	c := &controller{
		m:           m,
		key:         key,
		gen:         m.gen.Add(1),
		cb:          cb,
		announce:    announce,
		credentials: creds,
		logger:      logger,
	}
	var live *LiveSession
	live = newLiveSession(key, handle, func() {
		if err := handle.Close(); err != nil {
			logger.WithError(err).Debugf("SessionManager: handle close returned error")
		}
		if m.registry.RemoveIf(key, live) {
			metrics.SetLiveSessions(m.registry.Len())
		}
	})
	c.live = live
	c.logger = logger.WithField("live", live.ID)
	c.setState(StateStarting)

	// 等待期间可能已有别的实例启动
	m.mu.Lock()
	if m.IsClosed() {
		m.mu.Unlock()
		handle.Close()
		return nil, coreerrors.New(coreerrors.CodeClosed, "session manager closed")
	}
	if cur, ok := m.controllers[key]; ok && !cur.live.Released() {
		m.mu.Unlock()
		handle.Close()
		return nil, coreerrors.ErrAlreadyRunning
	}
	m.controllers[key] = c
	m.mu.Unlock()

	if !found {
		if _, err := m.saveRecord(ctx, key, nil, model.KeyMaterial{}); err != nil {
			logger.WithError(err).Errorf("SessionManager: failed to create session record")
		}
	}

	safe.Go("session-controller-"+key.String(), c.run)
	logger.Infof("SessionManager: session started (gen=%d)", c.gen)
	return live, nil
}

// saveRecord 写入 active 记录；写入期间 key 被删除时撤销这次写入并返回 false
func (m *Manager) saveRecord(ctx context.Context, key model.Key, credentials []byte, km model.KeyMaterial) (bool, error) {
	if m.guard.IsDeleted(key) {
		return false, nil
	}
	if err := m.store.Save(ctx, key, model.StatusActive, credentials, km); err != nil {
		return false, err
	}
	if !m.guard.IsDeleted(key) {
		return true, nil
	}
	logger := corelog.ForSession(m.logger, key.String())
	logger.Infof("SessionManager: session deleted while saving, reverting write")
	if err := m.store.Delete(ctx, key); err != nil {
		logger.WithError(err).Errorf("SessionManager: failed to revert write of deleted session")
		return false, err
	}
	return false, nil
}

// stopLive 停止 key 当前的活动句柄
func (m *Manager) stopLive(key model.Key) {
	m.mu.Lock()
	c := m.controllers[key]
	m.mu.Unlock()
	if c != nil {
		c.live.Release()
	}
	if s := m.registry.Remove(key); s != nil {
		s.Release()
	}
	metrics.SetLiveSessions(m.registry.Len())
}

// scheduleRestart 延迟后启动新实例，触发时 c 必须仍是当前实例且键未被删除
func (m *Manager) scheduleRestart(c *controller) {
	key := c.key
	logger := corelog.ForSession(m.logger, key.String())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controllers[key] != c {
		return
	}
	if old, ok := m.timers[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = safe.AfterFunc(m.cfg.RestartDelay, "session-restart-"+key.String(), func() {
		m.mu.Lock()
		if m.timers[key] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.timers, key)
		current := m.controllers[key] == c
		m.mu.Unlock()

		switch {
		case m.IsClosed():
			return
		case m.guard.IsDeleted(key):
			logger.Infof("SessionManager: scheduled restart dropped, session deleted")
			return
		case !current:
			logger.Debugf("SessionManager: scheduled restart dropped, superseded")
			return
		case m.isLive(key) || m.coordinator.InProgress(key):
			logger.Debugf("SessionManager: scheduled restart dropped, already running")
			return
		}
		if _, err := m.startSession(m.Ctx(), key, c.cb, true); err != nil {
			logger.WithError(err).Warnf("SessionManager: scheduled restart failed")
		}
	})
	m.timers[key] = timer
	logger.Infof("SessionManager: restart scheduled in %v", m.cfg.RestartDelay)
}

func (m *Manager) cancelTimer(key model.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

// restartAsync 后台重启，不阻塞事件处理
func (m *Manager) restartAsync(key model.Key, cb StatusCallback) {
	safe.Go("session-restart-"+key.String(), func() {
		result := m.Restart(m.Ctx(), key, cb)
		if !result.Success && result.Err != nil {
			corelog.ForSession(m.logger, key.String()).WithError(result.Err).Warnf("SessionManager: background restart did not complete")
		}
	})
}

// deleteSession 先加入删除保护，再释放并级联删除；本地删除失败返回错误，远端失败只记录
func (m *Manager) deleteSession(ctx context.Context, key model.Key, detail string, cb StatusCallback) error {
	logger := corelog.ForSession(m.logger, key.String())
	m.guard.MarkDeleted(key)
	m.cancelTimer(key)

	m.mu.Lock()
	c := m.controllers[key]
	delete(m.controllers, key)
	m.mu.Unlock()
	if c != nil {
		c.setState(StateDeleted)
		c.live.Release()
	}
	if s := m.registry.Remove(key); s != nil {
		s.Release()
	}
	metrics.SetLiveSessions(m.registry.Len())

	if err := m.store.Delete(ctx, key); err != nil {
		logger.WithError(err).Errorf("SessionManager: failed to delete session record")
		return err
	}
	metrics.IncDeleted()
	m.recordActivity(key, activity.ActionDeleted, detail)
	m.report(key, cb, StatusDeleted, detail)
	logger.Infof("SessionManager: session deleted (%s)", detail)
	return nil
}

func (m *Manager) recordActivity(key model.Key, action activity.Action, detail string) {
	m.activity.Record(activity.Entry{
		Owner:  key.OwnerID,
		Device: key.DeviceID,
		Action: action,
		Detail: detail,
		Time:   time.Now(),
	})
}

// report 先回调再旁路推送，推送失败只记录
func (m *Manager) report(key model.Key, cb StatusCallback, status Status, detail string) {
	cb.emit(status, detail)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NotifyTimeout)
	defer cancel()
	err := m.notifier.Publish(ctx, notify.Event{
		Owner:   key.OwnerID,
		Device:  key.DeviceID,
		Session: key.String(),
		Status:  string(status),
		Detail:  detail,
		At:      time.Now(),
	})
	if err != nil {
		corelog.ForSession(m.logger, key.String()).WithError(err).Warnf("SessionManager: status notification failed")
	}
}
