// Package store 双层会话存储：本地缓存（实时数据源）+ 远端持久存储（备份与迁移）
// 本地缓存失败对调用方致命；远端失败只记录日志并跳过
package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"sessionmux-core/internal/core/dispose"
	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/core/safe"
	"sessionmux-core/internal/session/model"
)

const remoteLockStripes = 64

// Config DualTier 配置
type Config struct {
	InstanceID string
	Local      LocalCache
	// Remote 为 nil 时远端同步关闭
	Remote  RemoteStore
	Purgers []DeviceSettingsPurger
	Sealer  Sealer

	SyncDelay     time.Duration // 延迟推送窗口
	RemoteTimeout time.Duration // 单次远端调用超时
	Rate          float64       // 批量同步每秒远端调用数，<=0 不限速
	Burst         int
	Concurrency   int // 批量同步并发度

	Logger corelog.Logger
}

// RestoreResult restoreAllFromRemote 结果
type RestoreResult struct {
	Restored int `json:"restored"`
	Total    int `json:"total"`
}

// PushResult pushAllToRemote 结果
type PushResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// DualTier 双层会话存储
type DualTier struct {
	dispose.Dispose

	instanceID string
	local      LocalCache
	remote     RemoteStore
	purgers    []DeviceSettingsPurger
	sealer     Sealer

	syncDelay     time.Duration
	remoteTimeout time.Duration
	concurrency   int
	limiter       *rate.Limiter

	sf          singleflight.Group
	remoteLocks [remoteLockStripes]sync.Mutex

	mu      sync.Mutex
	pending map[model.Key]*time.Timer

	logger corelog.Logger
}

// New 创建双层存储
func New(parentCtx context.Context, cfg Config) (*DualTier, error) {
	if cfg.Local == nil {
		return nil, coreerrors.New(coreerrors.CodeConfigError, "store: local cache is required")
	}
	if cfg.Sealer == nil {
		cfg.Sealer = NopSealer{}
	}
	if cfg.SyncDelay <= 0 {
		cfg.SyncDelay = 5 * time.Second
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	s := &DualTier{
		instanceID:    cfg.InstanceID,
		local:         cfg.Local,
		remote:        cfg.Remote,
		purgers:       cfg.Purgers,
		sealer:        cfg.Sealer,
		syncDelay:     cfg.SyncDelay,
		remoteTimeout: cfg.RemoteTimeout,
		concurrency:   cfg.Concurrency,
		limiter:       rate.NewLimiter(limit, cfg.Burst),
		pending:       make(map[model.Key]*time.Timer),
		logger:        corelog.OrDefault(cfg.Logger),
	}
	s.SetCtx(parentCtx, "session-store", s.onClose)
	return s, nil
}

func (s *DualTier) onClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.pending {
		t.Stop()
		delete(s.pending, key)
	}
	return nil
}

// RemoteEnabled 是否配置了远端
func (s *DualTier) RemoteEnabled() bool {
	return s.remote != nil
}

func (s *DualTier) remoteLock(key model.Key) *sync.Mutex {
	return &s.remoteLocks[xxhash.Sum64String(key.String())%remoteLockStripes]
}

func (s *DualTier) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.remoteTimeout)
}

// ============================================================================
// 本地操作
// ============================================================================

// Load 只读本地缓存；不存在时返回 (nil, false, nil)
func (s *DualTier) Load(ctx context.Context, key model.Key) (*model.Record, bool, error) {
	rec, err := s.local.Load(ctx, key)
	if coreerrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Save upsert 本地缓存，同 key 并发写入以最后一次为准
func (s *DualTier) Save(ctx context.Context, key model.Key, status model.Status, credentials []byte, km model.KeyMaterial) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.local.Save(ctx, key, status, credentials, km)
}

// ListAll 列出本地全部记录
func (s *DualTier) ListAll(ctx context.Context) ([]*model.Record, error) {
	return s.local.ListAll(ctx)
}

// KeysFor 提供给连接提供方的 key material 只读视图
func (s *DualTier) KeysFor(key model.Key) KeyReader {
	return &keyReader{local: s.local, key: key}
}

// KeyReader key material 只读视图
type KeyReader interface {
	Get(ctx context.Context, category string, ids []string) (map[string][]byte, error)
}

type keyReader struct {
	local LocalCache
	key   model.Key
}

func (r *keyReader) Get(ctx context.Context, category string, ids []string) (map[string][]byte, error) {
	return r.local.KeyMaterial(ctx, r.key, category, ids)
}

// ============================================================================
// 删除与级联
// ============================================================================

// Delete 删除单个会话：本地（失败返回错误）-> 设备配置级联 -> 远端（失败只记录）
func (s *DualTier) Delete(ctx context.Context, key model.Key) error {
	s.cancelPending(key)
	if err := s.local.Delete(ctx, key); err != nil {
		return err
	}
	s.purgeDevice(ctx, key.DeviceID)
	s.deleteRemote(ctx, key)
	return nil
}

// DeleteAll 删除设备下全部会话
func (s *DualTier) DeleteAll(ctx context.Context, deviceID string) ([]model.Key, error) {
	keys, err := s.local.DeleteAll(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		s.cancelPending(key)
	}
	s.purgeDevice(ctx, deviceID)
	for _, key := range keys {
		s.deleteRemote(ctx, key)
	}
	return keys, nil
}

// purgeDevice 广播给所有设备配置存储，单个失败不影响其他
func (s *DualTier) purgeDevice(ctx context.Context, deviceID string) {
	for _, p := range s.purgers {
		if err := p.DeleteAllForDevice(ctx, deviceID); err != nil {
			s.logger.WithError(err).Warnf("SessionStore: settings purge %s failed for device %s", p.Name(), deviceID)
		}
	}
}

func (s *DualTier) deleteRemote(ctx context.Context, key model.Key) {
	if s.remote == nil {
		return
	}
	lock := s.remoteLock(key)
	lock.Lock()
	defer lock.Unlock()

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	if err := s.remote.Delete(rctx, key); err != nil {
		s.logger.WithField(corelog.FieldSession, key.String()).WithError(err).
			Warnf("SessionStore: remote delete failed, left for next full sync")
	}
}

// ============================================================================
// 远端同步
// ============================================================================

// SyncOne 推送单条记录当前的本地状态；本地不存在时不做任何事
// 同一 key 的并发调用合并为一次
func (s *DualTier) SyncOne(ctx context.Context, key model.Key) error {
	if s.remote == nil {
		return nil
	}
	_, err, _ := s.sf.Do(key.String(), func() (interface{}, error) {
		return nil, s.syncOne(ctx, key)
	})
	return err
}

func (s *DualTier) syncOne(ctx context.Context, key model.Key) error {
	lock := s.remoteLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, ok, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.push(ctx, rec); err != nil {
		metrics.IncRemoteSync(false)
		s.logger.WithField(corelog.FieldSession, key.String()).WithError(err).Warnf("SessionStore: remote sync failed")
		return err
	}
	metrics.IncRemoteSync(true)
	return nil
}

func (s *DualTier) push(ctx context.Context, rec *model.Record) error {
	rr, err := toRemote(s.instanceID, rec, s.sealer)
	if err != nil {
		return err
	}
	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	return s.remote.Save(rctx, rr)
}

// SyncOneAsync 后台推送，不阻塞调用方
func (s *DualTier) SyncOneAsync(key model.Key) {
	if s.remote == nil || s.IsClosed() {
		return
	}
	safe.Go("session-sync-"+key.String(), func() {
		_ = s.SyncOne(s.Ctx(), key)
	})
}

// ScheduleSync 延迟推送，窗口内的多次调用合并为一次
func (s *DualTier) ScheduleSync(key model.Key) {
	if s.remote == nil || s.IsClosed() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; ok {
		return
	}
	var timer *time.Timer
	timer = safe.AfterFunc(s.syncDelay, "session-deferred-sync", func() {
		s.mu.Lock()
		if s.pending[key] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()
		_ = s.SyncOne(s.Ctx(), key)
	})
	s.pending[key] = timer
}

func (s *DualTier) cancelPending(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
}

// PendingSyncs 尚未执行的延迟推送数
func (s *DualTier) PendingSyncs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush 立即执行所有延迟推送
func (s *DualTier) Flush(ctx context.Context) {
	s.mu.Lock()
	keys := make([]model.Key, 0, len(s.pending))
	for key, t := range s.pending {
		t.Stop()
		keys = append(keys, key)
		delete(s.pending, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		_ = s.SyncOne(ctx, key)
	}
}

// PushAllToRemote 逐条 upsert 到远端，单条失败计数后继续，不返回错误
func (s *DualTier) PushAllToRemote(ctx context.Context) PushResult {
	var result PushResult
	if s.remote == nil {
		s.logger.Warnf("SessionStore: remote store disabled, push skipped")
		return result
	}
	records, err := s.local.ListAll(ctx)
	if err != nil {
		s.logger.WithError(err).Errorf("SessionStore: push aborted, local cache unreadable")
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rec := range records {
		g.Go(func() error {
			pushed, err := s.pushPaced(gctx, rec.Key())
			mu.Lock()
			defer mu.Unlock()
			if err == nil && !pushed {
				return nil
			}
			if err != nil {
				result.Failed++
				metrics.IncRemoteSync(false)
				s.logger.WithField(corelog.FieldSession, rec.Key().String()).WithError(err).Warnf("SessionStore: push failed")
				return nil
			}
			result.Synced++
			metrics.IncRemoteSync(true)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Infof("SessionStore: pushed %d records to remote, %d failed", result.Synced, result.Failed)
	return result
}

// pushPaced 在锁内重读本地记录，快照之后已删除的记录不再推送
func (s *DualTier) pushPaced(ctx context.Context, key model.Key) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	lock := s.remoteLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, ok, err := s.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return true, s.push(ctx, rec)
}

// RestoreAllFromRemote 破坏性重建：拉取本实例的全部远端记录，清空本地缓存后逐条写入
// 单条失败记录日志并跳过；远端整体不可读时本地缓存保持不变
func (s *DualTier) RestoreAllFromRemote(ctx context.Context) (RestoreResult, error) {
	var result RestoreResult
	if s.remote == nil {
		s.logger.Warnf("SessionStore: remote store disabled, restore skipped")
		return result, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return result, err
	}
	rctx, cancel := s.remoteCtx(ctx)
	remoteRecords, err := s.remote.LoadAll(rctx, RemoteFilter{InstanceID: s.instanceID})
	cancel()
	if err != nil {
		s.logger.WithError(err).Errorf("SessionStore: restore aborted, remote unreadable; local cache untouched")
		return result, err
	}
	result.Total = len(remoteRecords)

	for _, key := range s.pendingKeys() {
		s.cancelPending(key)
	}
	if err := s.local.Clear(ctx); err != nil {
		return result, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, rr := range remoteRecords {
		g.Go(func() error {
			err := s.restoreOne(gctx, rr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.WithError(err).Warnf("SessionStore: skip remote record #%d (%s:%s)", i+1, rr.OwnerID, rr.DeviceID)
				return nil
			}
			result.Restored++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Infof("SessionStore: restored %d/%d records from remote", result.Restored, result.Total)
	return result, nil
}

func (s *DualTier) restoreOne(ctx context.Context, rr *RemoteRecord) error {
	rec, failed, err := fromRemote(rr, s.sealer)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		s.logger.WithField(corelog.FieldSession, rec.Key().String()).
			Warnf("SessionStore: dropped %d undecodable key material entries: %v", len(failed), failed)
	}
	return s.local.Put(ctx, rec)
}

func (s *DualTier) pendingKeys() []model.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]model.Key, 0, len(s.pending))
	for key := range s.pending {
		keys = append(keys, key)
	}
	return keys
}

// Close 停止所有延迟推送
func (s *DualTier) Close() error {
	return s.Dispose.Close().Err()
}
