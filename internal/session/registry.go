package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session/model"
)

// LiveSession 进程内的活动会话
// 句柄由创建它的控制器独占，Release 幂等
type LiveSession struct {
	ID        string
	Key       model.Key
	Handle    provider.Handle
	StartedAt time.Time

	released    atomic.Bool
	releaseOnce sync.Once
	cleanup     func()
}

func newLiveSession(key model.Key, handle provider.Handle, cleanup func()) *LiveSession {
	return &LiveSession{
		ID:        uuid.NewString(),
		Key:       key,
		Handle:    handle,
		StartedAt: time.Now(),
		cleanup:   cleanup,
	}
}

// Release 关闭句柄并执行清理，只执行一次
func (s *LiveSession) Release() {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

// Released 是否已释放
func (s *LiveSession) Released() bool {
	return s.released.Load()
}

// Registry 会话键 -> 当前活动会话
type Registry struct {
	mu       sync.RWMutex
	sessions map[model.Key]*LiveSession
	logger   corelog.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger corelog.Logger) *Registry {
	return &Registry{
		sessions: make(map[model.Key]*LiveSession),
		logger:   corelog.OrDefault(logger),
	}
}

// Add 注册会话，返回被替换的旧会话（调用方负责释放）
func (r *Registry) Add(s *LiveSession) *LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.sessions[s.Key]
	r.sessions[s.Key] = s
	if old != nil && old != s {
		r.logger.Warnf("Registry: session %s replaced (%s -> %s)", s.Key, old.ID, s.ID)
		return old
	}
	return nil
}

// Get 获取当前会话
func (r *Registry) Get(key model.Key) *LiveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key]
}

// Remove 移除，重复调用无副作用
func (r *Registry) Remove(key model.Key) *LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[key]
	delete(r.sessions, key)
	return s
}

// RemoveIf 仅当当前会话就是 s 时移除
func (r *Registry) RemoveIf(key model.Key, s *LiveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[key]; ok && cur == s {
		delete(r.sessions, key)
		return true
	}
	return false
}

// GetAll 按键排序的快照
func (r *Registry) GetAll() []*LiveSession {
	r.mu.RLock()
	out := make([]*LiveSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Len 会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
