package session

import (
	"sync"
	"time"

	"sessionmux-core/internal/session/model"
)

// DeletionGuard 已删除会话键集合，成员在进程生命周期内不会被自动重启
type DeletionGuard struct {
	mu   sync.RWMutex
	keys map[model.Key]time.Time
}

// NewDeletionGuard 创建集合
func NewDeletionGuard() *DeletionGuard {
	return &DeletionGuard{keys: make(map[model.Key]time.Time)}
}

// MarkDeleted 标记删除，返回是否为新标记
func (g *DeletionGuard) MarkDeleted(key model.Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; ok {
		return false
	}
	g.keys[key] = time.Now()
	return true
}

// IsDeleted 是否已删除
func (g *DeletionGuard) IsDeleted(key model.Key) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.keys[key]
	return ok
}

// Evict 显式重新注册时移除，自动重启路径从不调用
func (g *DeletionGuard) Evict(key model.Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; !ok {
		return false
	}
	delete(g.keys, key)
	return true
}

// Len 成员数
func (g *DeletionGuard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.keys)
}
