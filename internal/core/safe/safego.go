// Package safe 提供带 panic 恢复的 Goroutine 启动与定时回调
//
// 单个会话的处理逻辑发生 panic 时只影响该次回调，不会终止进程。
package safe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	corelog "sessionmux-core/internal/core/log"
)

var globalManager = &manager{}

type manager struct {
	activeCount atomic.Int64
	totalCount  atomic.Int64
	panicCount  atomic.Int64
}

// Stats Goroutine 统计信息
type Stats struct {
	Active     int64
	Total      int64
	PanicCount int64
}

// GetStats 获取统计信息
func GetStats() Stats {
	return Stats{
		Active:     globalManager.activeCount.Load(),
		Total:      globalManager.totalCount.Load(),
		PanicCount: globalManager.panicCount.Load(),
	}
}

func recoverPanic(name string) {
	if r := recover(); r != nil {
		globalManager.panicCount.Add(1)
		corelog.Errorf("SafeGo[%s]: panic recovered: %v\n%s", name, r, string(debug.Stack()))
	}
}

func run(name string, fn func()) {
	globalManager.activeCount.Add(1)
	defer globalManager.activeCount.Add(-1)
	defer recoverPanic(name)
	fn()
}

// Go 安全启动 Goroutine（带 panic 恢复），name 用于日志标识
func Go(name string, fn func()) {
	globalManager.totalCount.Add(1)
	go run(name, fn)
}

// GoWithContext 带 context 的安全 Goroutine
func GoWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	globalManager.totalCount.Add(1)
	go run(name, func() { fn(ctx) })
}

// AfterFunc 在 d 之后安全执行 fn，返回的 Timer 可用于取消
func AfterFunc(d time.Duration, name string, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		globalManager.totalCount.Add(1)
		run(name, fn)
	})
}

// Sleep 等待 d，ctx 取消时提前返回 ctx.Err()
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pool 固定数量 worker 的任务池
type Pool struct {
	name   string
	queue  chan func()
	active atomic.Int32
	wg     sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
	mu        sync.RWMutex
}

// NewPool 创建任务池
func NewPool(name string, workers int, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		name:  name,
		queue: make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		workerName := fmt.Sprintf("%s-worker-%d", name, i)
		p.wg.Add(1)
		Go(workerName, func() {
			defer p.wg.Done()
			for fn := range p.queue {
				p.active.Add(1)
				run(workerName, fn)
				p.active.Add(-1)
			}
		})
	}
	return p
}

// Submit 非阻塞提交任务，队列满或已关闭时返回 false
func (p *Pool) Submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}
	select {
	case p.queue <- fn:
		return true
	default:
		return false
	}
}

// ActiveCount 正在执行的任务数
func (p *Pool) ActiveCount() int32 {
	return p.active.Load()
}

// Close 停止接收任务并等待已排队任务执行完毕
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
