// Package dispose 提供与 context 绑定的资源释放
//
// 资源在 Close() 或父 context 取消时按注册的相反顺序执行清理函数，且只执行一次。
package dispose

import (
	"context"
	"fmt"
	"sync"

	corelog "sessionmux-core/internal/core/log"
)

// DisposeError 清理过程中的错误信息
type DisposeError struct {
	HandlerIndex int
	ResourceName string
	Err          error
}

func (e *DisposeError) Error() string {
	if e.ResourceName != "" {
		return fmt.Sprintf("cleanup resource[%s] handler[%d] failed: %v", e.ResourceName, e.HandlerIndex, e.Err)
	}
	return fmt.Sprintf("cleanup handler[%d] failed: %v", e.HandlerIndex, e.Err)
}

func (e *DisposeError) Unwrap() error {
	return e.Err
}

// DisposeResult 清理结果
type DisposeResult struct {
	Errors []*DisposeError
}

// HasErrors 是否有清理错误
func (r *DisposeResult) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// Err 合并为单个 error，无错误时返回 nil
func (r *DisposeResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	return fmt.Errorf("dispose cleanup failed with %d errors, first: %w", len(r.Errors), r.Errors[0])
}

// Dispose 资源管理结构体，嵌入到需要释放资源的组件中
type Dispose struct {
	mu       sync.Mutex
	name     string
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	handlers []func() error
	result   *DisposeResult
}

// SetCtx 绑定父 context 并注册 onClose，只能调用一次
func (d *Dispose) SetCtx(parent context.Context, name string, onClose func() error) {
	d.mu.Lock()
	if d.ctx != nil {
		d.mu.Unlock()
		corelog.Warnf("Dispose[%s]: ctx already set", name)
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	d.name = name
	d.ctx, d.cancel = context.WithCancel(parent)
	if onClose != nil {
		d.handlers = append(d.handlers, onClose)
	}
	ctx := d.ctx
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Close()
	}()
}

// Ctx 返回资源的 context，资源关闭后被取消
func (d *Dispose) Ctx() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

// AddCleanHandler 追加清理函数
func (d *Dispose) AddCleanHandler(fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// IsClosed 是否已关闭
func (d *Dispose) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close 执行清理，重复调用返回首次结果
func (d *Dispose) Close() *DisposeResult {
	d.mu.Lock()
	if d.closed {
		result := d.result
		d.mu.Unlock()
		return result
	}
	d.closed = true
	handlers := d.handlers
	d.handlers = nil
	cancel := d.cancel
	name := d.name
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	result := &DisposeResult{}
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := handlers[i](); err != nil {
			result.Errors = append(result.Errors, &DisposeError{HandlerIndex: i, ResourceName: name, Err: err})
			corelog.Errorf("Dispose[%s]: cleanup handler[%d] failed: %v", name, i, err)
		}
	}

	d.mu.Lock()
	d.result = result
	d.mu.Unlock()
	return result
}
