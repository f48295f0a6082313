// Package simulated 可脚本化的进程内 Provider，用于单机演示与测试
package simulated

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sessionmux-core/internal/core/safe"
	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session/model"
)

// Name 注册名
const Name = "simulated"

func init() {
	provider.Register(Name, func(options map[string]string) (provider.Provider, error) {
		p := New()
		if v, ok := options["open_delay"]; ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("simulated: open_delay: %w", err)
			}
			p.OpenDelay = d
		}
		if v, ok := options["auto_open"]; ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("simulated: auto_open: %w", err)
			}
			p.AutoOpen = b
		}
		return p, nil
	})
}

// Provider 模拟提供方
type Provider struct {
	// AutoOpen 启动后自动发出 status-open
	AutoOpen bool
	// OpenDelay 自动 open 之前的延迟
	OpenDelay time.Duration

	mu       sync.Mutex
	handles  map[model.Key]*Handle
	starts   map[model.Key]int
	failures map[model.Key]int
	all      []*Handle
}

// New 创建模拟提供方
func New() *Provider {
	return &Provider{
		handles:  make(map[model.Key]*Handle),
		starts:   make(map[model.Key]int),
		failures: make(map[model.Key]int),
	}
}

// Name 提供方名
func (p *Provider) Name() string { return Name }

// FailNextStarts 让接下来的 n 次 Start 失败
func (p *Provider) FailNextStarts(key model.Key, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[key] = n
}

// Start 创建句柄
func (p *Provider) Start(ctx context.Context, cfg provider.Config) (provider.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.starts[cfg.Key]++
	if p.failures[cfg.Key] > 0 {
		p.failures[cfg.Key]--
		p.mu.Unlock()
		return nil, fmt.Errorf("simulated: start %s refused", cfg.Key)
	}
	h := &Handle{
		ID:          uuid.NewString(),
		Key:         cfg.Key,
		Credentials: cfg.Credentials,
		keys:        cfg.Keys,
		events:      make(chan provider.Event, 64),
		closed:      make(chan struct{}),
	}
	p.handles[cfg.Key] = h
	p.all = append(p.all, h)
	p.mu.Unlock()

	if p.AutoOpen {
		safe.AfterFunc(p.OpenDelay, "simulated-open", func() {
			h.Emit(provider.Event{Type: provider.EventStatusOpen, Identity: cfg.Key.OwnerID})
		})
	}
	return h, nil
}

// StartCount Start 被调用的次数（含失败）
func (p *Provider) StartCount(key model.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts[key]
}

// Latest 最近一次为 key 创建的句柄
func (p *Provider) Latest(key model.Key) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[key]
}

// Handles 创建过的全部句柄
func (p *Provider) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Handle(nil), p.all...)
}

// Handle 模拟连接
type Handle struct {
	ID          string
	Key         model.Key
	Credentials []byte

	keys   provider.KeyReader
	events chan provider.Event

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once

	// UploadErr 非 nil 时 UploadPreKeys 返回该错误
	UploadErr  error
	uploads    atomic.Int32
	asserts    atomic.Int32
	closeCalls atomic.Int32
}

// Events 事件通道
func (h *Handle) Events() <-chan provider.Event { return h.events }

// Emit 投递事件；句柄关闭后丢弃。key material 以副本投递，调用方之后修改不影响消费方
func (h *Handle) Emit(ev provider.Event) bool {
	ev.KeyMaterial = ev.KeyMaterial.Clone()
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.closed:
		return false
	}
}

// Open 发出 status-open
func (h *Handle) Open() bool {
	return h.Emit(provider.Event{Type: provider.EventStatusOpen, Identity: h.Key.OwnerID})
}

// CloseWith 发出 status-close
func (h *Handle) CloseWith(reason string, code int) bool {
	return h.Emit(provider.Event{Type: provider.EventStatusClose, Reason: reason, StatusCode: code})
}

// Close 关闭连接并关闭事件通道
func (h *Handle) Close() error {
	h.closeCalls.Add(1)
	h.closeOnce.Do(func() {
		close(h.closed)
		h.mu.Lock()
		close(h.events)
		h.mu.Unlock()
	})
	return nil
}

// IsClosed 是否已关闭
func (h *Handle) IsClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// UploadPreKeys 模拟上传
func (h *Handle) UploadPreKeys(ctx context.Context) error {
	h.uploads.Add(1)
	return h.UploadErr
}

// AssertPeerSessions 模拟断言
func (h *Handle) AssertPeerSessions(ctx context.Context, ids []string) error {
	h.asserts.Add(1)
	if h.keys != nil {
		_, err := h.keys.Get(ctx, "session", ids)
		return err
	}
	return nil
}

// Uploads UploadPreKeys 调用次数
func (h *Handle) Uploads() int { return int(h.uploads.Load()) }

// CloseCalls Close 调用次数
func (h *Handle) CloseCalls() int { return int(h.closeCalls.Load()) }
