// Package provider 外部连接提供方的接入契约
// 协议实现（编码、握手）不在本模块内，这里只定义启动参数、句柄与事件
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sessionmux-core/internal/session/model"
)

// KeyReader key material 只读视图
type KeyReader interface {
	Get(ctx context.Context, category string, ids []string) (map[string][]byte, error)
}

// Config 启动参数
type Config struct {
	Key         model.Key
	Credentials []byte
	// Keys 连接运行中按需读取 key material
	Keys KeyReader
}

// EventType 事件类型
type EventType int

const (
	EventStatusOpen EventType = iota + 1
	EventStatusClose
	EventCredentialUpdate
	EventKeyMaterialUpdate
)

func (t EventType) String() string {
	switch t {
	case EventStatusOpen:
		return "status-open"
	case EventStatusClose:
		return "status-close"
	case EventCredentialUpdate:
		return "credential-update"
	case EventKeyMaterialUpdate:
		return "key-material-update"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event 提供方事件，同一句柄的事件按发出顺序投递
type Event struct {
	Type EventType

	// EventStatusClose
	Reason     string
	StatusCode int

	// EventStatusOpen，连接方自报的身份（用于首次注册判定）
	Identity string

	// EventCredentialUpdate
	Credentials []byte

	// EventKeyMaterialUpdate，nil blob 表示删除
	KeyMaterial model.KeyMaterial
}

// Handle 一条活动连接；Close 后事件通道关闭，不再有事件
type Handle interface {
	Events() <-chan Event
	Close() error
	UploadPreKeys(ctx context.Context) error
	AssertPeerSessions(ctx context.Context, ids []string) error
}

// Provider 连接提供方
type Provider interface {
	Name() string
	Start(ctx context.Context, cfg Config) (Handle, error)
}

// Factory 按名字创建 Provider
type Factory func(options map[string]string) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register 注册 Provider 工厂，重名覆盖
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New 按名字创建 Provider
func New(name string, options map[string]string) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, Registered())
	}
	return f(options)
}

// Registered 已注册的名字
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
