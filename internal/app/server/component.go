package server

import (
	"context"
	"fmt"

	"sessionmux-core/internal/activity"
	"sessionmux-core/internal/config/schema"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/core/storage/embedded"
	"sessionmux-core/internal/core/storage/postgres"
	redisconn "sessionmux-core/internal/core/storage/redis"
	"sessionmux-core/internal/owner"
	"sessionmux-core/internal/provider"
	"sessionmux-core/internal/session"
	"sessionmux-core/internal/session/notify"
	"sessionmux-core/internal/session/store"
)

// ============================================================================
// 组件接口定义
// ============================================================================

// Component 服务器组件接口
// 每个组件负责自己的初始化、启动和停止逻辑
type Component interface {
	// Name 返回组件名称（用于日志和错误信息）
	Name() string

	// Initialize 初始化组件，从 deps 取依赖并把产出写回 deps
	Initialize(ctx context.Context, deps *Dependencies) error

	Start() error

	// Stop 按初始化的逆序调用
	Stop() error
}

// Dependencies 依赖容器
type Dependencies struct {
	Config *schema.Root
	Logger corelog.Logger

	Metrics *metrics.MemoryMetrics

	// 本地缓存层，Embedded 非空时 Redis 指向内嵌实例
	Redis    *redisconn.Conn
	Embedded *embedded.Redis

	// 远端层，未启用时为 nil
	Postgres *postgres.DB

	Local    store.LocalCache
	Remote   store.RemoteStore
	Settings *store.RedisDeviceSettings
	Store    *store.DualTier

	Notifier notify.Notifier
	Provider provider.Provider
	Owners   owner.Directory
	Activity activity.Recorder

	Manager *session.Manager
}

// ============================================================================
// 基础组件实现
// ============================================================================

// BaseComponent 提供默认的 Start/Stop
type BaseComponent struct{}

func (BaseComponent) Start() error { return nil }

func (BaseComponent) Stop() error { return nil }

// ComponentError 组件初始化错误
type ComponentError struct {
	ComponentName string
	Err           error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("component %s initialization failed: %v", e.ComponentName, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// NewComponentError 创建组件错误
func NewComponentError(name string, err error) *ComponentError {
	return &ComponentError{
		ComponentName: name,
		Err:           err,
	}
}
