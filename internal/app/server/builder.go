package server

import (
	"context"
	"fmt"

	"sessionmux-core/internal/config/schema"
	corelog "sessionmux-core/internal/core/log"
)

// Builder 服务器构建器
// 按顺序组装组件，支持替换个别组件（测试时注入模拟实现）
type Builder struct {
	config     *schema.Root
	components []Component
	deps       *Dependencies
	setupLog   bool
}

// NewBuilder 创建服务器构建器
func NewBuilder(config *schema.Root) *Builder {
	return &Builder{
		config:     config,
		components: make([]Component, 0),
		deps:       &Dependencies{Config: config},
		setupLog:   true,
	}
}

// With 添加组件
func (b *Builder) With(c Component) *Builder {
	b.components = append(b.components, c)
	return b
}

// WithDeps 预置依赖；组件看到已有产出时直接复用
func (b *Builder) WithDeps(fn func(*Dependencies)) *Builder {
	fn(b.deps)
	return b
}

// WithoutLogSetup 沿用当前默认 Logger
func (b *Builder) WithoutLogSetup() *Builder {
	b.setupLog = false
	return b
}

// WithDefaults 添加默认组件（按依赖顺序）
func (b *Builder) WithDefaults() *Builder {
	return b.
		With(&MetricsComponent{}).
		With(&RedisComponent{}).
		With(&PostgresComponent{}).
		With(&StoreComponent{}).
		With(&NotifyComponent{}).
		With(&ProviderComponent{}).
		With(&DirectoryComponent{}).
		With(&SessionComponent{})
}

// Build 按顺序初始化所有组件，任一失败则停止已初始化的组件并返回错误
func (b *Builder) Build(ctx context.Context) (*Server, error) {
	if b.setupLog {
		l := b.config.Log
		if err := corelog.Setup(corelog.Config{Level: l.Level, Format: l.Format, Output: l.Output, File: l.File}); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	if b.deps.Logger == nil {
		b.deps.Logger = corelog.Default()
	}

	initialized := make([]Component, 0, len(b.components))
	for _, c := range b.components {
		b.deps.Logger.Debugf("Initializing component: %s", c.Name())
		if err := c.Initialize(ctx, b.deps); err != nil {
			stopAll(initialized, b.deps.Logger)
			return nil, NewComponentError(c.Name(), err)
		}
		initialized = append(initialized, c)
	}

	return &Server{
		config:     b.config,
		components: initialized,
		deps:       b.deps,
		logger:     b.deps.Logger,
	}, nil
}

// stopAll 逆序停止
func stopAll(components []Component, logger corelog.Logger) {
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(); err != nil {
			logger.Warnf("Server: stop component %s failed: %v", components[i].Name(), err)
		}
	}
}
