package server

import (
	"context"
	"fmt"

	"sessionmux-core/internal/activity"
	"sessionmux-core/internal/owner"
	"sessionmux-core/internal/provider"
	_ "sessionmux-core/internal/provider/simulated"
	"sessionmux-core/internal/session"
	"sessionmux-core/internal/session/notify"
)

const (
	activityWorkers = 2
	activityQueue   = 1024
)

// ============================================================================
// NotifyComponent
// ============================================================================

// NotifyComponent 状态旁路推送
type NotifyComponent struct {
	BaseComponent
}

func (c *NotifyComponent) Name() string { return "Notify" }

func (c *NotifyComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	if deps.Notifier != nil {
		return nil
	}
	if !deps.Config.Notify.Enabled {
		deps.Notifier = notify.Nop{}
		return nil
	}
	deps.Notifier = notify.NewRedis(deps.Redis.Client(), deps.Config.Storage.Prefix, deps.Logger)
	return nil
}

// ============================================================================
// ProviderComponent
// ============================================================================

// ProviderComponent 按名字创建连接提供方
type ProviderComponent struct {
	BaseComponent
}

func (c *ProviderComponent) Name() string { return "Provider" }

func (c *ProviderComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	if deps.Provider != nil {
		return nil
	}
	p, err := provider.New(deps.Config.Provider.Name, deps.Config.Provider.Options)
	if err != nil {
		return err
	}
	deps.Provider = p
	deps.Logger.Infof("Provider: using %s", p.Name())
	return nil
}

// ============================================================================
// DirectoryComponent - 账户目录与活动记录
// ============================================================================

// DirectoryComponent Postgres 可用时落库，否则使用内存目录和日志
type DirectoryComponent struct {
	BaseComponent
	recorder *activity.AsyncRecorder
}

func (c *DirectoryComponent) Name() string { return "Directory" }

func (c *DirectoryComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	pg := deps.Config.Storage.Postgres

	if deps.Owners == nil {
		if deps.Postgres != nil {
			dir, err := owner.NewPostgres(deps.Postgres, pg.OwnerCacheSize, deps.Logger)
			if err != nil {
				return err
			}
			if err := dir.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate owner profiles: %w", err)
			}
			deps.Owners = dir
		} else {
			deps.Owners = owner.NewMemory()
		}
	}

	if deps.Activity == nil {
		var sink activity.Sink = activity.LogSink{Logger: deps.Logger}
		if deps.Postgres != nil && pg.Activity {
			pgSink := activity.NewPostgresSink(deps.Postgres)
			if err := pgSink.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate session activity: %w", err)
			}
			sink = pgSink
		}
		c.recorder = activity.NewAsyncRecorder(sink, activityWorkers, activityQueue, deps.Logger)
		deps.Activity = c.recorder
	}
	return nil
}

func (c *DirectoryComponent) Stop() error {
	if c.recorder != nil {
		c.recorder.Close()
	}
	return nil
}

// ============================================================================
// SessionComponent
// ============================================================================

// SessionComponent 会话管理器
type SessionComponent struct {
	BaseComponent
	deps *Dependencies
}

func (c *SessionComponent) Name() string { return "Session" }

func (c *SessionComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	c.deps = deps
	if deps.Store == nil || deps.Provider == nil {
		return fmt.Errorf("store and provider are required")
	}
	s := deps.Config.Session

	mgr, err := session.NewManager(ctx, session.Config{
		Provider:         deps.Provider,
		Store:            deps.Store,
		Owners:           deps.Owners,
		Activity:         deps.Activity,
		Notifier:         deps.Notifier,
		RestartDelay:     s.RestartDelay,
		SettleDelay:      s.SettleDelay,
		StabilizeDelay:   s.StabilizeDelay,
		MaxAttempts:      s.MaxAttempts,
		AttemptBackoff:   s.AttemptBackoff,
		TicketTTL:        s.TicketTTL,
		ProvisionTimeout: s.ProvisionTimeout,
		NotifyTimeout:    deps.Config.Notify.Timeout,
		Logger:           deps.Logger,
	})
	if err != nil {
		return err
	}
	deps.Manager = mgr
	return nil
}

func (c *SessionComponent) Stop() error {
	if c.deps.Manager == nil {
		return nil
	}
	return c.deps.Manager.Close()
}
