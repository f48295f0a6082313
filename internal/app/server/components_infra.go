package server

import (
	"context"
	"fmt"

	"sessionmux-core/internal/core/metrics"
	"sessionmux-core/internal/core/storage/embedded"
	"sessionmux-core/internal/core/storage/postgres"
	redisconn "sessionmux-core/internal/core/storage/redis"
	"sessionmux-core/internal/session/store"
)

// settingsNamespace 设备设置在 Redis 中的命名空间
const settingsNamespace = "prefs"

// ============================================================================
// MetricsComponent
// ============================================================================

// MetricsComponent 进程内指标
type MetricsComponent struct {
	BaseComponent
}

func (c *MetricsComponent) Name() string { return "Metrics" }

func (c *MetricsComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMemoryMetrics()
	}
	metrics.SetGlobal(deps.Metrics)
	return nil
}

// ============================================================================
// RedisComponent - 本地缓存连接
// ============================================================================

// RedisComponent 连接外部 Redis 或启动内嵌实例
type RedisComponent struct {
	BaseComponent
	owned bool
	deps  *Dependencies
}

func (c *RedisComponent) Name() string { return "Redis" }

func (c *RedisComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	c.deps = deps
	if deps.Redis != nil {
		return nil
	}

	cfg := deps.Config.Storage.Redis
	if cfg.Embedded {
		e, err := embedded.Start(ctx, deps.Logger)
		if err != nil {
			return err
		}
		deps.Embedded = e
		deps.Redis = e.Conn()
		c.owned = true
		return nil
	}

	conn, err := redisconn.Connect(ctx, &redisconn.Config{
		Addr:        cfg.Addr,
		Password:    cfg.Password.Value(),
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}, deps.Logger)
	if err != nil {
		return err
	}
	deps.Redis = conn
	c.owned = true
	return nil
}

func (c *RedisComponent) Stop() error {
	if !c.owned {
		return nil
	}
	if c.deps.Embedded != nil {
		return c.deps.Embedded.Close()
	}
	return c.deps.Redis.Close()
}

// ============================================================================
// PostgresComponent - 远端层连接与建表
// ============================================================================

// PostgresComponent storage.postgres.enabled 时打开连接池并建表
type PostgresComponent struct {
	BaseComponent
	owned bool
	deps  *Dependencies
}

func (c *PostgresComponent) Name() string { return "Postgres" }

func (c *PostgresComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	c.deps = deps
	cfg := deps.Config.Storage.Postgres
	if !cfg.Enabled && deps.Postgres == nil {
		deps.Logger.Infof("Postgres: disabled, remote sync is off")
		return nil
	}

	if deps.Postgres == nil {
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = cfg.DSN.Value()
		if cfg.MaxConns > 0 {
			pgCfg.MaxConns = cfg.MaxConns
		}
		db, err := postgres.Open(ctx, pgCfg, deps.Logger)
		if err != nil {
			return err
		}
		deps.Postgres = db
		c.owned = true
	}

	remote := store.NewPostgresRemote(deps.Postgres)
	if err := remote.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate session records: %w", err)
	}
	deps.Remote = remote
	return nil
}

func (c *PostgresComponent) Stop() error {
	if !c.owned {
		return nil
	}
	return c.deps.Postgres.Close()
}

// ============================================================================
// StoreComponent - 双层会话存储
// ============================================================================

// StoreComponent 组装 DualTier
type StoreComponent struct {
	BaseComponent
	deps *Dependencies
}

func (c *StoreComponent) Name() string { return "Store" }

func (c *StoreComponent) Initialize(ctx context.Context, deps *Dependencies) error {
	c.deps = deps
	if deps.Redis == nil {
		return fmt.Errorf("redis is required")
	}
	st := deps.Config.Storage

	sealer, err := store.SealerFromKey(st.SealKey.Value())
	if err != nil {
		return err
	}

	if deps.Local == nil {
		deps.Local = store.NewRedisCache(deps.Redis.Client(), st.Prefix, deps.Logger)
	}
	if deps.Settings == nil {
		deps.Settings = store.NewRedisDeviceSettings(deps.Redis.Client(), st.Prefix, settingsNamespace)
	}

	cfg := store.Config{
		InstanceID:    deps.Config.Instance.ID,
		Local:         deps.Local,
		Remote:        deps.Remote,
		Purgers:       []store.DeviceSettingsPurger{deps.Settings},
		Sealer:        sealer,
		SyncDelay:     st.Sync.Delay,
		RemoteTimeout: st.Sync.RemoteTimeout,
		Rate:          st.Sync.Rate,
		Burst:         st.Sync.Burst,
		Concurrency:   st.Sync.Concurrency,
		Logger:        deps.Logger,
	}
	dt, err := store.New(ctx, cfg)
	if err != nil {
		return err
	}
	deps.Store = dt
	deps.Logger.Infof("Store: initialized (instance=%s, remote=%v, sealed=%v)",
		cfg.InstanceID, dt.RemoteEnabled(), !st.SealKey.IsEmpty())
	return nil
}

func (c *StoreComponent) Stop() error {
	if c.deps.Store == nil {
		return nil
	}
	return c.deps.Store.Close()
}
