package source

import (
	"time"

	"sessionmux-core/internal/config/schema"
)

// DefaultSource provides built-in defaults
type DefaultSource struct{}

// NewDefaultSource creates a new DefaultSource
func NewDefaultSource() *DefaultSource {
	return &DefaultSource{}
}

// Name returns the source name
func (s *DefaultSource) Name() string {
	return "defaults"
}

// Priority returns the source priority
func (s *DefaultSource) Priority() int {
	return PriorityDefaults
}

// LoadInto loads default values into the configuration
func (s *DefaultSource) LoadInto(cfg *schema.Root) error {
	cfg.Instance.ID = "default"

	// Session timings
	cfg.Session.RestartDelay = 2 * time.Second
	cfg.Session.SettleDelay = 5 * time.Second
	cfg.Session.StabilizeDelay = 3 * time.Second
	cfg.Session.MaxAttempts = 3
	cfg.Session.AttemptBackoff = 2 * time.Second
	cfg.Session.TicketTTL = 30 * time.Second
	cfg.Session.ProvisionTimeout = 10 * time.Second
	cfg.Session.ResumeOnStart = true

	// Storage
	cfg.Storage.Prefix = "sessionmux:"
	cfg.Storage.Redis.Embedded = true
	cfg.Storage.Redis.Addr = "localhost:6379"
	cfg.Storage.Redis.PoolSize = 10
	cfg.Storage.Redis.DialTimeout = 5 * time.Second

	cfg.Storage.Postgres.Enabled = false
	cfg.Storage.Postgres.MaxConns = 10
	cfg.Storage.Postgres.OwnerCacheSize = 4096
	cfg.Storage.Postgres.Activity = true

	cfg.Storage.Sync.Delay = 5 * time.Second
	cfg.Storage.Sync.RemoteTimeout = 10 * time.Second
	cfg.Storage.Sync.Rate = 50
	cfg.Storage.Sync.Burst = 10
	cfg.Storage.Sync.Concurrency = 8

	// Notify
	cfg.Notify.Enabled = true
	cfg.Notify.Timeout = 2 * time.Second

	// Provider
	cfg.Provider.Name = "simulated"
	cfg.Provider.Options = map[string]string{}

	// Log
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	return nil
}
