package source

import (
	"os"
	"strconv"
	"strings"
	"time"

	"sessionmux-core/internal/config/schema"
)

// DefaultEnvPrefix is the prefix of every environment variable
const DefaultEnvPrefix = "SESSIONMUX"

// EnvSource loads configuration from environment variables
type EnvSource struct {
	prefix string
}

// NewEnvSource creates a new EnvSource with the specified prefix
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{
		prefix: prefix,
	}
}

// Name returns the source name
func (s *EnvSource) Name() string {
	return "env"
}

// Priority returns the source priority
func (s *EnvSource) Priority() int {
	return PriorityEnv
}

// LoadInto loads environment variables into the config structure.
// Unparseable values are ignored.
func (s *EnvSource) LoadInto(cfg *schema.Root) error {
	s.loadString("INSTANCE_ID", &cfg.Instance.ID)

	// Session
	s.loadDuration("SESSION_RESTART_DELAY", &cfg.Session.RestartDelay)
	s.loadDuration("SESSION_SETTLE_DELAY", &cfg.Session.SettleDelay)
	s.loadDuration("SESSION_STABILIZE_DELAY", &cfg.Session.StabilizeDelay)
	s.loadInt("SESSION_MAX_ATTEMPTS", &cfg.Session.MaxAttempts)
	s.loadDuration("SESSION_ATTEMPT_BACKOFF", &cfg.Session.AttemptBackoff)
	s.loadDuration("SESSION_TICKET_TTL", &cfg.Session.TicketTTL)
	s.loadDuration("SESSION_PROVISION_TIMEOUT", &cfg.Session.ProvisionTimeout)
	s.loadBool("SESSION_RESUME_ON_START", &cfg.Session.ResumeOnStart)

	// Storage
	s.loadString("STORAGE_PREFIX", &cfg.Storage.Prefix)
	s.loadSecret("SEAL_KEY", &cfg.Storage.SealKey)

	s.loadBool("REDIS_EMBEDDED", &cfg.Storage.Redis.Embedded)
	s.loadString("REDIS_ADDR", &cfg.Storage.Redis.Addr)
	s.loadSecret("REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	s.loadInt("REDIS_DB", &cfg.Storage.Redis.DB)
	s.loadInt("REDIS_POOL_SIZE", &cfg.Storage.Redis.PoolSize)
	s.loadDuration("REDIS_DIAL_TIMEOUT", &cfg.Storage.Redis.DialTimeout)

	s.loadBool("POSTGRES_ENABLED", &cfg.Storage.Postgres.Enabled)
	s.loadSecret("POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	s.loadInt32("POSTGRES_MAX_CONNS", &cfg.Storage.Postgres.MaxConns)
	s.loadInt("POSTGRES_OWNER_CACHE_SIZE", &cfg.Storage.Postgres.OwnerCacheSize)
	s.loadBool("POSTGRES_ACTIVITY", &cfg.Storage.Postgres.Activity)

	s.loadDuration("SYNC_DELAY", &cfg.Storage.Sync.Delay)
	s.loadDuration("SYNC_REMOTE_TIMEOUT", &cfg.Storage.Sync.RemoteTimeout)
	s.loadFloat("SYNC_RATE", &cfg.Storage.Sync.Rate)
	s.loadInt("SYNC_BURST", &cfg.Storage.Sync.Burst)
	s.loadInt("SYNC_CONCURRENCY", &cfg.Storage.Sync.Concurrency)

	// Notify
	s.loadBool("NOTIFY_ENABLED", &cfg.Notify.Enabled)
	s.loadDuration("NOTIFY_TIMEOUT", &cfg.Notify.Timeout)

	// Provider
	s.loadString("PROVIDER_NAME", &cfg.Provider.Name)
	s.loadStringMap("PROVIDER_OPTIONS", &cfg.Provider.Options)

	// Log
	s.loadString("LOG_LEVEL", &cfg.Log.Level)
	s.loadString("LOG_FORMAT", &cfg.Log.Format)
	s.loadString("LOG_OUTPUT", &cfg.Log.Output)
	s.loadString("LOG_FILE", &cfg.Log.File)

	return nil
}

// getEnv gets environment variable with the configured prefix
func (s *EnvSource) getEnv(key string) (string, bool) {
	if v := os.Getenv(s.prefix + "_" + key); v != "" {
		return v, true
	}
	return "", false
}

func (s *EnvSource) loadString(key string, target *string) {
	if v, ok := s.getEnv(key); ok {
		*target = v
	}
}

func (s *EnvSource) loadSecret(key string, target *schema.Secret) {
	if v, ok := s.getEnv(key); ok {
		*target = schema.Secret(v)
	}
}

func (s *EnvSource) loadBool(key string, target *bool) {
	if v, ok := s.getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func (s *EnvSource) loadInt(key string, target *int) {
	if v, ok := s.getEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func (s *EnvSource) loadInt32(key string, target *int32) {
	if v, ok := s.getEnv(key); ok {
		if i, err := strconv.ParseInt(v, 10, 32); err == nil {
			*target = int32(i)
		}
	}
}

func (s *EnvSource) loadFloat(key string, target *float64) {
	if v, ok := s.getEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func (s *EnvSource) loadDuration(key string, target *time.Duration) {
	if v, ok := s.getEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

// loadStringMap parses "k1=v1,k2=v2" and merges it over the existing map
func (s *EnvSource) loadStringMap(key string, target *map[string]string) {
	v, ok := s.getEnv(key)
	if !ok {
		return
	}
	if *target == nil {
		*target = make(map[string]string)
	}
	for _, part := range strings.Split(v, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || k == "" {
			continue
		}
		(*target)[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
}
