// Package validator provides configuration validation
package validator

import (
	"fmt"
	"strings"
	"time"

	"sessionmux-core/internal/config/schema"
	"sessionmux-core/internal/session/store"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string // e.g. "session.restart_delay"
	Value   string // masked for secrets
	Message string
	Hint    string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains all validation errors
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error message
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n\n")

	for i, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Field))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf("     Current value: %s\n", err.Value))
		}
		sb.WriteString(fmt.Sprintf("     Error: %s\n", err.Message))
		if err.Hint != "" {
			sb.WriteString(fmt.Sprintf("     Hint: %s\n", err.Hint))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Has reports whether field failed validation
func (r *ValidationResult) Has(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// ValidationRule validates one aspect of the configuration
type ValidationRule func(cfg *schema.Root, result *ValidationResult)

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// NewValidator creates a new Validator with default rules
func NewValidator() *Validator {
	v := &Validator{}
	v.AddRule(validateInstance)
	v.AddRule(validateSession)
	v.AddRule(validateStorage)
	v.AddRule(validateNotify)
	v.AddRule(validateProvider)
	v.AddRule(validateLog)
	return v
}

// AddRule adds a validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate runs every rule
func (v *Validator) Validate(cfg *schema.Root) *ValidationResult {
	result := &ValidationResult{
		Errors: make([]ValidationError, 0),
	}
	for _, rule := range v.rules {
		rule(cfg, result)
	}
	return result
}

// Validate validates with the default rules
func Validate(cfg *schema.Root) *ValidationResult {
	return NewValidator().Validate(cfg)
}

// ============================================================================
// Validation Rules
// ============================================================================

func validateInstance(cfg *schema.Root, result *ValidationResult) {
	if strings.TrimSpace(cfg.Instance.ID) == "" {
		result.AddError("instance.id", "",
			"instance id is required",
			"Set a stable, unique id per process, e.g. the host name")
	}
}

func validateSession(cfg *schema.Root, result *ValidationResult) {
	s := cfg.Session
	positive("session.restart_delay", s.RestartDelay, result)
	positive("session.settle_delay", s.SettleDelay, result)
	positive("session.stabilize_delay", s.StabilizeDelay, result)
	positive("session.attempt_backoff", s.AttemptBackoff, result)
	positive("session.ticket_ttl", s.TicketTTL, result)
	positive("session.provision_timeout", s.ProvisionTimeout, result)

	if s.MaxAttempts < 1 {
		result.AddError("session.max_attempts", fmt.Sprintf("%d", s.MaxAttempts),
			"max_attempts must be at least 1", "Set a positive value, e.g. 3")
	}

	// 票据上限必须覆盖完整的重启流程
	worst := s.SettleDelay + s.StabilizeDelay
	for i := 1; i < s.MaxAttempts; i++ {
		worst += time.Duration(i) * s.AttemptBackoff
	}
	if s.TicketTTL > 0 && s.TicketTTL < worst {
		result.AddError("session.ticket_ttl", s.TicketTTL.String(),
			fmt.Sprintf("ticket_ttl is shorter than the restart sequence (%s)", worst),
			"Raise ticket_ttl or shorten the restart delays")
	}
}

func validateStorage(cfg *schema.Root, result *ValidationResult) {
	st := cfg.Storage

	if !st.Redis.Embedded && strings.TrimSpace(st.Redis.Addr) == "" {
		result.AddError("storage.redis.addr", "",
			"redis address is required unless redis is embedded",
			"Set storage.redis.addr or storage.redis.embedded: true")
	}
	if st.Redis.PoolSize < 0 {
		result.AddError("storage.redis.pool_size", fmt.Sprintf("%d", st.Redis.PoolSize),
			"pool_size must not be negative", "")
	}

	if st.Postgres.Enabled && st.Postgres.DSN.IsEmpty() {
		result.AddError("storage.postgres.dsn", "",
			"dsn is required when postgres is enabled",
			"Set storage.postgres.dsn or SESSIONMUX_POSTGRES_DSN")
	}
	if st.Postgres.Enabled && st.Postgres.OwnerCacheSize < 1 {
		result.AddError("storage.postgres.owner_cache_size", fmt.Sprintf("%d", st.Postgres.OwnerCacheSize),
			"owner_cache_size must be at least 1", "")
	}

	positive("storage.sync.delay", st.Sync.Delay, result)
	positive("storage.sync.remote_timeout", st.Sync.RemoteTimeout, result)
	if st.Sync.Rate < 0 {
		result.AddError("storage.sync.rate", fmt.Sprintf("%g", st.Sync.Rate),
			"rate must not be negative", "Use 0 to disable rate limiting")
	}
	if st.Sync.Rate > 0 && st.Sync.Burst < 1 {
		result.AddError("storage.sync.burst", fmt.Sprintf("%d", st.Sync.Burst),
			"burst must be at least 1 when rate limiting is on", "")
	}
	if st.Sync.Concurrency < 1 {
		result.AddError("storage.sync.concurrency", fmt.Sprintf("%d", st.Sync.Concurrency),
			"concurrency must be at least 1", "")
	}

	if !st.SealKey.IsEmpty() {
		if _, err := store.ParseSealKey(st.SealKey.Value()); err != nil {
			result.AddError("storage.seal_key", st.SealKey.String(),
				"seal_key must be 32 bytes",
				"Use 64 hex characters, e.g. the output of `openssl rand -hex 32`")
		}
	}
}

func validateNotify(cfg *schema.Root, result *ValidationResult) {
	if cfg.Notify.Enabled {
		positive("notify.timeout", cfg.Notify.Timeout, result)
	}
}

func validateProvider(cfg *schema.Root, result *ValidationResult) {
	if strings.TrimSpace(cfg.Provider.Name) == "" {
		result.AddError("provider.name", "", "provider name is required", "")
	}
}

func validateLog(cfg *schema.Root, result *ValidationResult) {
	switch strings.ToLower(cfg.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		result.AddError("log.level", cfg.Log.Level, "unknown log level",
			"Use one of debug, info, warn, error")
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		result.AddError("log.format", cfg.Log.Format, "unknown log format", "Use text or json")
	}

	switch cfg.Log.Output {
	case "", "stdout", "stderr":
	case "file":
		if cfg.Log.File == "" {
			result.AddError("log.file", "", "file is required when output is file", "")
		}
	default:
		result.AddError("log.output", cfg.Log.Output, "unknown log output", "Use stdout, stderr or file")
	}
}

func positive(field string, d time.Duration, result *ValidationResult) {
	if d <= 0 {
		result.AddError(field, d.String(), "must be positive", "")
	}
}
