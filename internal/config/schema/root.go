// Package schema defines configuration structure types
package schema

import "time"

// Root is the top-level configuration structure
type Root struct {
	Instance InstanceConfig `yaml:"instance" json:"instance"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// InstanceConfig identifies this process in the shared remote store
type InstanceConfig struct {
	ID string `yaml:"id" json:"id"`
}

// SessionConfig contains session lifecycle timings
type SessionConfig struct {
	RestartDelay     time.Duration `yaml:"restart_delay" json:"restart_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay" json:"settle_delay"`
	StabilizeDelay   time.Duration `yaml:"stabilize_delay" json:"stabilize_delay"`
	MaxAttempts      int           `yaml:"max_attempts" json:"max_attempts"`
	AttemptBackoff   time.Duration `yaml:"attempt_backoff" json:"attempt_backoff"`
	TicketTTL        time.Duration `yaml:"ticket_ttl" json:"ticket_ttl"`
	ProvisionTimeout time.Duration `yaml:"provision_timeout" json:"provision_timeout"`
	// ResumeOnStart starts every active stored session after boot
	ResumeOnStart bool `yaml:"resume_on_start" json:"resume_on_start"`
}

// NotifyConfig contains status fan-out settings
type NotifyConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ProviderConfig selects the connection provider
type ProviderConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Options map[string]string `yaml:"options" json:"options"`
}
