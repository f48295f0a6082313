// Package source provides configuration source abstractions and implementations
package source

import (
	"sessionmux-core/internal/config/schema"
)

// Source loads configuration into a strongly-typed Root structure
type Source interface {
	// Name returns the source name for logging and error messages
	Name() string

	// Priority returns the source priority (higher = more important)
	Priority() int

	// LoadInto only sets what the source actually carries,
	// preserving values from lower-priority sources
	LoadInto(cfg *schema.Root) error
}

// Source priorities
const (
	PriorityDefaults = 1
	PriorityYAML     = 2
	PriorityEnv      = 3
)

// ByPriority implements sort.Interface for []Source based on Priority
type ByPriority []Source

func (a ByPriority) Len() int           { return len(a) }
func (a ByPriority) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByPriority) Less(i, j int) bool { return a[i].Priority() < a[j].Priority() }
