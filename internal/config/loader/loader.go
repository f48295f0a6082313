// Package loader provides multi-source configuration loading
package loader

import (
	"sort"

	"sessionmux-core/internal/config/schema"
	"sessionmux-core/internal/config/source"
	"sessionmux-core/internal/config/validator"
	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
)

// Loader loads configuration from multiple sources in priority order
type Loader struct {
	sources      []source.Source
	skipValidate bool
}

// NewLoader creates a new Loader
func NewLoader() *Loader {
	return &Loader{
		sources: make([]source.Source, 0),
	}
}

// AddSource adds a configuration source
func (l *Loader) AddSource(s source.Source) {
	l.sources = append(l.sources, s)
}

// SetSkipValidate disables validation after loading
func (l *Loader) SetSkipValidate(skip bool) {
	l.skipValidate = skip
}

// Load applies sources from lowest to highest priority, then validates
func (l *Loader) Load() (*schema.Root, error) {
	if len(l.sources) == 0 {
		return nil, coreerrors.New(coreerrors.CodeConfigError, "no configuration sources registered")
	}

	sorted := make([]source.Source, len(l.sources))
	copy(sorted, l.sources)
	sort.Stable(source.ByPriority(sorted))

	cfg := &schema.Root{}
	for _, s := range sorted {
		corelog.Debugf("Loading configuration from source: %s (priority %d)", s.Name(), s.Priority())
		if err := s.LoadInto(cfg); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError,
				"failed to load configuration from source %s", s.Name())
		}
	}

	if !l.skipValidate {
		if result := validator.Validate(cfg); !result.IsValid() {
			return nil, coreerrors.New(coreerrors.CodeConfigError, result.Error())
		}
	}

	return cfg, nil
}

// Builder helps build a Loader with the standard source chain
type Builder struct {
	prefix       string
	configFile   string
	skipValidate bool
}

// NewBuilder creates a new Builder
func NewBuilder() *Builder {
	return &Builder{
		prefix: source.DefaultEnvPrefix,
	}
}

// WithPrefix sets the environment variable prefix
func (b *Builder) WithPrefix(prefix string) *Builder {
	b.prefix = prefix
	return b
}

// WithConfigFile sets the configuration file path
func (b *Builder) WithConfigFile(path string) *Builder {
	b.configFile = path
	return b
}

// WithSkipValidate enables or disables validation
func (b *Builder) WithSkipValidate(skip bool) *Builder {
	b.skipValidate = skip
	return b
}

// Build creates the Loader: defaults, then YAML, then environment
func (b *Builder) Build() *Loader {
	l := NewLoader()
	l.AddSource(source.NewDefaultSource())

	if configFile := source.FindConfigFile(b.configFile); configFile != "" {
		l.AddSource(source.NewYAMLSource(configFile))
		corelog.Debugf("Using config file: %s", configFile)
	}

	l.AddSource(source.NewEnvSource(b.prefix))
	l.SetSkipValidate(b.skipValidate)
	return l
}

// Load is a convenience function that builds a loader and loads configuration
func Load(configFile string) (*schema.Root, error) {
	return NewBuilder().WithConfigFile(configFile).Build().Load()
}
