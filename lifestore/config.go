package lifestore

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/metrics"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/types"
)

// Config is the file and environment facing configuration of a store.
// The CLI fills it from flags, LIFESTORE_* variables and lifestore.yaml.
type Config struct {
	// DataDir holds one engine file or directory per domain
	DataDir string `mapstructure:"data-dir" yaml:"data-dir"`

	// Engine is one of EngineKinds
	Engine string `mapstructure:"engine" yaml:"engine"`

	// Schemas are extra YAML schema files registered on top of the
	// built-in payments and food domains
	Schemas []string `mapstructure:"schema" yaml:"schema"`
}

// DefaultConfig returns a badger store in the working directory
func DefaultConfig() Config {
	return Config{
		DataDir: ".",
		Engine:  engine.KindBadger,
	}
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.DataDir == "" && c.Engine != engine.KindMemory {
		return fmt.Errorf("data directory cannot be empty")
	}
	if !slices.Contains(engine.Kinds(), c.Engine) {
		return fmt.Errorf("unknown engine %q (expected one of %v)", c.Engine, engine.Kinds())
	}
	return nil
}

// Registry builds the built-in registry extended with the configured
// schema files. A schema file may redeclare a built-in domain.
func (c Config) Registry() (*registry.Registry, error) {
	reg := registry.Builtin()
	for _, path := range c.Schemas {
		if err := reg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Options translates the configuration into store options. logger and m
// may be nil.
func (c Config) Options(logger *slog.Logger, m *metrics.Metrics) ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithDataDir(c.DataDir),
		WithEngine(c.Engine),
		WithRegistry(reg),
		WithMetrics(m),
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return opts, nil
}

// OpenConfig validates cfg and opens a store from it
func OpenConfig(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	opts, err := cfg.Options(logger, m)
	if err != nil {
		return nil, err
	}
	return Open(opts...), nil
}

func notFound(collection string, key any) error {
	return fmt.Errorf("%w: %s/%v", types.ErrNotFound, collection, key)
}
