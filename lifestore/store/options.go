package store

import (
	"log/slog"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/metrics"
	"github.com/arthur-debert/lifestore/lifestore/registry"
)

// OpenEngineFunc opens the engine backing one domain
type OpenEngineFunc func(kind, path string, opts ...engine.Option) (engine.Engine, error)

// Options configures a Manager
type Options struct {
	// DataDir holds one engine file or directory per domain
	DataDir string

	// EngineKind selects the backend, see engine.Kinds
	EngineKind string

	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// Clock stamps engine metadata, defaults to time.Now
	Clock func() time.Time

	// FileSystem and LockFactory are handed to the JSON engine
	FileSystem  engine.FileSystem
	LockFactory engine.FileLockFactory

	// OpenEngine defaults to engine.Open; tests swap it to inject faults
	OpenEngine OpenEngineFunc
}

// Option modifies Options
type Option func(*Options)

// WithDataDir sets the directory holding the domain stores
func WithDataDir(dir string) Option {
	return func(o *Options) {
		o.DataDir = dir
	}
}

// WithEngine selects the storage backend
func WithEngine(kind string) Option {
	return func(o *Options) {
		o.EngineKind = kind
	}
}

// WithRegistry sets the schema registry domains are opened against
func WithRegistry(r *registry.Registry) Option {
	return func(o *Options) {
		o.Registry = r
	}
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetrics enables prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithClock sets a custom time function for testing
func WithClock(fn func() time.Time) Option {
	return func(o *Options) {
		o.Clock = fn
	}
}

// WithFileSystem sets the file system used by the JSON engine
func WithFileSystem(fs engine.FileSystem) Option {
	return func(o *Options) {
		o.FileSystem = fs
	}
}

// WithFileLockFactory sets the lock factory used by the JSON engine
func WithFileLockFactory(f engine.FileLockFactory) Option {
	return func(o *Options) {
		o.LockFactory = f
	}
}

// WithEngineOpener replaces engine.Open
func WithEngineOpener(fn OpenEngineFunc) Option {
	return func(o *Options) {
		o.OpenEngine = fn
	}
}

func buildOptions(opts []Option) Options {
	o := Options{DataDir: ".", EngineKind: engine.KindBadger}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Registry == nil {
		o.Registry = registry.Builtin()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.OpenEngine == nil {
		o.OpenEngine = engine.Open
	}
	return o
}

func (o Options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(o.Logger),
		engine.WithTimeFunc(o.Clock),
	}
	if o.FileSystem != nil {
		opts = append(opts, engine.WithFileSystem(o.FileSystem))
	}
	if o.LockFactory != nil {
		opts = append(opts, engine.WithFileLockFactory(o.LockFactory))
	}
	return opts
}
