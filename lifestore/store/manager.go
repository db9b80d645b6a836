// Package store opens domain stores and runs transactions against them.
//
// A Manager owns one Handle per domain. Opening a domain creates or
// upgrades its engine to the registry's latest schema version; the Handle
// then hands out transactions that read and write records while keeping
// every declared index in step with the records.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/arthur-debert/lifestore/lifestore/engine"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/types"
)

// ErrClosed is returned when a closed manager or handle is used
var ErrClosed = errors.New("store closed")

// Manager opens domains and keeps one live handle per domain
type Manager struct {
	opts    Options
	logger  *slog.Logger
	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewManager creates a manager. Without options it opens badger stores in
// the working directory against the built-in registry.
func NewManager(opts ...Option) *Manager {
	o := buildOptions(opts)
	return &Manager{
		opts:    o,
		logger:  o.Logger,
		handles: make(map[string]*Handle),
	}
}

// Registry returns the registry domains are opened against
func (m *Manager) Registry() *registry.Registry {
	return m.opts.Registry
}

// Open returns the live handle of domain, creating or upgrading its store
// on first use. Repeated calls return the same handle until it is closed.
func (m *Manager) Open(ctx context.Context, domain string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if h, ok := m.handles[domain]; ok {
		return h, nil
	}

	if _, err := m.opts.Registry.Latest(domain); err != nil {
		return nil, err
	}

	kind := m.opts.EngineKind
	path := engine.PathFor(kind, m.opts.DataDir, domain)
	if path != "" && kind != engine.KindJSON {
		if err := os.MkdirAll(m.opts.DataDir, 0755); err != nil {
			return nil, types.NewStorageError(domain, "open", fmt.Errorf("failed to create data directory: %w", err))
		}
	}
	eng, err := m.opts.OpenEngine(kind, path, m.opts.engineOptions()...)
	if err != nil {
		m.opts.Metrics.StorageFailure(domain)
		return nil, types.NewStorageError(domain, "open", err)
	}

	up := &upgrader{domain: domain, reg: m.opts.Registry, logger: m.logger}
	schema, report, err := up.run(ctx, eng)
	if err != nil {
		_ = eng.Close()
		if types.IsStorageFailure(err) {
			m.opts.Metrics.StorageFailure(domain)
		}
		m.logger.Error("failed to open domain", "domain", domain, "engine", kind, "error", err)
		return nil, err
	}
	m.opts.Metrics.Migrations(domain, len(report.Applied))

	h := newHandle(domain, schema, report, eng, m.opts)
	h.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.handles[domain] == h {
			delete(m.handles, domain)
		}
	}
	m.handles[domain] = h
	m.logger.Info("opened domain", "domain", domain, "engine", kind, "version", schema.Version,
		"from", report.From, "applied", len(report.Applied))
	return h, nil
}

// Domains returns the names of the open domains, sorted
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.handles))
	for name := range m.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every open handle. The manager cannot be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", h.domain, err))
		}
	}
	return errors.Join(errs...)
}
