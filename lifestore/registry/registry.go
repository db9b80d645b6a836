// Package registry holds the declared schema versions of every domain.
//
// A domain's schema is a list of versions numbered 1..N. Each version is a
// delta over the previous one; folding the deltas gives the collections a
// store at that version must have. The registry is a pure lookup: it never
// touches storage.
package registry

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/lifestore/internal/validation"
	"github.com/arthur-debert/lifestore/lifestore/migration"
	"github.com/arthur-debert/lifestore/types"
)

//go:embed schemas/*.yaml
var builtinSchemas embed.FS

// Schema is the folded state of a domain at one version
type Schema struct {
	Domain      string
	Version     int
	Collections []types.CollectionSchema // creation order
}

// Collection returns the declaration of name
func (s Schema) Collection(name string) (types.CollectionSchema, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return types.CollectionSchema{}, false
}

// Names returns the collection names in creation order
func (s Schema) Names() []string {
	names := make([]string, len(s.Collections))
	for i, c := range s.Collections {
		names[i] = c.Name
	}
	return names
}

// Apply folds one version delta into the schema and returns the result.
// The receiver is not modified. The delta is assumed to be validated.
func (s Schema) Apply(v types.Version) Schema {
	out := Schema{Domain: s.Domain, Version: v.Number}
	for _, c := range s.Collections {
		out.Collections = append(out.Collections, c.Clone())
	}
	for _, c := range v.Collections {
		out.Collections = append(out.Collections, c.Clone())
	}
	for _, d := range v.Indexes {
		for i := range out.Collections {
			if out.Collections[i].Name == d.Collection {
				out.Collections[i].Indexes = append(out.Collections[i].Indexes, d.Index)
			}
		}
	}
	for _, d := range v.DropIndexes {
		for i := range out.Collections {
			if out.Collections[i].Name != d.Collection {
				continue
			}
			kept := out.Collections[i].Indexes[:0]
			for _, idx := range out.Collections[i].Indexes {
				if idx.Field != d.Index.Field {
					kept = append(kept, idx)
				}
			}
			out.Collections[i].Indexes = kept
		}
	}
	for _, name := range v.DropCollections {
		kept := out.Collections[:0]
		for _, c := range out.Collections {
			if c.Name != name {
				kept = append(kept, c)
			}
		}
		out.Collections = kept
	}
	return out
}

func (s Schema) byName() map[string]types.CollectionSchema {
	m := make(map[string]types.CollectionSchema, len(s.Collections))
	for _, c := range s.Collections {
		m[c.Name] = c
	}
	return m
}

// Registry maps domain names to their schema versions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	domains map[string][]types.Version
}

// New creates an empty registry
func New() *Registry {
	return &Registry{domains: make(map[string][]types.Version)}
}

// Builtin returns a registry holding the payments and food domains
func Builtin() *Registry {
	r := New()
	entries, err := builtinSchemas.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("registry: reading embedded schemas: %v", err))
	}
	for _, entry := range entries {
		f, err := builtinSchemas.Open("schemas/" + entry.Name())
		if err != nil {
			panic(fmt.Sprintf("registry: opening %s: %v", entry.Name(), err))
		}
		err = r.LoadYAML(f)
		_ = f.Close()
		if err != nil {
			panic(fmt.Sprintf("registry: loading %s: %v", entry.Name(), err))
		}
	}
	return r
}

// Register declares the versions of a domain, replacing any previous
// declaration. Versions must be numbered 1..N in order and every delta
// must apply cleanly on top of the previous versions.
func (r *Registry) Register(domain string, versions ...types.Version) error {
	if err := validation.ValidateName("domain", domain); err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("%w: domain %s declares no versions", types.ErrInvalidSchema, domain)
	}

	schema := Schema{Domain: domain}
	for i, v := range versions {
		if v.Number != i+1 {
			return fmt.Errorf("%w: domain %s: expected version %d, got %d", types.ErrInvalidSchema, domain, i+1, v.Number)
		}
		if err := validation.ValidateDelta(schema.byName(), v); err != nil {
			return fmt.Errorf("domain %s: %w", domain, err)
		}
		for _, m := range v.Migrations {
			if m.Op == types.MigrationTransform && !migration.HasTransformer(m.Transformer) {
				return fmt.Errorf("%w: domain %s: version %d: unknown transformer %q", types.ErrInvalidSchema, domain, v.Number, m.Transformer)
			}
		}
		schema = schema.Apply(v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[domain] = append([]types.Version(nil), versions...)
	return nil
}

// Domains returns the registered domain names, sorted
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions returns the ordered version deltas of a domain
func (r *Registry) Versions(domain string) ([]types.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownDomain, domain)
	}
	return append([]types.Version(nil), versions...), nil
}

// Latest returns the newest version number of a domain
func (r *Registry) Latest(domain string) (int, error) {
	versions, err := r.Versions(domain)
	if err != nil {
		return 0, err
	}
	return versions[len(versions)-1].Number, nil
}

// Schema folds the deltas of a domain up to and including version
func (r *Registry) Schema(domain string, version int) (Schema, error) {
	versions, err := r.Versions(domain)
	if err != nil {
		return Schema{}, err
	}
	if version < 1 || version > len(versions) {
		return Schema{}, fmt.Errorf("%w: %s has no version %d", types.ErrUnsupportedSchemaVersion, domain, version)
	}
	schema := Schema{Domain: domain}
	for _, v := range versions[:version] {
		schema = schema.Apply(v)
	}
	return schema, nil
}

// File is the YAML document format of a schema file
type File struct {
	Domain   string          `yaml:"domain"`
	Versions []types.Version `yaml:"versions"`
}

// LoadYAML registers every domain document found in rd. A stream may hold
// several documents separated by "---".
func (r *Registry) LoadYAML(rd io.Reader) error {
	decoder := yaml.NewDecoder(rd)
	decoder.KnownFields(true) // Reject unknown fields
	for {
		var f File
		err := decoder.Decode(&f)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: parsing schema: %v", types.ErrInvalidSchema, err)
		}
		if err := r.Register(f.Domain, f.Versions...); err != nil {
			return err
		}
	}
}

// LoadFile registers the domains declared in a YAML schema file
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open schema file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := r.LoadYAML(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
