// Package schema compiles entity schema documents and serves them through a
// registry whose contents are swapped atomically on reload.
package schema

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Set is an immutable collection of compiled schema definitions. Operations
// that need several lookups take one Set so a concurrent reload cannot mix
// old and new definitions.
type Set struct {
	defs       map[string]*types.SchemaDefinition
	generation uint64
	loadedAt   time.Time
}

// Resolve returns the definition for name or types.ErrUnknownType.
func (s *Set) Resolve(name string) (*types.SchemaDefinition, error) {
	def, ok := s.defs[name]
	if !ok {
		return nil, types.ErrUnknownType
	}
	return def, nil
}

// Types returns the registered type names in lexical order.
func (s *Set) Types() []string {
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generation counts successful loads; the empty registry is generation 0.
func (s *Set) Generation() uint64 { return s.generation }

// LoadedAt is when this set became active.
func (s *Set) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of registered types.
func (s *Set) Len() int { return len(s.defs) }

// Registry holds the active schema set.
type Registry struct {
	active atomic.Pointer[Set]

	mu     sync.Mutex // serializes Load and Reload
	loaded bool

	logger *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger.Named("schema")}
	r.active.Store(&Set{defs: map[string]*types.SchemaDefinition{}})
	return r
}

// Load compiles docs and installs them as the initial set. The batch is
// rejected as a whole if any document fails to compile. A registry that is
// already loaded returns types.ErrRegistryLoaded.
func (r *Registry) Load(docs []Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return types.ErrRegistryLoaded
	}
	return r.install(docs)
}

// Reload compiles docs and atomically replaces the active set. If
// compilation fails the active set is left unchanged.
func (r *Registry) Reload(docs []Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.install(docs)
}

func (r *Registry) install(docs []Document) error {
	defs, err := compileAll(docs)
	if err != nil {
		r.logger.Warn("schema batch rejected", zap.Error(err))
		return err
	}

	prev := r.active.Load()
	next := &Set{
		defs:       defs,
		generation: prev.generation + 1,
		loadedAt:   time.Now().UTC(),
	}
	r.active.Store(next)
	r.loaded = true

	r.logger.Info("schemas installed",
		zap.Uint64("generation", next.generation),
		zap.Strings("types", next.Types()),
	)
	return nil
}

// Snapshot returns the active set.
func (r *Registry) Snapshot() *Set {
	return r.active.Load()
}

// Resolve looks name up in the active set.
func (r *Registry) Resolve(name string) (*types.SchemaDefinition, error) {
	return r.Snapshot().Resolve(name)
}

// compileAll compiles every document and reports every failure joined.
func compileAll(docs []Document) (map[string]*types.SchemaDefinition, error) {
	defs := make(map[string]*types.SchemaDefinition, len(docs))
	var errs []error
	for _, doc := range docs {
		def, err := Compile(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := defs[def.Name]; dup {
			errs = append(errs, &types.SchemaError{Type: def.Name, Reason: "duplicate type name"})
			continue
		}
		defs[def.Name] = def
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return defs, nil
}
