package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/rendis/statecascade/pkg/schema"
)

// Registry holds the named content stores (e.g. "master" and "web").
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register adds a store under name, replacing any previous one.
func (r *Registry) Register(name string, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = s
}

// Get returns the named store.
func (r *Registry) Get(name string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "store %q is not registered", name)
	}
	return s, nil
}

// Names returns the registered store names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenAll opens and migrates a libSQL store for every name → DSN pair.
// Stores opened before a failure are closed again.
func OpenAll(ctx context.Context, dsns map[string]string) (*Registry, error) {
	r := NewRegistry()
	for name, dsn := range dsns {
		s, err := NewLibSQLStore(dsn)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("open store %q: %w", name, err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			_ = r.Close()
			return nil, fmt.Errorf("migrate store %q: %w", name, err)
		}
		r.Register(name, s)
	}
	return r, nil
}

// Close closes every registered store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs *multierror.Error
	for name, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close store %q: %w", name, err))
		}
	}
	r.stores = make(map[string]Store)
	return errs.ErrorOrNil()
}
