// Package symbol holds the live definitions produced by loading unit files.
//
// The registry is the single source of truth for "what is currently
// defined". Unloading a unit file removes the symbols it declared, except
// names matching the protected pattern: other live state (the route table in
// particular) keys off those names, so they must survive a reload. Consumers
// that reference a symbol across reloads must hold its name, never the
// *Symbol pointer: redefinition replaces the entry and bumps Generation.
package symbol

import (
	"regexp"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Symbol is one named definition declared by a unit file.
type Symbol struct {
	Name    string
	Kind    string
	Source  string // unit file that declared it
	Extends string
	Uses    []string
	Attrs   cty.Value

	// Generation starts at 1 and increments each time the name is redefined,
	// so tests and diagnostics can observe that reload produced a fresh
	// definition even though the name resolves the same way.
	Generation int
}

// Registry is the symbol table for one App instance. Mutation is
// single-writer (the unit loader serializes all loads); the lock exists for
// concurrent readers such as the status endpoint.
type Registry struct {
	mu          sync.RWMutex
	symbols     map[string]*Symbol
	generations map[string]int
	protected   *regexp.Regexp
}

// New creates an empty registry. protected may be nil, in which case no
// name survives an unload.
func New(protected *regexp.Regexp) *Registry {
	return &Registry{
		symbols:     make(map[string]*Symbol),
		generations: make(map[string]int),
		protected:   protected,
	}
}

// Define inserts or replaces the definition for s.Name and returns the
// stored symbol with its generation assigned.
func (r *Registry) Define(s Symbol) *Symbol {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generations[s.Name]++
	s.Generation = r.generations[s.Name]
	stored := s
	r.symbols[s.Name] = &stored
	return &stored
}

// Lookup returns the current definition for name.
func (r *Registry) Lookup(name string) (*Symbol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.symbols[name]
	return s, ok
}

// Defined reports whether name currently resolves.
func (r *Registry) Defined(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Protected reports whether name matches the protected pattern and must
// survive unloads.
func (r *Registry) Protected(name string) bool {
	return r.protected != nil && r.protected.MatchString(name)
}

// Names returns every defined name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for name := range r.symbols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of defined symbols.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.symbols)
}

// Snapshot returns the current name set. The loader diffs snapshots taken
// before and after applying a file to attribute new symbols to it.
func (r *Registry) Snapshot() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.symbols))
	for name := range r.symbols {
		out[name] = struct{}{}
	}
	return out
}

// RemoveSource removes every symbol attributed to source, skipping protected
// names. It returns the removed names and the protected names it kept,
// both sorted.
func (r *Registry) RemoveSource(source string) (removed, kept []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range r.symbols {
		if s.Source != source {
			continue
		}
		if r.protected != nil && r.protected.MatchString(name) {
			kept = append(kept, name)
			continue
		}
		delete(r.symbols, name)
		removed = append(removed, name)
	}
	sort.Strings(removed)
	sort.Strings(kept)
	return removed, kept
}
