// Package paths maps logical load-root names (e.g. "model", "controller",
// "config") to a directory plus an optional glob pattern. Every loader in
// the boot sequence discovers its files through this registry, so plugins
// and application code can add their own roots without touching the core.
package paths

import (
	"path/filepath"
	"sort"

	"github.com/vk/strapgo/internal/fsutil"
)

// Entry describes a single registered load root. An empty Glob means the
// entry is not auto-loaded; it only serves as a named location (the router
// file and raw configuration directories work this way).
type Entry struct {
	Name string
	Root string
	Glob string
}

// AutoLoad reports whether files under this entry are discovered and loaded
// automatically.
func (e Entry) AutoLoad() bool {
	return e.Glob != ""
}

// Files returns the sorted list of files currently matching the entry's
// glob. Entries without a glob always return an empty list.
func (e Entry) Files() ([]string, error) {
	if !e.AutoLoad() {
		return nil, nil
	}
	return fsutil.FindFiles(e.Root, e.Glob)
}

// Join resolves a path relative to the entry's root directory.
func (e Entry) Join(parts ...string) string {
	return filepath.Join(append([]string{e.Root}, parts...)...)
}

// Registry holds the named load roots for one App instance.
type Registry struct {
	names   []string
	entries map[string]Entry
}

// New creates an empty path registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds or overwrites the entry for name. Passing an empty glob
// registers a location that is never auto-loaded.
func (r *Registry) Register(name, root, glob string) {
	if _, exists := r.entries[name]; !exists {
		r.names = append(r.names, name)
	}
	r.entries[name] = Entry{Name: name, Root: root, Glob: glob}
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// AutoLoadEntries returns the glob-bearing entries in registration order.
func (r *Registry) AutoLoadEntries() []Entry {
	var out []Entry
	for _, name := range r.names {
		if e := r.entries[name]; e.AutoLoad() {
			out = append(out, e)
		}
	}
	return out
}

// AllFiles returns the union of every auto-load entry's current file list,
// deduplicated and sorted.
func (r *Registry) AllFiles() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range r.AutoLoadEntries() {
		files, err := e.Files()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, nil
}
