// Package routes holds the route table built from the router file.
//
// Route entries reference controller symbols by NAME, never by pointer.
// Controller symbols are protected from unload for exactly this reason:
// a reload replaces the definition behind the name while every route entry
// keeps resolving through the stable handle.
package routes

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/symbol"
)

// Route maps a request path to a controller symbol name.
type Route struct {
	Path       string
	Controller string
}

// Table is the route table for one App instance.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{routes: make(map[string]Route)}
}

// hclRouterFile is the decode target for a router file:
//
//	route "/users" {
//	  controller = "UsersController"
//	}
type hclRouterFile struct {
	Routes []*hclRoute `hcl:"route,block"`
}

type hclRoute struct {
	Path       string `hcl:"path,label"`
	Controller string `hcl:"controller"`
}

// LoadFile parses a router file and replaces the table contents. Referenced
// controllers must already be defined; the router loads after the unit
// files for that reason.
func (t *Table) LoadFile(ctx context.Context, path string, symbols *symbol.Registry) error {
	logger := ctxlog.FromContext(ctx)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("No router file present, route table left empty.", "file", path)
		return nil
	}

	hclFile, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse router file %s: %w", path, diags)
	}
	var parsed hclRouterFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode router file %s: %w", path, diags)
	}

	entries := make(map[string]Route, len(parsed.Routes))
	for _, r := range parsed.Routes {
		if !symbols.Defined(r.Controller) {
			return fmt.Errorf("route %q references undefined controller %q", r.Path, r.Controller)
		}
		entries[r.Path] = Route{Path: r.Path, Controller: r.Controller}
	}

	t.mu.Lock()
	t.routes = entries
	t.mu.Unlock()

	logger.Info("Route table loaded.", "file", path, "routes", len(entries))
	return nil
}

// Lookup returns the route registered for path.
func (t *Table) Lookup(path string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[path]
	return r, ok
}

// Resolve returns the current controller symbol for path. The two-step
// lookup (path → name → symbol) is what lets controllers be redefined by a
// reload without invalidating the table.
func (t *Table) Resolve(path string, symbols *symbol.Registry) (*symbol.Symbol, bool) {
	r, ok := t.Lookup(path)
	if !ok {
		return nil, false
	}
	return symbols.Lookup(r.Controller)
}

// Paths returns every routed path, sorted.
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.routes))
	for p := range t.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
