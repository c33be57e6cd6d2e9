// Package templates adds the view layer to the boot sequence: it registers
// the "view" load root and a boot step that parses every template file it
// finds, so template syntax errors surface at startup.
package templates

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/fsutil"
	"github.com/vk/strapgo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// Register adds the "view" load root and inserts the template parsing step
// right after unit loading. The root is registered without a glob: templates
// are not unit files and must not be picked up by the unit loader.
func (m *Module) Register(h *registry.Host) {
	h.Paths.Register("view", filepath.Join(h.Root, "app", "views"), "")

	h.Pipeline.Register("templates", func(ctx context.Context) error {
		return m.parseAll(ctx, h)
	})
	h.Pipeline.After("templates", "units")

	h.BeforeWorkerShutdown(func() {
		m.mu.Lock()
		m.cache = nil
		m.mu.Unlock()
	})
}

// parseAll parses every file under the "view" root and caches the result
// keyed by base name.
func (m *Module) parseAll(ctx context.Context, h *registry.Host) error {
	logger := ctxlog.FromContext(ctx)

	entry, ok := h.Paths.Lookup("view")
	if !ok {
		return nil
	}
	files, err := fsutil.FindFiles(entry.Root, "*.tmpl")
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*template.Template, len(files))
	for _, file := range files {
		tmpl, err := template.ParseFiles(file)
		if err != nil {
			return fmt.Errorf("template %s failed to parse: %w", file, err)
		}
		m.cache[filepath.Base(file)] = tmpl
	}

	logger.Debug("Templates parsed.", "count", len(m.cache))
	return nil
}

// Lookup returns a parsed template by base name.
func (m *Module) Lookup(name string) (*template.Template, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmpl, ok := m.cache[name]
	return tmpl, ok
}
