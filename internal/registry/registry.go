package registry

import (
	"context"

	"github.com/vk/strapgo/internal/hooks"
	"github.com/vk/strapgo/internal/paths"
	"github.com/vk/strapgo/internal/pipeline"
	"github.com/vk/strapgo/internal/routes"
	"github.com/vk/strapgo/internal/symbol"
)

// Module is the interface that all core modules must implement to be
// registered. A module only touches the Host's extension points: lifecycle
// callbacks, path registration, and boot-step reordering.
type Module interface {
	Register(h *Host)
}

// Host is the surface a module registers against. It aggregates the
// registries of a single application instance without exposing the
// application itself.
type Host struct {
	// Root is the application root directory modules resolve their own
	// load roots against.
	Root string

	Paths    *paths.Registry
	Pipeline *pipeline.Pipeline
	Hooks    *hooks.Registry
	Routes   *routes.Table
	Symbols  *symbol.Registry

	beforeLoad []func(ctx context.Context) error
	afterLoad  []func(ctx context.Context) error
}

// NewHost creates a Host over an application's registries.
func NewHost(root string, p *paths.Registry, pl *pipeline.Pipeline, h *hooks.Registry, rt *routes.Table, sym *symbol.Registry) *Host {
	return &Host{
		Root:     root,
		Paths:    p,
		Pipeline: pl,
		Hooks:    h,
		Routes:   rt,
		Symbols:  sym,
	}
}

// BeforeAppLoads appends a callback invoked before the unit files load.
func (h *Host) BeforeAppLoads(fn func(ctx context.Context) error) {
	h.beforeLoad = append(h.beforeLoad, fn)
}

// AfterAppLoads appends a callback invoked after the unit files load.
func (h *Host) AfterAppLoads(fn func(ctx context.Context) error) {
	h.afterLoad = append(h.afterLoad, fn)
}

// BeforeWorkerShutdown appends a callback run in the worker before it reaps
// itself.
func (h *Host) BeforeWorkerShutdown(fn func()) {
	h.Hooks.Add(hooks.Worker, fn)
}

// BeforeMasterShutdown appends a callback run in the master before a
// graceful exit.
func (h *Host) BeforeMasterShutdown(fn func()) {
	h.Hooks.Add(hooks.Master, fn)
}

// BeforeLoadCallbacks returns the registered pre-load callbacks in
// registration order.
func (h *Host) BeforeLoadCallbacks() []func(ctx context.Context) error {
	return h.beforeLoad
}

// AfterLoadCallbacks returns the registered post-load callbacks in
// registration order.
func (h *Host) AfterLoadCallbacks() []func(ctx context.Context) error {
	return h.afterLoad
}
