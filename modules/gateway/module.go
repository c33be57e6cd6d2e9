// Package gateway wires the HTTP route table into the boot sequence. It
// verifies after unit loading that every registered route points at a
// controller the symbol registry can resolve, so a broken route fails the
// boot instead of the first request.
package gateway

import (
	"context"
	"fmt"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register installs the route verification callback.
func (m *Module) Register(h *registry.Host) {
	h.AfterAppLoads(func(ctx context.Context) error {
		return verifyRoutes(ctx, h)
	})
}

// verifyRoutes resolves every route's controller against the symbol
// registry.
func verifyRoutes(ctx context.Context, h *registry.Host) error {
	logger := ctxlog.FromContext(ctx)

	for _, path := range h.Routes.Paths() {
		if _, ok := h.Routes.Resolve(path, h.Symbols); !ok {
			route, _ := h.Routes.Lookup(path)
			return fmt.Errorf("route %q resolves to undefined controller %q", path, route.Controller)
		}
	}

	logger.Debug("Gateway routes verified.", "count", h.Routes.Len())
	return nil
}
