// Package hooks keeps the ordered shutdown callback lists consumed by the
// process supervisor. Two lists exist: one run in the worker before it
// reaps itself, one run in the master just before it exits. Registration is
// append-only and happens during the load phase; each list runs at most once
// per process, immediately before termination.
package hooks

import (
	"context"
	"fmt"

	"github.com/vk/strapgo/internal/ctxlog"
)

// List selects which of the two callback lists an operation targets.
type List int

const (
	// Worker callbacks run in the worker process before it reaps itself.
	Worker List = iota
	// Master callbacks run in the master process before a graceful exit.
	Master
)

func (l List) String() string {
	switch l {
	case Worker:
		return "before-worker-shutdown"
	case Master:
		return "before-master-shutdown"
	default:
		return fmt.Sprintf("hooks.List(%d)", int(l))
	}
}

// Registry holds the two ordered callback lists for one process.
type Registry struct {
	worker []func()
	master []func()
	ran    map[List]bool
}

// New creates an empty hook registry.
func New() *Registry {
	return &Registry{ran: make(map[List]bool)}
}

// Add appends fn to the selected list.
func (r *Registry) Add(list List, fn func()) {
	switch list {
	case Worker:
		r.worker = append(r.worker, fn)
	case Master:
		r.master = append(r.master, fn)
	default:
		panic(fmt.Sprintf("hooks: unknown list %d", int(list)))
	}
}

// Len returns the number of callbacks registered on the selected list.
func (r *Registry) Len(list List) int {
	if list == Worker {
		return len(r.worker)
	}
	return len(r.master)
}

// Run invokes every callback on the selected list in registration order.
// A panicking callback is logged at error level and never prevents the
// remaining callbacks from running. The process exits right after these
// run, so a second Run on the same list is a no-op.
func (r *Registry) Run(ctx context.Context, list List) {
	logger := ctxlog.FromContext(ctx)
	if r.ran[list] {
		logger.Debug("Shutdown hooks already ran, skipping.", "list", list.String())
		return
	}
	r.ran[list] = true

	callbacks := r.worker
	if list == Master {
		callbacks = r.master
	}
	logger.Debug("Running shutdown hooks.", "list", list.String(), "count", len(callbacks))

	for i, fn := range callbacks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("Shutdown hook panicked; continuing with remaining hooks.",
						"list", list.String(), "index", i, "panic", fmt.Sprintf("%v", p))
				}
			}()
			fn()
		}()
	}
}
