// Package pipeline implements the ordered boot-step sequence that drives
// application startup.
//
// # Why a mutable ordered list
//
// Boot steps are registered in a default order, but plugins and application
// code may relocate a step relative to another before the pipeline runs
// (e.g. "load my schema units before the router"). Execution then consumes
// the pending list strictly front to back, moving each step onto the
// completed list. There is no retry here: a failing step aborts the whole
// boot, because a half-booted server is worse than no server. Retry logic
// for individual source files lives in the unit loader.
package pipeline

import (
	"context"
	"fmt"

	"github.com/vk/strapgo/internal/ctxlog"
)

// Step is one named phase of the boot sequence.
type Step struct {
	Name string
	fn   func(ctx context.Context) error
}

// Pipeline holds the pending and completed boot steps for one App.
type Pipeline struct {
	pending   []*Step
	completed []string
	running   bool
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Register appends a step to the end of the pending list. Step names are
// unique; registering a duplicate is a programmer error.
func (p *Pipeline) Register(name string, fn func(ctx context.Context) error) {
	if p.indexOf(name) >= 0 || p.Finished(name) {
		panic(fmt.Sprintf("pipeline: step %q already registered", name))
	}
	p.pending = append(p.pending, &Step{Name: name, fn: fn})
}

// Before relocates the step called name to the position immediately before
// anchor in the pending list. If either name or anchor is not currently
// pending (unknown, or already executed), the call is a no-op.
func (p *Pipeline) Before(name, anchor string) {
	p.move(name, anchor, 0)
}

// After relocates the step called name to the position immediately after
// anchor in the pending list. Same no-op semantics as Before.
func (p *Pipeline) After(name, anchor string) {
	p.move(name, anchor, 1)
}

func (p *Pipeline) move(name, anchor string, offset int) {
	if name == anchor {
		return
	}
	from := p.indexOf(name)
	if from < 0 || p.indexOf(anchor) < 0 {
		return
	}
	step := p.pending[from]
	p.pending = append(p.pending[:from], p.pending[from+1:]...)

	// The anchor may have shifted after removal; look it up again.
	to := p.indexOf(anchor) + offset
	p.pending = append(p.pending, nil)
	copy(p.pending[to+1:], p.pending[to:])
	p.pending[to] = step
}

func (p *Pipeline) indexOf(name string) int {
	for i, s := range p.pending {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// RunAll repeatedly pops the first pending step and invokes it until the
// pending list is empty. A step error aborts the run; steps registered or
// reordered while running only affect the not-yet-executed remainder.
func (p *Pipeline) RunAll(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	p.running = true
	defer func() { p.running = false }()

	for len(p.pending) > 0 {
		step := p.pending[0]
		p.pending = p.pending[1:]

		logger.Debug("Running boot step.", "step", step.Name)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("boot step %q failed: %w", step.Name, err)
		}
		p.completed = append(p.completed, step.Name)
	}
	return nil
}

// Finished reports whether the named step has completed.
func (p *Pipeline) Finished(name string) bool {
	for _, n := range p.completed {
		if n == name {
			return true
		}
	}
	return false
}

// Completed returns the names of the executed steps in execution order.
func (p *Pipeline) Completed() []string {
	out := make([]string, len(p.completed))
	copy(out, p.completed)
	return out
}

// Pending returns the names of the not-yet-executed steps in order.
func (p *Pipeline) Pending() []string {
	out := make([]string, 0, len(p.pending))
	for _, s := range p.pending {
		out = append(out, s.Name)
	}
	return out
}
