package loader

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// SyntaxError reports a unit file that could not be parsed or decoded. It is
// recoverable: the file is skipped for the current pass and retried on the
// next detected change.
type SyntaxError struct {
	Path  string
	Diags hcl.Diagnostics
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("unit file %s has errors: %s", e.Path, e.Diags.Error())
}

// UnresolvedError reports a unit file that referenced a symbol nobody has
// defined yet. It is recoverable by deferral: other files get a chance to
// define the name before this one is retried.
type UnresolvedError struct {
	Path   string
	Symbol string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unit file %s references undefined symbol %q", e.Path, e.Symbol)
}

// StalledFile pairs a still-unloaded file with the error that deferred it.
type StalledFile struct {
	Path string
	Err  error
}

// NoProgressError is the fatal outcome of a resolution pass that could not
// shrink the pending queue. It names every file still unresolved, not just
// the first, so the boot failure is actionable in one read.
type NoProgressError struct {
	Stalled []StalledFile
}

func (e *NoProgressError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unable to resolve %d unit file(s), no progress possible:", len(e.Stalled))
	for _, s := range e.Stalled {
		fmt.Fprintf(&b, "\n- %s: %v", s.Path, s.Err)
	}
	return b.String()
}
