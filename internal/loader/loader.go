// Package loader loads, unloads and reloads unit files, the declarative
// HCL sources that define an application's symbols.
//
// # Why deferral instead of dependency ordering
//
// Unit files may reference symbols defined by files that sort later. Rather
// than asking users to declare a load order, the loader defers any file that
// hits an undefined reference and retries the whole pending queue until it
// either drains or stops shrinking. The iteration count is bounded by the
// initial queue length: every pass must load at least one file or the run
// is declared fatal, naming every file still stuck.
//
// Reload discipline: all mutation of the records and the symbol registry
// goes through this loader, and every public entry point takes the same
// lock, so a watcher tick and an explicit reload request can never run
// interleaved.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/fsutil"
	"github.com/vk/strapgo/internal/symbol"
)

// Record is the loader's bookkeeping for one successfully loaded unit file:
// the symbols it declared, the sub-files it pulled in, and the modification
// time observed at load. Records are cleared and rebuilt on each reload.
type Record struct {
	Symbols  []string
	Requires []string
	ModTime  time.Time
}

type pendingEntry struct {
	path  string
	cause error
}

// Loader owns the Loaded Unit Records and the pending-load queue.
type Loader struct {
	mu      sync.Mutex
	symbols *symbol.Registry

	trackMtime bool

	records  map[string]*Record
	required map[string]bool
	failures map[string]time.Time

	pending    []pendingEntry
	pendingSet map[string]bool

	// respawn, when set, replaces in-place reload: under process isolation
	// the worker must be killed and respawned instead, because unloading
	// symbols in the worker cannot be reconciled with the master's view of
	// the process.
	respawn func()
}

// New creates a loader writing into the given symbol registry. trackMtime
// enables modification-time recording, which the change watcher depends on.
func New(symbols *symbol.Registry, trackMtime bool) *Loader {
	return &Loader{
		symbols:    symbols,
		trackMtime: trackMtime,
		records:    make(map[string]*Record),
		required:   make(map[string]bool),
		failures:   make(map[string]time.Time),
		pendingSet: make(map[string]bool),
	}
}

// SetRespawn installs the worker-respawn action used instead of in-place
// reload when process isolation is active.
func (l *Loader) SetRespawn(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.respawn = fn
}

// Record returns the load record for path.
func (l *Loader) Record(path string) (*Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[path]
	return r, ok
}

// Baseline returns the modification time the watcher should diff against:
// the recorded load time, or the time of the last failed attempt for files
// that never loaded cleanly.
func (l *Loader) Baseline(path string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.records[path]; ok {
		return r.ModTime, true
	}
	if t, ok := l.failures[path]; ok {
		return t, true
	}
	return time.Time{}, false
}

// LoadedFiles returns the number of unit files currently loaded.
func (l *Loader) LoadedFiles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// LoadFile reads and applies a single unit file.
func (l *Loader) LoadFile(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadFile(ctx, path)
}

// loadFile applies one unit file under the loader lock. Defines are applied
// top to bottom; an undefined reference stops execution mid-file, exactly
// like re-running the file later will pick up from a clean slate.
func (l *Loader) loadFile(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)

	parsed, err := parseUnitFile(hclparse.NewParser(), path)
	if err != nil {
		l.noteFailure(path)
		return err
	}

	// Mark the file before walking its requires, so two files that require
	// each other terminate instead of recursing. The mark is rolled back on
	// failure so the deferral queue retries from a clean slate.
	wasRequired := l.required[path]
	l.required[path] = true
	fail := func(loadErr error) error {
		if !wasRequired {
			delete(l.required, path)
		}
		l.noteFailure(path)
		return loadErr
	}

	symbolsBefore := l.symbols.Snapshot()
	requiredBefore := l.snapshotRequired()

	dir := filepath.Dir(path)
	for _, rel := range parsed.Requires {
		sub := rel
		if !filepath.IsAbs(sub) {
			sub = filepath.Join(dir, rel)
		}
		if err := l.requireFile(ctx, sub); err != nil {
			return fail(err)
		}
	}

	for _, def := range parsed.Defines {
		for _, ref := range def.references() {
			if !l.symbols.Defined(ref) {
				return fail(&UnresolvedError{Path: path, Symbol: ref})
			}
		}
		s := l.symbols.Define(symbol.Symbol{
			Name:    def.Name,
			Kind:    def.Kind,
			Source:  path,
			Extends: def.Extends,
			Uses:    def.Uses,
			Attrs:   def.Attrs,
		})
		logger.Debug("Defined symbol.", "name", s.Name, "kind", s.Kind, "generation", s.Generation, "file", path)
	}

	rec := &Record{
		Symbols:  diffKeys(symbolsBefore, l.symbols.Snapshot()),
		Requires: diffBools(requiredBefore, l.required),
	}
	// Snapshot diffing misses protected symbols that survived an unload and
	// were just redefined; attribute every define explicitly as well.
	rec.Symbols = mergeNames(rec.Symbols, parsed.Defines)

	if l.trackMtime {
		if info, err := os.Stat(path); err == nil {
			rec.ModTime = info.ModTime()
		}
	}

	l.records[path] = rec
	delete(l.failures, path)

	logger.Debug("Unit file loaded.", "file", path, "symbols", len(rec.Symbols), "requires", len(rec.Requires))
	return nil
}

// requireFile loads a sub-file at most once per process.
func (l *Loader) requireFile(ctx context.Context, path string) error {
	if l.required[path] {
		return nil
	}
	return l.loadFile(ctx, path)
}

// noteFailure remembers when a failed load was attempted so the watcher only
// retries the file after it changes again.
func (l *Loader) noteFailure(path string) {
	if !l.trackMtime {
		return
	}
	if info, err := os.Stat(path); err == nil {
		l.failures[path] = info.ModTime()
	}
}

// LoadPaths expands each path (a file, directory, or glob) into a sorted
// file list and loads every file. Syntax errors are logged and skipped;
// undefined references defer the file into the pending queue for
// ResolvePending. Any other error is fatal.
func (l *Loader) LoadPaths(ctx context.Context, patterns ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	logger := ctxlog.FromContext(ctx)

	for _, pattern := range patterns {
		files, err := fsutil.Expand(pattern)
		if err != nil {
			return fmt.Errorf("failed to expand load path %q: %w", pattern, err)
		}
		for _, file := range files {
			err := l.loadFile(ctx, file)
			switch {
			case err == nil:
			case isSyntax(err):
				logger.Warn("Skipping unit file with syntax errors; it will be retried on its next change.", "file", file, "error", err)
			case isUnresolved(err):
				logger.Debug("Deferring unit file with unresolved reference.", "file", file, "error", err)
				l.enqueue(file, err)
			default:
				return err
			}
		}
	}
	return nil
}

// ResolvePending retries every deferred file until the queue drains. A full
// pass that fails to shrink the queue is fatal: the remaining files are
// reported together with their triggering errors.
func (l *Loader) ResolvePending(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	logger := ctxlog.FromContext(ctx)

	for len(l.pending) > 0 {
		before := len(l.pending)
		queue := l.pending
		l.pending = nil
		l.pendingSet = make(map[string]bool)

		for _, entry := range queue {
			err := l.loadFile(ctx, entry.path)
			switch {
			case err == nil:
				logger.Debug("Deferred unit file resolved.", "file", entry.path)
			case isUnresolved(err):
				l.enqueue(entry.path, err)
			case isSyntax(err):
				logger.Warn("Deferred unit file now has syntax errors; dropping it from this pass.", "file", entry.path, "error", err)
			default:
				return err
			}
		}

		if len(l.pending) >= before {
			stalled := make([]StalledFile, 0, len(l.pending))
			for _, entry := range l.pending {
				stalled = append(stalled, StalledFile{Path: entry.path, Err: entry.cause})
			}
			// Drain the queue: the stalled files keep their failure
			// baselines and are only retried after they change again.
			l.pending = nil
			l.pendingSet = make(map[string]bool)
			return &NoProgressError{Stalled: stalled}
		}
	}
	return nil
}

// enqueue adds a file for a later resolution pass, deduplicated.
func (l *Loader) enqueue(path string, cause error) {
	if l.pendingSet[path] {
		return
	}
	l.pendingSet[path] = true
	l.pending = append(l.pending, pendingEntry{path: path, cause: cause})
}

// PendingCount returns the size of the pending-load queue.
func (l *Loader) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Unload removes every symbol the record attributes to path (protected
// names survive) and clears the file from the require bookkeeping.
func (l *Loader) Unload(ctx context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unload(ctx, path)
}

func (l *Loader) unload(ctx context.Context, path string) {
	logger := ctxlog.FromContext(ctx)
	removed, kept := l.symbols.RemoveSource(path)
	delete(l.records, path)
	delete(l.required, path)
	logger.Debug("Unit file unloaded.", "file", path, "removed", removed, "protected", kept)
}

// Reload re-executes a changed unit file. Under process isolation the
// worker is killed and respawned instead of unloading in place.
func (l *Loader) Reload(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	logger := ctxlog.FromContext(ctx)

	if l.respawn != nil {
		logger.Info("Unit file changed; requesting worker respawn.", "file", path)
		l.respawn()
		return nil
	}

	logger.Info("Reloading unit file.", "file", path)
	l.unload(ctx, path)
	if err := l.loadFile(ctx, path); err != nil {
		// A reload that trips over a not-yet-reloaded provider joins the
		// pending queue; a ResolvePending pass after the watcher's tick
		// picks it up once the provider has loaded.
		if isUnresolved(err) {
			l.enqueue(path, err)
		}
		return err
	}
	return nil
}

func (l *Loader) snapshotRequired() map[string]bool {
	out := make(map[string]bool, len(l.required))
	for k, v := range l.required {
		out[k] = v
	}
	return out
}

func isSyntax(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

func isUnresolved(err error) bool {
	var ue *UnresolvedError
	return errors.As(err, &ue)
}

func diffKeys(before, after map[string]struct{}) []string {
	var out []string
	for k := range after {
		if _, ok := before[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func diffBools(before, after map[string]bool) []string {
	var out []string
	for k := range after {
		if !before[k] {
			out = append(out, k)
		}
	}
	return out
}

func mergeNames(names []string, defines []*hclDefine) []string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, d := range defines {
		if !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	return names
}
