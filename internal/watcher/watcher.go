// Package watcher implements the periodic file-change scan that drives live
// reload. It is deliberately a polling design: the set of watched files is
// recomputed every tick from the path registry's globs, so newly created
// files are picked up without any notification plumbing, and the loader's
// recorded modification times are the single baseline to diff against.
package watcher

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/loader"
	"github.com/vk/strapgo/internal/paths"
)

// DefaultInterval is the poll interval used when the configuration does not
// set one.
const DefaultInterval = 500 * time.Millisecond

// Watcher periodically diffs file modification times and triggers reloads.
type Watcher struct {
	paths    *paths.Registry
	loader   *loader.Loader
	interval time.Duration

	// appFile is the optional flat-layout application file watched in
	// addition to the glob-bearing path entries.
	appFile string
}

// New creates a watcher. An interval <= 0 falls back to DefaultInterval.
func New(p *paths.Registry, l *loader.Loader, interval time.Duration, appFile string) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{paths: p, loader: l, interval: interval, appFile: appFile}
}

// Start launches the periodic scan as a background task. It runs for the
// remaining lifetime of the process; the context only exists so tests can
// stop it.
func (w *Watcher) Start(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Change watcher started.", "interval", w.interval.String())

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("Change watcher stopped.")
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Tick performs one scan pass. Exported so tests can drive the watcher
// without waiting on the ticker.
func (w *Watcher) Tick(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	// Reloading replaces definitions; without a forced collection pass the
	// dead generations pile up between ticks.
	runtime.GC()

	files, err := w.paths.AllFiles()
	if err != nil {
		logger.Error("Change scan failed to list files.", "error", err)
		return
	}
	if w.appFile != "" {
		if _, err := os.Stat(w.appFile); err == nil {
			files = append(files, w.appFile)
		}
	}

	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			// Deleted between listing and stat; the next tick settles it.
			continue
		}
		baseline, known := w.loader.Baseline(file)
		if known && !info.ModTime().After(baseline) {
			continue
		}
		if err := w.loader.Reload(ctx, file); err != nil {
			var unresolved *loader.UnresolvedError
			if errors.As(err, &unresolved) {
				// Its provider may be a later file in this same tick.
				logger.Debug("Deferred reload of changed unit file.", "file", file, "symbol", unresolved.Symbol)
				continue
			}
			logger.Warn("Reload of changed unit file failed; it will be retried on its next change.", "file", file, "error", err)
		}
	}

	if w.loader.PendingCount() > 0 {
		if err := w.loader.ResolvePending(ctx); err != nil {
			logger.Warn("Deferred reloads left unresolved; they will be retried on their next change.", "error", err)
		}
	}
}
