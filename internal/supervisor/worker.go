package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vk/strapgo/internal/config"
	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/hooks"
)

// Worker is the supervised side of the split: it loads units, serves, and
// reports its exit status back over the inherited pipe. A Worker also
// exists (with no pipe) when isolation is disabled, so signal handling and
// teardown follow one code path.
type Worker struct {
	cfg   *config.Config
	hooks *hooks.Registry

	pipe  *os.File
	abort os.Signal

	// exit is injectable so teardown ordering is testable in-process.
	exit func(int)

	// onDump handles the diagnostic signal (configuration dump).
	onDump func(ctx context.Context)

	mu   sync.Mutex
	subs []*exec.Cmd
}

// NewWorker creates the worker-side supervisor endpoint. The status pipe is
// only opened when the process actually runs in the worker role.
func NewWorker(cfg *config.Config, hookReg *hooks.Registry) *Worker {
	w := &Worker{
		cfg:   cfg,
		hooks: hookReg,
		abort: SignalByName(cfg.Server.AbortSignal),
		exit:  os.Exit,
	}
	if CurrentRole() == RoleWorker {
		w.pipe = os.NewFile(pipeFd, "supervision-pipe")
	}
	return w
}

// Supervised reports whether this worker runs under a master.
func (w *Worker) Supervised() bool {
	return w.pipe != nil
}

// SetDumpHandler installs the diagnostic-signal action.
func (w *Worker) SetDumpHandler(fn func(ctx context.Context)) {
	w.onDump = fn
}

// InstallSignals wires the worker's signal handling:
// interrupt runs the shutdown hooks and exits cleanly, hangup requests a
// master-driven respawn, the configured abort signal reaps immediately with
// a failure status, and SIGUSR1 dumps the configuration.
func (w *Worker) InstallSignals(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGHUP, syscall.SIGUSR1, w.abort)

	go func() {
		for sig := range ch {
			switch {
			case sig == syscall.SIGUSR1:
				logger.Info("Diagnostic signal received.")
				if w.onDump != nil {
					w.onDump(ctx)
				}
			case sig == syscall.SIGHUP:
				logger.Info("Hangup received; reaping with reload status.")
				w.Reap(ctx, ReloadStatus)
			case sig == os.Interrupt:
				logger.Info("Interrupt received; shutting down worker.")
				w.Reap(ctx, 0)
			case sig == w.abort:
				logger.Info("Abort signal received; reaping immediately.", "signal", sig.String())
				w.Reap(ctx, 1)
			}
		}
	}()
}

// StartCluster spawns n serve sub-processes and tracks their pids for Reap.
func (w *Worker) StartCluster(ctx context.Context, n int) error {
	logger := ctxlog.FromContext(ctx)
	for i := 0; i < n; i++ {
		cmd, err := spawnServe(ctx)
		if err != nil {
			return fmt.Errorf("failed to start cluster worker %d: %w", i, err)
		}
		w.Track(cmd)
	}
	logger.Info("Cluster workers started.", "count", n)
	return nil
}

// Track registers a sub-worker process for teardown.
func (w *Worker) Track(cmd *exec.Cmd) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, cmd)
}

// SubWorkerPIDs returns the tracked sub-worker pids.
func (w *Worker) SubWorkerPIDs() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, 0, len(w.subs))
	for _, cmd := range w.subs {
		if cmd.Process != nil {
			out = append(out, cmd.Process.Pid)
		}
	}
	return out
}

// Reap is the single worker teardown path: run the before-worker-shutdown
// hooks, report the status over the pipe, signal every tracked sub-worker
// in parallel and wait for the deliveries, then exit with status.
//
// Ordering is deliberate: hooks always run before the status is reported
// and before the process can exit. Pipe and signal failures are expected
// shutdown races and are swallowed.
func (w *Worker) Reap(ctx context.Context, status int) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Reaping worker.", "status", status, "sub_workers", len(w.SubWorkerPIDs()))

	w.hooks.Run(ctx, hooks.Worker)

	if w.pipe != nil {
		// Best effort: the master may already be gone.
		_, _ = fmt.Fprintf(w.pipe, "%d\n", status)
	}

	w.signalSubWorkers(ctx)
	w.exit(status)
}

// signalSubWorkers delivers the abort signal to every tracked sub-worker
// concurrently and joins all deliveries, so total reap latency is bounded
// by the slowest sub-worker. With reap_quickly set, delivery is fired
// without waiting for the processes to die.
func (w *Worker) signalSubWorkers(ctx context.Context) {
	w.mu.Lock()
	subs := make([]*exec.Cmd, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, cmd := range subs {
		cmd := cmd
		g.Go(func() error {
			if cmd.Process == nil {
				return nil
			}
			// A process that is already gone is fine.
			_ = cmd.Process.Signal(syscall.SIGTERM)
			if !w.cfg.Server.ReapQuickly {
				_ = cmd.Wait()
			}
			return nil
		})
	}
	_ = g.Wait()
}
