package supervisor

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vk/strapgo/internal/config"
	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/hooks"
)

// pollInterval bounds how long the monitor loop waits on the pipe before
// re-polling the worker's exit status.
const pollInterval = 500 * time.Millisecond

// action is the outcome of one monitoring round.
type action int

const (
	actionRespawn action = iota
	actionExit
)

// Handle is the master's record of the current worker process. Exactly one
// handle is live at a time; spawning a replacement closes the old handle's
// pipe.
type Handle struct {
	PID    int
	pipe   *os.File
	waitCh chan int
	signal func(os.Signal) error
}

// Signal delivers sig to the worker. Delivery to an already-gone process is
// an expected shutdown race and reported as-is for the caller to swallow.
func (h *Handle) Signal(sig os.Signal) error {
	return h.signal(sig)
}

// Close releases the master's end of the pipe.
func (h *Handle) Close() {
	if h.pipe != nil {
		h.pipe.Close()
	}
}

// Master supervises a single worker process, respawning it on the reload
// status and exiting on anything else.
type Master struct {
	cfg   *config.Config
	hooks *hooks.Registry

	// spawn and exit are injectable so the monitor loop and the teardown
	// ordering are testable without real processes.
	spawn func(ctx context.Context) (*Handle, error)
	exit  func(int)

	handle *Handle
}

// NewMaster creates a master supervisor for the given configuration.
func NewMaster(cfg *config.Config, hookReg *hooks.Registry) *Master {
	m := &Master{
		cfg:   cfg,
		hooks: hookReg,
		exit:  os.Exit,
	}
	m.spawn = m.execSpawn
	return m
}

// Run is the master's main loop: spawn a worker, monitor it, respawn on the
// reload status, exit gracefully on everything else. It only returns on a
// spawn failure; otherwise it terminates the process via the exit func.
func (m *Master) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if m.cfg.Server.Daemonize || m.cfg.Server.Workers > 1 {
		if err := writePidFile(m.cfg.Server.PidFile); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		handle, err := m.spawn(ctx)
		if err != nil {
			logger.Error("Failed to spawn worker.", "error", err)
			return err
		}
		if m.handle != nil {
			m.handle.Close()
		}
		m.handle = handle
		logger.Info("Worker spawned.", "pid", handle.PID)

		if m.monitor(ctx, handle, sigCh) == actionRespawn {
			logger.Info("Respawning worker.", "previous_pid", handle.PID)
			continue
		}
		m.exitGracefully(ctx)
		return nil
	}
}

// monitor watches one worker until it needs replacing or the master must
// exit. Each round polls for process exit without blocking, then waits a
// bounded interval for pipe traffic; the timeout is a retry point, not an
// error.
func (m *Master) monitor(ctx context.Context, h *Handle, sigCh chan os.Signal) action {
	logger := ctxlog.FromContext(ctx)
	msgCh := readLines(h.pipe)

	for {
		select {
		case status := <-h.waitCh:
			if ShouldRespawn(status) {
				logger.Info("Worker exited with reload status.", "pid", h.PID, "status", status)
				return actionRespawn
			}
			logger.Info("Worker exited.", "pid", h.PID, "status", status)
			return actionExit

		case msg, ok := <-msgCh:
			if !ok {
				logger.Info("Worker pipe closed.", "pid", h.PID)
				m.awaitExit(h)
				return actionExit
			}
			if strings.TrimSpace(msg) == strconv.Itoa(ReloadStatus) {
				logger.Info("Worker requested reload over pipe.", "pid", h.PID)
				m.awaitExit(h)
				return actionRespawn
			}
			logger.Info("Worker reported terminal status over pipe.", "pid", h.PID, "message", msg)
			m.awaitExit(h)
			return actionExit

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				// Fast deploy: the worker reaps itself with the reload
				// status and the wait branch above respawns it.
				logger.Info("Forwarding hangup to worker for fast deploy.", "pid", h.PID)
				_ = h.Signal(syscall.SIGHUP)
			default:
				logger.Info("Interrupt received; terminating worker.", "pid", h.PID, "signal", sig.String())
				_ = h.Signal(syscall.SIGTERM)
				m.awaitExit(h)
				return actionExit
			}

		case <-time.After(pollInterval):
		}
	}
}

// awaitExit drains the worker's exit status, escalating to SIGKILL if the
// worker ignores its shutdown signal.
func (m *Master) awaitExit(h *Handle) {
	select {
	case <-h.waitCh:
	case <-time.After(5 * time.Second):
		_ = h.Signal(syscall.SIGKILL)
		select {
		case <-h.waitCh:
		case <-time.After(time.Second):
		}
	}
}

// exitGracefully runs the master's teardown: children have been waited on,
// the pid file goes away, the master shutdown hooks run, the process exits
// cleanly.
func (m *Master) exitGracefully(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Master exiting gracefully.")

	if m.handle != nil {
		m.handle.Close()
	}
	removePidFile(m.cfg.Server.PidFile)
	m.hooks.Run(ctx, hooks.Master)
	m.exit(0)
}

// readLines streams pipe lines to a channel, closing it on EOF. The channel
// is buffered so the reader can drain a worker's final lines and exit even
// after a respawn stops consuming them.
func readLines(pipe *os.File) <-chan string {
	ch := make(chan string, 4)
	go func() {
		defer close(ch)
		if pipe == nil {
			return
		}
		scanner := bufio.NewScanner(pipe)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}
