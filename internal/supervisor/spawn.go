package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/vk/strapgo/internal/ctxlog"
)

// execSpawn re-executes the current binary as a worker, handing it the
// write end of a fresh status pipe as fd 3. The parent keeps the read end;
// each side closes its copy of the other end exactly once.
func (m *Master) execSpawn(ctx context.Context) (*Handle, error) {
	logger := ctxlog.FromContext(ctx)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open supervision pipe: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(os.Environ(), RoleEnv+"="+string(RoleWorker))

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	// The worker owns the write end now.
	w.Close()

	waitCh := make(chan int, 1)
	go func() {
		waitCh <- exitStatus(cmd.Wait())
	}()

	logger.Debug("Worker process started.", "pid", cmd.Process.Pid, "exe", exe)
	return &Handle{
		PID:    cmd.Process.Pid,
		pipe:   r,
		waitCh: waitCh,
		signal: func(sig os.Signal) error { return cmd.Process.Signal(sig) },
	}, nil
}

// spawnServe starts one cluster sub-worker in the serve role.
func spawnServe(ctx context.Context) (*exec.Cmd, error) {
	logger := ctxlog.FromContext(ctx)

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), RoleEnv+"="+string(RoleServe))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start serve process: %w", err)
	}
	logger.Debug("Serve process started.", "pid", cmd.Process.Pid)
	return cmd, nil
}
