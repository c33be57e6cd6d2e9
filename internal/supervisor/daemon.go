package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/vk/strapgo/internal/ctxlog"
)

// daemonEnv marks a process that has already been detached, so the re-exec
// happens exactly once.
const daemonEnv = "STRAPGO_DAEMONIZED"

// Daemonize detaches the master from the controlling terminal by
// re-executing it in a new session with the standard streams pointed at
// /dev/null. The foreground parent exits once the detached child is
// running. Returns true in the process that should continue booting.
func Daemonize(ctx context.Context, exit func(int)) (bool, error) {
	if os.Getenv(daemonEnv) != "" {
		return true, nil
	}
	logger := ctxlog.FromContext(ctx)

	exe, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("failed to resolve executable path: %w", err)
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start detached process: %w", err)
	}
	logger.Info("Detached daemon started; foreground process exiting.", "pid", cmd.Process.Pid)
	exit(0)
	return false, nil
}
