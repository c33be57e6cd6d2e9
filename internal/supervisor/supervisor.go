// Package supervisor implements the master/worker process model.
//
// # Two roles, one binary
//
// "Forking" is a re-exec of the same executable with a role flag in the
// environment and a pipe inherited as fd 3. The master process only ever
// spawns and monitors; the worker loads units and serves. A worker that
// wants to be replaced (after a reload request or a fast deploy) exits
// with the distinguished status 128. The master's whole decision logic is
// that one integer comparison: 128 means respawn, anything else means the
// worker is done (cleanly or by crash) and the master exits too.
//
// The pipe carries the worker's exit status as text. It serves the same
// single comparison, and doubles as liveness: a closed pipe with no message
// means the worker is gone.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
)

// ReloadStatus is the distinguished exit status meaning "terminated
// intentionally for a respawn", not a crash.
const ReloadStatus = 128

// RoleEnv is the environment variable carrying the process role across the
// re-exec boundary.
const RoleEnv = "STRAPGO_ROLE"

// pipeFd is the file descriptor number the worker inherits its status pipe
// on (the first ExtraFiles slot).
const pipeFd = 3

// Role identifies which side of the supervision split a process runs.
type Role string

const (
	// RoleMaster supervises; it never loads units itself.
	RoleMaster Role = "master"
	// RoleWorker loads units and serves; it reports back over the pipe.
	RoleWorker Role = "worker"
	// RoleServe is a cluster sub-worker spawned by the worker.
	RoleServe Role = "serve"
)

// CurrentRole reads the process role from the environment. A process
// started without the role flag is the master (or the only process, when
// isolation is disabled).
func CurrentRole() Role {
	switch os.Getenv(RoleEnv) {
	case string(RoleWorker):
		return RoleWorker
	case string(RoleServe):
		return RoleServe
	default:
		return RoleMaster
	}
}

// ShouldRespawn is the master's single decision: only the distinguished
// reload status produces a new worker, every other exit is terminal.
func ShouldRespawn(status int) bool {
	return status == ReloadStatus
}

// exitStatus extracts a process exit code from exec.Cmd.Wait's error.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// SignalByName maps a configured signal name to the signal value. Unknown
// names fall back to SIGTERM.
func SignalByName(name string) os.Signal {
	switch name {
	case "INT":
		return syscall.SIGINT
	case "QUIT":
		return syscall.SIGQUIT
	case "KILL":
		return syscall.SIGKILL
	case "USR2":
		return syscall.SIGUSR2
	case "TERM", "":
		return syscall.SIGTERM
	default:
		return syscall.SIGTERM
	}
}

// writePidFile records the master's pid for external process managers.
func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// removePidFile deletes the pid file; a missing file is not an error.
func removePidFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
