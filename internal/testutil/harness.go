// Package testutil provides the shared harness for boot integration tests:
// a temporary application root built from literal file contents, a
// thread-safe log capture buffer, and a standard way to run the boot
// pipeline against it.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/strapgo/internal/app"
	"github.com/vk/strapgo/internal/config"
	"github.com/vk/strapgo/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of a boot test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
	Root      string
}

// WriteAppTree materializes a map of relative paths to file contents under
// a fresh temporary root and returns the root.
func WriteAppTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
	}
	return root
}

// BootConfig returns the configuration boot tests run under: no process
// isolation, reload enabled, everything logged.
func BootConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.App.Root = root
	cfg.Log.Level = "debug"
	cfg.Log.Format = "text"
	cfg.Server.Isolation = false
	cfg.Server.StatusPort = 0
	cfg.Reload.Enabled = true
	return cfg
}

// RunBootTest builds an application root from files, boots an App over it
// with the given modules, and captures the outcome. Startup panics are
// recovered into the result's Err.
func RunBootTest(t *testing.T, files map[string]string, modules ...registry.Module) *HarnessResult {
	t.Helper()
	return RunBootTestWithConfig(t, files, nil, modules...)
}

// RunBootTestWithConfig is RunBootTest with a configuration hook applied
// before the App is constructed.
func RunBootTestWithConfig(t *testing.T, files map[string]string, mutate func(*config.Config), modules ...registry.Module) *HarnessResult {
	t.Helper()

	root := WriteAppTree(t, files)
	cfg := BootConfig(root)
	if mutate != nil {
		mutate(cfg)
	}

	logBuffer := &SafeBuffer{}

	var testApp *app.App
	var panicErr any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicErr = r
			}
		}()
		testApp = app.NewApp(context.Background(), logBuffer, cfg, modules...)
	}()

	if panicErr != nil {
		return &HarnessResult{
			LogOutput: logBuffer.String(),
			Err:       fmt.Errorf("application startup panicked | %v", panicErr),
			Root:      root,
		}
	}

	runErr := testApp.Run()

	return &HarnessResult{
		LogOutput: logBuffer.String(),
		Err:       runErr,
		App:       testApp,
		Root:      root,
	}
}
