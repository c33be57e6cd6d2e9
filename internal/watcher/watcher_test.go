package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/loader"
	"github.com/vk/strapgo/internal/paths"
	"github.com/vk/strapgo/internal/symbol"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeUnit(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// touch pushes a file's mtime past any recorded baseline without sleeping.
func touch(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func newFixture(t *testing.T) (*paths.Registry, *loader.Loader, *symbol.Registry, string) {
	t.Helper()
	root := t.TempDir()
	p := paths.New()
	p.Register("model", filepath.Join(root, "models"), "*.hcl")
	symbols := symbol.New(nil)
	l := loader.New(symbols, true)
	return p, l, symbols, root
}

func TestTick_ReloadsChangedFile(t *testing.T) {
	t.Parallel()

	p, l, symbols, root := newFixture(t)
	file := filepath.Join(root, "models", "user.hcl")
	writeUnit(t, file, `
define "User" {
  kind = "model"
}
`)

	ctx := testContext()
	require.NoError(t, l.LoadPaths(ctx, filepath.Join(root, "models")))

	w := New(p, l, 0, "")

	// Unchanged file: generation stays put.
	w.Tick(ctx)
	s, _ := symbols.Lookup("User")
	assert.Equal(t, 1, s.Generation)

	touch(t, file)
	w.Tick(ctx)

	s, ok := symbols.Lookup("User")
	require.True(t, ok)
	assert.Equal(t, 2, s.Generation)
}

func TestTick_PicksUpNewFile(t *testing.T) {
	t.Parallel()

	p, l, symbols, root := newFixture(t)
	ctx := testContext()

	w := New(p, l, 0, "")
	w.Tick(ctx)
	assert.False(t, symbols.Defined("User"))

	writeUnit(t, filepath.Join(root, "models", "user.hcl"), `
define "User" {
  kind = "model"
}
`)
	w.Tick(ctx)
	assert.True(t, symbols.Defined("User"))
}

func TestTick_FailedFileNotRetriedUntilChanged(t *testing.T) {
	t.Parallel()

	p, l, symbols, root := newFixture(t)
	file := filepath.Join(root, "models", "broken.hcl")
	writeUnit(t, file, `define "User" {`)

	ctx := testContext()
	w := New(p, l, 0, "")
	w.Tick(ctx)
	assert.False(t, symbols.Defined("User"))

	// The failure recorded a baseline; an unchanged file is left alone
	// until it is written again.
	baseline, known := l.Baseline(file)
	require.True(t, known)
	w.Tick(ctx)
	after, _ := l.Baseline(file)
	assert.Equal(t, baseline, after)

	writeUnit(t, file, `
define "User" {
  kind = "model"
}
`)
	touch(t, file)
	w.Tick(ctx)
	assert.True(t, symbols.Defined("User"))
}

func TestTick_CrossFileReferenceResolvedWithinOneTick(t *testing.T) {
	t.Parallel()

	p, l, symbols, root := newFixture(t)
	user := filepath.Join(root, "models", "1_user.hcl")
	base := filepath.Join(root, "models", "2_base.hcl")
	writeUnit(t, user, `
define "User" {
  kind = "model"
}
`)
	writeUnit(t, base, `
define "Model" {
  kind = "class"
}
`)

	ctx := testContext()
	require.NoError(t, l.LoadPaths(ctx, filepath.Join(root, "models")))

	// Both files change in the same tick; the first now references a
	// symbol only the second's new contents define.
	writeUnit(t, user, `
define "User" {
  kind    = "model"
  extends = "ModelV2"
}
`)
	writeUnit(t, base, `
define "Model" {
  kind = "class"
}

define "ModelV2" {
  kind = "class"
}
`)
	touch(t, user)
	touch(t, base)

	w := New(p, l, 0, "")
	w.Tick(ctx)

	assert.True(t, symbols.Defined("ModelV2"))
	s, ok := symbols.Lookup("User")
	require.True(t, ok)
	assert.Equal(t, "ModelV2", s.Extends)
	assert.Equal(t, 2, s.Generation)
}

func TestTick_WatchesAppFile(t *testing.T) {
	t.Parallel()

	p, l, symbols, root := newFixture(t)
	appFile := filepath.Join(root, "app.hcl")
	writeUnit(t, appFile, `
define "App" {
  kind = "application"
}
`)

	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, appFile))

	w := New(p, l, 0, appFile)
	touch(t, appFile)
	w.Tick(ctx)

	s, ok := symbols.Lookup("App")
	require.True(t, ok)
	assert.Equal(t, 2, s.Generation)
}

func TestStart_StopsWithContext(t *testing.T) {
	t.Parallel()

	p, l, _, _ := newFixture(t)
	ctx, cancel := context.WithCancel(testContext())

	w := New(p, l, time.Millisecond, "")
	w.Start(ctx)

	// Let at least one tick happen, then stop; the test passing at all
	// means the goroutine exited without touching torn-down state.
	time.Sleep(5 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)
}
