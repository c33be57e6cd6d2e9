package loader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/symbol"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeUnit(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_DefinesSymbols(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "user.hcl", `
define "User" {
  kind  = "model"
  attrs = { table = "users" }
}

define "Post" {
  kind = "model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	require.NoError(t, l.LoadFile(testContext(), path))

	assert.True(t, symbols.Defined("User"))
	assert.True(t, symbols.Defined("Post"))
	assert.Equal(t, 1, l.LoadedFiles())

	rec, ok := l.Record(path)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"User", "Post"}, rec.Symbols)

	s, _ := symbols.Lookup("User")
	assert.Equal(t, path, s.Source)
}

func TestLoadFile_RequirePullsInSubFileOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeUnit(t, dir, "lib/base.hcl", `
define "Model" {
  kind = "class"
}
`)
	a := writeUnit(t, dir, "a.hcl", `
require = ["lib/base.hcl"]

define "User" {
  kind    = "model"
  extends = "Model"
}
`)
	b := writeUnit(t, dir, "b.hcl", `
require = ["lib/base.hcl"]

define "Post" {
  kind    = "model"
  extends = "Model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, a))
	require.NoError(t, l.LoadFile(ctx, b))

	assert.True(t, symbols.Defined("Model"))
	assert.True(t, symbols.Defined("User"))
	assert.True(t, symbols.Defined("Post"))

	// The shared sub-file was loaded exactly once.
	s, _ := symbols.Lookup("Model")
	assert.Equal(t, 1, s.Generation)
	assert.Equal(t, 3, l.LoadedFiles())
}

func TestLoadFile_MutuallyRequiringFilesTerminate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeUnit(t, dir, "a.hcl", `
require = ["b.hcl"]

define "A" {
  kind = "model"
}
`)
	writeUnit(t, dir, "b.hcl", `
require = ["a.hcl"]

define "B" {
  kind = "model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	require.NoError(t, l.LoadFile(testContext(), a))

	assert.True(t, symbols.Defined("A"))
	assert.True(t, symbols.Defined("B"))
	assert.Equal(t, 2, l.LoadedFiles())

	// The cycle is recorded as a plain require on each side.
	rec, ok := l.Record(a)
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(dir, "b.hcl")}, rec.Requires)
}

func TestLoadFile_FailedRequireRollsBackAndRetries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeUnit(t, dir, "a.hcl", `
require = ["b.hcl"]

define "A" {
  kind = "model"
}
`)
	writeUnit(t, dir, "b.hcl", `define "B" {`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	ctx := testContext()
	require.Error(t, l.LoadFile(ctx, a))
	assert.Equal(t, 0, l.LoadedFiles())

	// Fixing the sub-file makes a clean retry possible: no stale marks
	// survive the failed attempt.
	writeUnit(t, dir, "b.hcl", `
define "B" {
  kind = "model"
}
`)
	require.NoError(t, l.LoadFile(ctx, a))
	assert.True(t, symbols.Defined("A"))
	assert.True(t, symbols.Defined("B"))
	assert.Equal(t, 2, l.LoadedFiles())
}

func TestLoadFile_UndefinedReferenceFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "user.hcl", `
define "User" {
  kind    = "model"
  extends = "Model"
}
`)

	l := New(symbol.New(nil), false)
	err := l.LoadFile(testContext(), path)
	require.Error(t, err)

	var unresolved *UnresolvedError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "Model", unresolved.Symbol)
	assert.Equal(t, 0, l.LoadedFiles())
}

func TestLoadFile_SyntaxError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "broken.hcl", `define "User" {`)

	l := New(symbol.New(nil), false)
	err := l.LoadFile(testContext(), path)
	require.Error(t, err)

	var syntax *SyntaxError
	assert.ErrorAs(t, err, &syntax)
}

func TestLoadPaths_ForwardReferenceResolvedByDeferral(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// "a.hcl" sorts before "base.hcl" but depends on it.
	writeUnit(t, dir, "a.hcl", `
define "User" {
  kind    = "model"
  extends = "Model"
}
`)
	writeUnit(t, dir, "base.hcl", `
define "Model" {
  kind = "class"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	ctx := testContext()
	require.NoError(t, l.LoadPaths(ctx, dir))
	assert.Equal(t, 1, l.PendingCount())

	require.NoError(t, l.ResolvePending(ctx))
	assert.True(t, symbols.Defined("User"))
	assert.Equal(t, 0, l.PendingCount())
}

func TestResolvePending_ChainedDeferralsNeedMultiplePasses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// c depends on b depends on a; reverse-alphabetical load order forces
	// two resolution passes.
	writeUnit(t, dir, "1_c.hcl", `
define "C" {
  kind    = "model"
  extends = "B"
}
`)
	writeUnit(t, dir, "2_b.hcl", `
define "B" {
  kind    = "model"
  extends = "A"
}
`)
	writeUnit(t, dir, "3_a.hcl", `
define "A" {
  kind = "model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	ctx := testContext()
	require.NoError(t, l.LoadPaths(ctx, dir))
	assert.Equal(t, 2, l.PendingCount())

	require.NoError(t, l.ResolvePending(ctx))
	assert.True(t, symbols.Defined("A"))
	assert.True(t, symbols.Defined("B"))
	assert.True(t, symbols.Defined("C"))
}

func TestResolvePending_PermanentlyMissingReferenceListsEveryStalledFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeUnit(t, dir, "a.hcl", `
define "User" {
  kind    = "model"
  extends = "Ghost"
}
`)
	writeUnit(t, dir, "b.hcl", `
define "Post" {
  kind    = "model"
  extends = "Phantom"
}
`)

	l := New(symbol.New(nil), false)
	ctx := testContext()
	require.NoError(t, l.LoadPaths(ctx, dir))

	err := l.ResolvePending(ctx)
	require.Error(t, err)

	var noProgress *NoProgressError
	require.ErrorAs(t, err, &noProgress)
	assert.Len(t, noProgress.Stalled, 2)
	assert.Contains(t, err.Error(), "Ghost")
	assert.Contains(t, err.Error(), "Phantom")
}

func TestLoadPaths_SyntaxErrorIsSkippedNotFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeUnit(t, dir, "good.hcl", `
define "User" {
  kind = "model"
}
`)
	writeUnit(t, dir, "broken.hcl", `define "X" {`)

	symbols := symbol.New(nil)
	l := New(symbols, false)
	ctx := testContext()
	require.NoError(t, l.LoadPaths(ctx, dir))
	require.NoError(t, l.ResolvePending(ctx))

	assert.True(t, symbols.Defined("User"))
	assert.Equal(t, 1, l.LoadedFiles())
}

func TestUnload_RemovesSymbolsButKeepsProtected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "users.hcl", `
define "User" {
  kind = "model"
}

define "UsersController" {
  kind = "controller"
}
`)

	symbols := symbol.New(regexp.MustCompile("Controller$"))
	l := New(symbols, false)
	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, path))

	l.Unload(ctx, path)

	assert.False(t, symbols.Defined("User"))
	assert.True(t, symbols.Defined("UsersController"))
	assert.Equal(t, 0, l.LoadedFiles())
}

func TestReload_InPlaceBumpsGeneration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "user.hcl", `
define "User" {
  kind = "model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, true)
	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, path))

	writeUnit(t, dir, "user.hcl", `
define "User" {
  kind  = "model"
  attrs = { table = "users_v2" }
}
`)
	require.NoError(t, l.Reload(ctx, path))

	s, ok := symbols.Lookup("User")
	require.True(t, ok)
	assert.Equal(t, 2, s.Generation)
}

func TestReload_RespawnTakesOverUnderIsolation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "user.hcl", `
define "User" {
  kind = "model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, true)
	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, path))

	respawned := false
	l.SetRespawn(func() { respawned = true })

	require.NoError(t, l.Reload(ctx, path))
	assert.True(t, respawned)

	// Nothing was unloaded in place.
	assert.True(t, symbols.Defined("User"))
	assert.Equal(t, 1, l.LoadedFiles())
}

func TestReload_UnresolvedReferenceJoinsPendingQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeUnit(t, dir, "user.hcl", `
define "User" {
  kind = "model"
}
`)

	symbols := symbol.New(nil)
	l := New(symbols, true)
	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, path))

	writeUnit(t, dir, "user.hcl", `
define "User" {
  kind    = "model"
  extends = "Model"
}
`)
	err := l.Reload(ctx, path)
	require.Error(t, err)
	assert.Equal(t, 1, l.PendingCount())

	// Once the provider shows up, a resolution pass completes the reload.
	symbols.Define(symbol.Symbol{Name: "Model", Kind: "class", Source: "base.hcl"})
	require.NoError(t, l.ResolvePending(ctx))

	s, ok := symbols.Lookup("User")
	require.True(t, ok)
	assert.Equal(t, "Model", s.Extends)
	assert.Equal(t, 0, l.PendingCount())
}

func TestBaseline_TracksLoadsAndFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeUnit(t, dir, "good.hcl", `
define "User" {
  kind = "model"
}
`)
	broken := writeUnit(t, dir, "broken.hcl", `define "X" {`)

	l := New(symbol.New(nil), true)
	ctx := testContext()
	require.NoError(t, l.LoadFile(ctx, good))
	require.Error(t, l.LoadFile(ctx, broken))

	info, err := os.Stat(good)
	require.NoError(t, err)
	baseline, ok := l.Baseline(good)
	require.True(t, ok)
	assert.Equal(t, info.ModTime(), baseline)

	// Failed files get a baseline too, so the watcher only retries them
	// after another change.
	_, ok = l.Baseline(broken)
	assert.True(t, ok)

	_, ok = l.Baseline(filepath.Join(dir, "never-seen.hcl"))
	assert.False(t, ok)
}
