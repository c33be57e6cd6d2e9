package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("define \"X\" { kind = \"model\" }\n"), 0644))
}

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("model", "/app/models", "*.hcl")
	r.Register("config", "/app/config", "")

	e, ok := r.Lookup("model")
	require.True(t, ok)
	assert.Equal(t, "/app/models", e.Root)
	assert.True(t, e.AutoLoad())

	cfg, ok := r.Lookup("config")
	require.True(t, ok)
	assert.False(t, cfg.AutoLoad())

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegister_OverwriteKeepsOrder(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("model", "/a", "*.hcl")
	r.Register("lib", "/b", "*.hcl")
	r.Register("model", "/c", "*.hcl")

	assert.Equal(t, []string{"model", "lib"}, r.Names())
	e, _ := r.Lookup("model")
	assert.Equal(t, "/c", e.Root)
}

func TestEntryJoin(t *testing.T) {
	t.Parallel()

	e := Entry{Name: "route", Root: "/app/config"}
	assert.Equal(t, filepath.Join("/app/config", "routes.hcl"), e.Join("routes.hcl"))
}

func TestEntryFiles_NoGlobReturnsNothing(t *testing.T) {
	t.Parallel()

	e := Entry{Name: "config", Root: t.TempDir()}
	files, err := e.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAllFiles_UnionSortedDeduplicated(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "models", "user.hcl"))
	writeFile(t, filepath.Join(root, "models", "post.hcl"))
	writeFile(t, filepath.Join(root, "lib", "util.hcl"))
	writeFile(t, filepath.Join(root, "lib", "notes.txt"))

	r := New()
	r.Register("model", filepath.Join(root, "models"), "*.hcl")
	r.Register("lib", filepath.Join(root, "lib"), "*.hcl")
	// Same root registered twice must not duplicate files.
	r.Register("extra", filepath.Join(root, "lib"), "*.hcl")
	r.Register("config", filepath.Join(root, "config"), "")

	files, err := r.AllFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "lib", "util.hcl"),
		filepath.Join(root, "models", "post.hcl"),
		filepath.Join(root, "models", "user.hcl"),
	}, files)
}

func TestAllFiles_MissingRootIsEmpty(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("model", filepath.Join(t.TempDir(), "does-not-exist"), "*.hcl")

	files, err := r.AllFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAutoLoadEntries(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("model", "/a", "*.hcl")
	r.Register("config", "/b", "")
	r.Register("lib", "/c", "*.hcl")

	entries := r.AutoLoadEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "model", entries[0].Name)
	assert.Equal(t, "lib", entries[1].Name)
}
