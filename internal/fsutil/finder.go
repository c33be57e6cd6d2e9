// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FindFiles recursively searches rootPath for files whose base name matches
// the given glob pattern (filepath.Match syntax). The returned paths are
// sorted so that load order is deterministic across platforms. A root that
// does not exist yields an empty list, not an error; applications rarely
// create every optional load root.
func FindFiles(rootPath string, pattern string) ([]string, error) {
	if pattern == "" {
		panic("pattern must not be empty")
	}
	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Expand resolves a single path argument into a sorted file list. A plain
// file path yields itself; a directory yields every file under it; anything
// else is treated as a glob pattern.
func Expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return []string{path}, nil
		}
		return FindFiles(path, "*")
	}

	matches, err := filepath.Glob(path)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
