package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	indexFileName    = "index.xml"
	bestandenDirName = "Bestanden"
)

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// moveFile renames src to dst, refusing to overwrite an existing dst.
func moveFile(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: %s already exists", src, dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}

// relocateIndexFiles moves every index.xml below docs into idxDir as
// <parent>-index.xml and returns how many were moved.
func relocateIndexFiles(docs, idxDir string) (int, error) {
	var found []string
	err := filepath.WalkDir(docs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(d.Name(), indexFileName) {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("search index files in %s: %w", docs, err)
	}
	for _, p := range found {
		parent := filepath.Base(filepath.Dir(p))
		if err := moveFile(p, filepath.Join(idxDir, parent+"-"+indexFileName)); err != nil {
			return 0, err
		}
	}
	return len(found), nil
}

// findDirs returns every directory below root named name, sorted.
func findDirs(root, name string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != root && d.Name() == name {
			out = append(out, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s in %s: %w", name, root, err)
	}
	sort.Strings(out)
	return out, nil
}

// moveEntries moves every entry of from into to and returns the count.
func moveEntries(from, to string) (int, error) {
	entries, err := os.ReadDir(from)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", from, err)
	}
	for _, e := range entries {
		if err := moveFile(filepath.Join(from, e.Name()), filepath.Join(to, e.Name())); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// removeEmptyTree deletes dir if it holds nothing but directories.
func removeEmptyTree(dir string) error {
	var leftover []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			leftover = append(leftover, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("inspect %s: %w", dir, err)
	}
	if len(leftover) > 0 {
		return fmt.Errorf("%s still holds %d files after relocation, first %s", dir, len(leftover), leftover[0])
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}
