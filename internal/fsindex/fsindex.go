// Package fsindex walks and replays package filesystem trees: indexing a
// directory into a hashed FSEntry forest, and copying an indexed forest from
// one root to another with caller-decided conflict handling.
package fsindex

import (
	"io"
	"os"
	"path/filepath"

	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/hash"
)

// FSEntry is one node of an indexed package filesystem tree. Hash is nil for
// directories, and set for files (content hash) and symlinks (hash of the
// readlink target string). Children is non-empty only for directories.
type FSEntry struct {
	Name     string
	Hash     *string
	Children []FSEntry
}

// IsDir reports whether e represents a directory.
func (e FSEntry) IsDir() bool {
	return e.Hash == nil
}

// Index walks dir recursively and returns its children as an ordered FSEntry
// list. Ordering follows os.ReadDir (lexical by name); callers treat a
// forest as a set for equivalence, so the exact order is not load-bearing.
func Index(dir string) ([]FSEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.IO(err, "read directory "+dir)
	}

	entries := make([]FSEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		full := filepath.Join(dir, de.Name())

		info, err := os.Lstat(full)
		if err != nil {
			return nil, errs.IO(err, "lstat "+full)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return nil, errs.IO(err, "readlink "+full)
			}
			h := hash.Bytes([]byte(target))
			entries = append(entries, FSEntry{Name: de.Name(), Hash: &h})

		case info.IsDir():
			children, err := Index(full)
			if err != nil {
				return nil, err
			}
			entries = append(entries, FSEntry{Name: de.Name(), Children: children})

		default:
			h, err := hash.File(full)
			if err != nil {
				return nil, err
			}
			entries = append(entries, FSEntry{Name: de.Name(), Hash: &h})
		}
	}
	return entries, nil
}

// ConflictFunc decides, for a path that already exists at the destination,
// whether to overwrite it (true) or fail the copy (false).
type ConflictFunc func(path string) bool

// CopyRecursive copies the forest entries (indexed from srcRoot) into
// dstRoot, depth-first pre-order, preserving symlinks as symlinks. When a
// file or symlink destination already exists, onConflict is consulted;
// returning false fails the whole copy with an AlreadyExists error.
func CopyRecursive(srcRoot, dstRoot string, entries []FSEntry, onConflict ConflictFunc) error {
	for _, e := range entries {
		srcPath := filepath.Join(srcRoot, e.Name)
		dstPath := filepath.Join(dstRoot, e.Name)

		if e.IsDir() {
			if _, err := os.Lstat(dstPath); os.IsNotExist(err) {
				if err := os.MkdirAll(dstPath, 0o755); err != nil {
					return errs.IO(err, "create directory "+dstPath)
				}
			}
			if err := CopyRecursive(srcPath, dstPath, e.Children, onConflict); err != nil {
				return err
			}
			continue
		}

		if _, err := os.Lstat(dstPath); err == nil {
			if !onConflict(dstPath) {
				return errs.IO(os.ErrExist, "already exists: "+dstPath)
			}
			if err := os.RemoveAll(dstPath); err != nil {
				return errs.IO(err, "remove existing "+dstPath)
			}
		}

		srcInfo, err := os.Lstat(srcPath)
		if err != nil {
			return errs.IO(err, "lstat "+srcPath)
		}

		if srcInfo.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(srcPath)
			if err != nil {
				return errs.IO(err, "readlink "+srcPath)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return errs.IO(err, "symlink "+dstPath)
			}
			continue
		}

		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errs.IO(err, "open source file "+srcPath)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.IO(err, "create destination file "+dstPath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errs.IO(err, "copy file to "+dstPath)
	}
	return nil
}
