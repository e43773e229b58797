// Package stage provides the base-path-scoped local storage leaf's fetch
// phase stages downloaded archives into before they're extracted and
// installed. Read/Write give callers a stream; Path gives the callers that
// need a real filesystem path instead (archive extraction, MD5 hashing).
package stage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/a-h/leaf/internal/errs"
)

// Storage abstracts reading and writing named blobs under a base path.
// Only one implementation exists (FileSystem): leaf's mirrors, download
// directory, and package cache are always local paths per spec, so no
// object-storage backend is wired (see DESIGN.md).
type Storage interface {
	Read(name string) (io.ReadCloser, bool, error)
	Write(name string, data io.Reader) error
	Path(name string) string
}

// FileSystem implements Storage by rooting every name under basePath.
type FileSystem struct {
	basePath string
}

// NewFileSystem builds a FileSystem rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

// Path returns the real filesystem path backing name.
func (s *FileSystem) Path(name string) string {
	return filepath.Join(s.basePath, name)
}

// Read opens name for reading, reporting ok=false (not an error) if it
// doesn't exist.
func (s *FileSystem) Read(name string) (io.ReadCloser, bool, error) {
	full := s.Path(name)
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.IO(err, "open "+full)
	}
	return f, true, nil
}

// Write creates (or overwrites) name with the contents of data, creating
// any missing parent directories.
func (s *FileSystem) Write(name string, data io.Reader) error {
	full := s.Path(name)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errs.IO(err, "create directory "+filepath.Dir(full))
	}

	f, err := os.Create(full)
	if err != nil {
		return errs.IO(err, "create file "+full)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return errs.IO(err, "write file "+full)
	}
	return nil
}
