// Package mirror fetches and loads remote package catalogs, and resolves
// package names to freshly-owned Remote package handles by trying mirrors
// in order.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/a-h/leaf/internal/download"
	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/pkgmodel"
)

// Mirror is a named remote JSON catalog of fetchable packages.
type Mirror struct {
	Name string
	URL  string

	log      *slog.Logger
	loaded   bool
	packages []*pkgmodel.Handle
}

// New builds an unloaded Mirror.
func New(name, url string, log *slog.Logger) *Mirror {
	return &Mirror{Name: name, URL: url, log: log}
}

// catalogEnvelope is the wire shape a mirror URL returns: {"payload": [...], ...}.
// Only payload is kept; the rest of the envelope is discarded.
type catalogEnvelope struct {
	Payload json.RawMessage `json:"payload"`
}

// catalogPackage is one entry of the payload array.
type catalogPackage struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	RealVersion  flexibleInt `json:"real_version"`
	Description  string      `json:"description"`
	Dependencies []string    `json:"dependencies"`
	Hash         string      `json:"hash"`
	URL          string      `json:"url"`
}

// flexibleInt unmarshals real_version from either a JSON string or number.
type flexibleInt int64

func (f *flexibleInt) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexibleInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexibleInt(v)
	return nil
}

func catalogPath(mirrorsDir, name string) string {
	return filepath.Join(mirrorsDir, name+".json")
}

// Update fetches the mirror's URL, extracts the envelope's "payload" field,
// and writes that payload (not the original envelope) to
// <mirrorsDir>/<name>.json.
func (m *Mirror) Update(ctx context.Context, mirrorsDir string, renderBar bool) error {
	if err := os.MkdirAll(mirrorsDir, 0o755); err != nil {
		return errs.IO(err, "create mirrors directory "+mirrorsDir)
	}

	var buf []byte
	sink := func(chunk []byte) bool {
		buf = append(buf, chunk...)
		return true
	}

	progress := download.NewProgress(m.log, m.URL, renderBar)
	message := fmt.Sprintf("updating mirror %s", m.Name)
	if _, err := download.Download(ctx, m.URL, message, progress, sink); err != nil {
		return errs.Wrap(errs.KindCurl, err, message)
	}

	var env catalogEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return errs.Wrap(errs.KindJSON, err, "decode mirror envelope from "+m.Name)
	}

	if err := os.WriteFile(catalogPath(mirrorsDir, m.Name), env.Payload, 0o644); err != nil {
		return errs.IO(err, "write mirror catalog for "+m.Name)
	}

	m.log.Info("updated mirror", slog.String("mirror", m.Name), slog.String("url", m.URL))
	return nil
}

// Load reads <mirrorsDir>/<name>.json (the stored payload array) and
// populates m.packages with freshly-built Remote handles.
func (m *Mirror) Load(mirrorsDir string) error {
	data, err := os.ReadFile(catalogPath(mirrorsDir, m.Name))
	if err != nil {
		return errs.IO(err, "read mirror catalog for "+m.Name)
	}

	var entries []catalogPackage
	if err := json.Unmarshal(data, &entries); err != nil {
		return errs.Wrap(errs.KindJSON, err, "decode mirror catalog for "+m.Name)
	}

	packages := make([]*pkgmodel.Handle, 0, len(entries))
	for _, e := range entries {
		pkg := pkgmodel.NewRemote(e.Name, e.Version, int64(e.RealVersion), e.Description, e.Hash, pkgmodel.Unresolved(e.Dependencies), e.URL)
		packages = append(packages, pkgmodel.NewHandle(pkg))
	}

	m.packages = packages
	m.loaded = true
	m.log.Debug("loaded mirror", slog.String("mirror", m.Name), slog.Int("packages", len(packages)))
	return nil
}

// FindPackage returns the handle for the Remote package named name, or
// ErrMirrorNotLoaded if Load hasn't been called, or ErrPackageNotFound.
func (m *Mirror) FindPackage(name string) (*pkgmodel.Handle, error) {
	if !m.loaded {
		return nil, errs.MirrorNotLoaded(m.Name)
	}
	for _, h := range m.packages {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, errs.PackageNotFound(name)
}

// ResolvePackage iterates mirrors in order and returns a freshly-owned
// handle (a new Remote package, not an alias of the mirror's own cached
// handle) for the first mirror that has name. PackageNotFound bubbles up
// only after every mirror has been tried.
func ResolvePackage(name string, mirrors []*Mirror) (*pkgmodel.Handle, error) {
	for _, m := range mirrors {
		h, err := m.FindPackage(name)
		if err == nil {
			return pkgmodel.NewHandle(h.Snapshot()), nil
		}
		if !errors.Is(err, errs.ErrPackageNotFound) {
			return nil, err
		}
	}
	return nil, errs.PackageNotFound(name)
}
