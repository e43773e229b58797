// Package pkgmodel implements the Package tagged union (Remote/Local/
// Installed), its Unresolved/Resolved dependency list, and the reader-writer
// guarded Handle that lets the resolver, fetcher, and installer share and
// mutate the same package in place as it moves through its lifecycle.
package pkgmodel

import (
	"fmt"

	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/fsindex"
)

// Variant identifies which of the three lifecycle states a Package is in.
type Variant int

const (
	VariantRemote Variant = iota
	VariantLocal
	VariantInstalled
)

func (v Variant) String() string {
	switch v {
	case VariantRemote:
		return "remote"
	case VariantLocal:
		return "local"
	case VariantInstalled:
		return "installed"
	default:
		return "unknown"
	}
}

// Dependencies is the tagged Unresolved/Resolved dependency list. The zero
// value is an empty Unresolved list.
type Dependencies struct {
	resolved bool
	names    []string
	handles  []*Handle
}

// Unresolved builds a Dependencies value holding the given ordered names.
func Unresolved(names []string) Dependencies {
	return Dependencies{names: append([]string(nil), names...)}
}

// Resolved builds a Dependencies value holding the given ordered handles.
func Resolved(handles []*Handle) Dependencies {
	return Dependencies{resolved: true, handles: append([]*Handle(nil), handles...)}
}

// IsResolved reports whether d holds handles rather than bare names.
func (d Dependencies) IsResolved() bool {
	return d.resolved
}

// Names returns the dependency names in order, resolving through handles
// (taking each handle's read lock) when d is Resolved.
func (d Dependencies) Names() []string {
	if !d.resolved {
		return append([]string(nil), d.names...)
	}
	names := make([]string, len(d.handles))
	for i, h := range d.handles {
		names[i] = h.Name()
	}
	return names
}

// Handles returns the resolved handle list, or ErrUnresolvedDependencies if
// d has not yet been resolved.
func (d Dependencies) Handles() ([]*Handle, error) {
	if !d.resolved {
		return nil, errs.New(errs.KindUnresolvedDependencies, "dependency list is not yet resolved")
	}
	return append([]*Handle(nil), d.handles...), nil
}

// CloneUnresolved collapses a Resolved dependency list back to Unresolved by
// name. This is the only sanctioned way to duplicate a resolved package's
// dependency list without aliasing its handles (and therefore without
// risking graph cycles across clones).
func (d Dependencies) CloneUnresolved() Dependencies {
	return Unresolved(d.Names())
}

// Package is the central entity: fields common to every variant, plus
// exactly one of remote/local/installed populated according to variant.
type Package struct {
	Name         string
	Version      string
	RealVersion  int64
	Description  string
	Hash         string
	Dependencies Dependencies

	variant   Variant
	remote    *RemoteData
	local     *LocalData
	installed *InstalledData
}

// RemoteData is the Remote variant's payload.
type RemoteData struct {
	URL string
}

// LocalData is the Local variant's payload.
type LocalData struct {
	ArchivePath string
}

// InstalledData is the Installed variant's payload: the package's owned
// filesystem forest, rooted at the target root.
type InstalledData struct {
	Files []fsindex.FSEntry
}

// NewRemote builds a Remote-variant package.
func NewRemote(name, version string, realVersion int64, description, hash string, deps Dependencies, url string) Package {
	return Package{
		Name: name, Version: version, RealVersion: realVersion,
		Description: description, Hash: hash, Dependencies: deps,
		variant: VariantRemote, remote: &RemoteData{URL: url},
	}
}

// NewInstalledStub builds an Installed-variant package with no populated
// filesystem forest, as used by the resolver when short-circuiting via the
// database.
func NewInstalledStub(name, version string, realVersion int64, description, hash string, deps Dependencies) Package {
	return Package{
		Name: name, Version: version, RealVersion: realVersion,
		Description: description, Hash: hash, Dependencies: deps,
		variant: VariantInstalled, installed: &InstalledData{},
	}
}

// Variant reports which lifecycle state p is in.
func (p *Package) Variant() Variant {
	return p.variant
}

// FullName is "<name>-<version>", used in filesystem paths.
func (p *Package) FullName() string {
	return fmt.Sprintf("%s-%s", p.Name, p.Version)
}

// FQName is "<name>-<version>-<real_version>", used in logs.
func (p *Package) FQName() string {
	return fmt.Sprintf("%s-%s-%d", p.Name, p.Version, p.RealVersion)
}

// AsRemote returns the Remote payload, or ErrUnexpectedVariant.
func (p *Package) AsRemote() (*RemoteData, error) {
	if p.variant != VariantRemote {
		return nil, errs.UnexpectedVariant(VariantRemote.String(), p.variant.String())
	}
	return p.remote, nil
}

// AsLocal returns the Local payload, or ErrUnexpectedVariant.
func (p *Package) AsLocal() (*LocalData, error) {
	if p.variant != VariantLocal {
		return nil, errs.UnexpectedVariant(VariantLocal.String(), p.variant.String())
	}
	return p.local, nil
}

// AsInstalled returns the Installed payload, or ErrUnexpectedVariant.
func (p *Package) AsInstalled() (*InstalledData, error) {
	if p.variant != VariantInstalled {
		return nil, errs.UnexpectedVariant(VariantInstalled.String(), p.variant.String())
	}
	return p.installed, nil
}

// TransitionToLocal moves p from Remote to Local, carrying archivePath and
// replacing Hash with the freshly computed hash (which may equal the old
// one, or may differ if the archive's real content hash didn't match the
// catalog's claimed hash).
func (p *Package) TransitionToLocal(archivePath, computedHash string) {
	p.variant = VariantLocal
	p.remote = nil
	p.local = &LocalData{ArchivePath: archivePath}
	p.Hash = computedHash
}

// TransitionToInstalled moves p from Local to Installed, attaching the
// indexed filesystem forest copied into the target root.
func (p *Package) TransitionToInstalled(files []fsindex.FSEntry) {
	p.variant = VariantInstalled
	p.local = nil
	p.installed = &InstalledData{Files: files}
}
