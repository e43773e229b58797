package pkgmodel

import "sync"

// Handle is a shared, mutable, reader-writer-guarded reference to a Package.
// The resolver, fetch pool, and installer pass the same *Handle between
// phases; a write holder may transition the underlying Package's variant in
// place, which is how the resolver's topological pool survives the
// Remote→Local→Installed walk without being rebuilt.
type Handle struct {
	mu  sync.RWMutex
	pkg Package
}

// NewHandle wraps pkg in a fresh Handle.
func NewHandle(pkg Package) *Handle {
	return &Handle{pkg: pkg}
}

// Lock acquires the handle for exclusive (write) access.
func (h *Handle) Lock() { h.mu.Lock() }

// Unlock releases an exclusive lock acquired with Lock.
func (h *Handle) Unlock() { h.mu.Unlock() }

// TryLock attempts to acquire the handle for exclusive access without
// blocking, reporting whether it succeeded. Used by the installer: "if
// another thread holds it, return Ok (another path will install it)".
func (h *Handle) TryLock() bool { return h.mu.TryLock() }

// RLock acquires the handle for shared (read) access.
func (h *Handle) RLock() { h.mu.RLock() }

// RUnlock releases a shared lock acquired with RLock.
func (h *Handle) RUnlock() { h.mu.RUnlock() }

// With runs fn with the handle held for exclusive access, giving fn direct
// mutable access to the underlying Package.
func (h *Handle) With(fn func(*Package)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.pkg)
}

// WithRead runs fn with the handle held for shared access.
func (h *Handle) WithRead(fn func(*Package)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn(&h.pkg)
}

// Name reads the package name under a shared lock.
func (h *Handle) Name() (name string) {
	h.WithRead(func(p *Package) { name = p.Name })
	return name
}

// Hash reads the package hash under a shared lock.
func (h *Handle) Hash() (hash string) {
	h.WithRead(func(p *Package) { hash = p.Hash })
	return hash
}

// FullName reads the package's full name under a shared lock.
func (h *Handle) FullName() (name string) {
	h.WithRead(func(p *Package) { name = p.FullName() })
	return name
}

// FQName reads the package's fully-qualified name under a shared lock.
func (h *Handle) FQName() (name string) {
	h.WithRead(func(p *Package) { name = p.FQName() })
	return name
}

// Variant reads the package's current variant under a shared lock.
func (h *Handle) Variant() (v Variant) {
	h.WithRead(func(p *Package) { v = p.Variant() })
	return v
}

// Snapshot returns a shallow copy of the underlying Package (dependency
// handles, if resolved, are shared, not deep-copied) under a shared lock.
func (h *Handle) Snapshot() (pkg Package) {
	h.WithRead(func(p *Package) { pkg = *p })
	return pkg
}

// ResolvedDependencies returns the handle's resolved dependency handles, or
// ErrUnresolvedDependencies if the package's dependency list hasn't been
// resolved yet.
func (h *Handle) ResolvedDependencies() (handles []*Handle, err error) {
	h.WithRead(func(p *Package) { handles, err = p.Dependencies.Handles() })
	return handles, err
}
