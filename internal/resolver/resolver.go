// Package resolver walks a package's dependency graph across mirrors and
// the installed-package database, producing a topologically-ordered
// installation plan (a Pool) by DFS post-order with pull-back.
package resolver

import (
	"log/slog"

	"github.com/a-h/leaf/internal/db"
	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/mirror"
	"github.com/a-h/leaf/internal/pkgmodel"
)

// Resolve walks h's dependency graph, pushing every visited package (or its
// DB stub) into pool in dependency-first order. See spec §4.7 for the
// six-step algorithm this implements verbatim, including the documented
// cycle-breaking short-circuit at step 1. In the presence of cycles the
// resulting pool is a valid linearization, not necessarily a strict
// topological sort.
func Resolve(h *pkgmodel.Handle, pool *Pool, mirrors []*mirror.Mirror, txn *db.Tx, log *slog.Logger) error {
	// Step 1: a pool entry with the same hash means this subtree (or this
	// exact package, in a cycle) was already visited.
	if _, ok := pool.FindByHash(h.Hash()); ok {
		return nil
	}

	name := h.Name()

	// Step 2: the installed-package database may already have this package;
	// if so, short-circuit the whole subtree with a DB-backed stub.
	stub, ok, err := stubFromDB(txn, name, map[string]*pkgmodel.Handle{})
	if err != nil {
		return err
	}
	if ok {
		pool.Push(stub)
		log.Debug("resolved from installed database", slog.String("package", name))
		return nil
	}

	// Step 3: pre-visit push, breaking cycles through this package.
	pool.Push(h)

	// Step 4: resolve each dependency name to a handle, reusing pool entries
	// already present, recursing into the resolver for anything new.
	names := h.Snapshot().Dependencies.Names()
	newDeps := make([]*pkgmodel.Handle, 0, len(names))
	for _, depName := range names {
		if existing, ok := pool.Find(depName); ok {
			newDeps = append(newDeps, existing)
			continue
		}

		depHandle, err := mirror.ResolvePackage(depName, mirrors)
		if err != nil {
			return err
		}
		if err := Resolve(depHandle, pool, mirrors, txn, log); err != nil {
			return err
		}
		resolved, _ := pool.Find(depName)
		newDeps = append(newDeps, resolved)
	}

	// Step 5: replace dependencies with the resolved handle list.
	h.With(func(p *pkgmodel.Package) {
		p.Dependencies = pkgmodel.Resolved(newDeps)
	})

	// Step 6: pull-back — move h to the end so its dependencies precede it.
	pool.PullToEnd(h)

	log.Debug("resolved package", slog.String("package", name), slog.Int("dependencies", len(newDeps)))
	return nil
}

// stubFromDB builds an Installed-variant stub handle for name from the
// database, with its dependencies recursively stubbed too. visited guards
// against infinite recursion on a cyclic dependencies table (dependency
// edges recorded from a cycle that was itself broken at resolve time).
func stubFromDB(txn *db.Tx, name string, visited map[string]*pkgmodel.Handle) (*pkgmodel.Handle, bool, error) {
	if h, ok := visited[name]; ok {
		return h, true, nil
	}

	row, ok, err := txn.GetPackageByName(name)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	depNames, err := txn.GetDependencies(row.Hash)
	if err != nil {
		return nil, false, err
	}

	pkg := pkgmodel.NewInstalledStub(row.Name, row.Version, row.RealVersion, row.Description, row.Hash, pkgmodel.Unresolved(nil))
	h := pkgmodel.NewHandle(pkg)
	visited[name] = h

	depHandles := make([]*pkgmodel.Handle, 0, len(depNames))
	for _, depName := range depNames {
		depHandle, ok, err := stubFromDB(txn, depName, visited)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// The dependencies table's foreign keys guarantee every edge
			// references an existing package row; reaching here means the
			// database is corrupt.
			return nil, false, errs.PackageNotFound(depName)
		}
		depHandles = append(depHandles, depHandle)
	}
	h.With(func(p *pkgmodel.Package) {
		p.Dependencies = pkgmodel.Resolved(depHandles)
	})

	return h, true, nil
}
