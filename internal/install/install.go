// Package install implements leaf's installation phase: walking a resolved
// package's dependency tree depth-first, extracting each Local package's
// archive into the package cache, copying its files into the target root,
// and recording both the package and its file ownership in the installed
// database inside one transaction per package.
package install

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/a-h/leaf/internal/archive"
	"github.com/a-h/leaf/internal/db"
	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/fsindex"
	"github.com/a-h/leaf/internal/pkgmodel"
)

// Config configures the installer's filesystem layout.
type Config struct {
	Root         string
	PackagesDir  string
	ConflictFunc fsindex.ConflictFunc
}

// defaultConflictFunc always overwrites anything already present at the
// destination.
func defaultConflictFunc(string) bool { return true }

// InstallPackage installs h and every package in its resolved dependency
// subtree (skipping anything already Installed), then records the full set
// of dependency edges once the whole subtree is on disk.
func InstallPackage(ctx context.Context, h *pkgmodel.Handle, cfg Config, store *db.DB, log *slog.Logger) error {
	if cfg.ConflictFunc == nil {
		cfg.ConflictFunc = defaultConflictFunc
	}

	if err := installRec(ctx, h, cfg, store, log); err != nil {
		return err
	}

	visited := map[string]bool{}
	return insertPackageDependencies(h, store, visited, log)
}

// installRec installs h if it isn't already Installed. TryLock means a
// package already being installed along another branch of a diamond
// dependency graph is simply skipped here: the branch that won the race
// installs it, and this call returns successfully without doing any work.
func installRec(ctx context.Context, h *pkgmodel.Handle, cfg Config, store *db.DB, log *slog.Logger) error {
	if !h.TryLock() {
		log.Debug("install: package locked elsewhere, skipping")
		return nil
	}
	// With takes the write lock itself, so the probe lock is released first;
	// the Installed check inside With keeps a second caller from redoing work.
	h.Unlock()

	var result error
	h.With(func(p *pkgmodel.Package) {
		switch p.Variant() {
		case pkgmodel.VariantInstalled:
			return
		case pkgmodel.VariantRemote:
			result = errs.UnexpectedVariant(pkgmodel.VariantLocal.String(), pkgmodel.VariantRemote.String())
			return
		}

		local, err := p.AsLocal()
		if err != nil {
			result = err
			return
		}

		deps, err := p.Dependencies.Handles()
		if err != nil {
			result = err
			return
		}

		// Recurse into dependencies before installing p itself: releasing p's
		// write lock while recursing would reopen the diamond-dependency race
		// this TryLock scheme exists to avoid, so dependencies are installed
		// while still holding p's lock.
		for _, dep := range deps {
			if err := installRec(ctx, dep, cfg, store, log); err != nil {
				result = err
				return
			}
		}

		entries, err := deployLocal(p, local, cfg, log)
		if err != nil {
			result = err
			return
		}

		if err := recordPackage(p, entries, store, log); err != nil {
			result = err
			return
		}

		p.TransitionToInstalled(entries)
		log.Info("installed package", slog.String("package", p.FullName()))
	})
	return result
}

// deployLocal extracts local's archive into cfg.PackagesDir/<fullname>,
// indexes its data/ subtree, and copies that tree into cfg.Root.
func deployLocal(p *pkgmodel.Package, local *pkgmodel.LocalData, cfg Config, log *slog.Logger) ([]fsindex.FSEntry, error) {
	extractDir := filepath.Join(cfg.PackagesDir, p.FullName())
	if err := os.RemoveAll(extractDir); err != nil {
		return nil, errs.IO(err, "remove existing extract directory "+extractDir)
	}
	if err := archive.Extract(local.ArchivePath, extractDir); err != nil {
		return nil, err
	}

	dataDir := filepath.Join(extractDir, "data")
	entries, err := fsindex.Index(dataDir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, errs.IO(err, "create root "+cfg.Root)
	}
	if err := fsindex.CopyRecursive(dataDir, cfg.Root, entries, cfg.ConflictFunc); err != nil {
		return nil, err
	}

	log.Debug("deployed package files", slog.String("package", p.FullName()), slog.Int("entries", len(entries)))
	return entries, nil
}

// recordPackage writes p's metadata row and file ownership tree in one
// transaction, matching spec §4.9's one-transaction-per-package-install rule.
func recordPackage(p *pkgmodel.Package, entries []fsindex.FSEntry, store *db.DB, log *slog.Logger) error {
	tx, err := store.Begin()
	if err != nil {
		return err
	}

	if err := tx.InsertPackage(db.InsertPackageInput{
		Name:        p.Name,
		Version:     p.Version,
		RealVersion: p.RealVersion,
		Description: p.Description,
		Hash:        p.Hash,
	}); err != nil {
		tx.Rollback()
		return err
	}

	id, ok, err := tx.GetPackageID(p.Name)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !ok {
		tx.Rollback()
		return errs.PackageNotFound(p.Name)
	}

	if err := tx.InsertFiles(id, nil, entries, ""); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Debug("recorded package in database", slog.String("package", p.Name), slog.Int64("id", id))
	return nil
}

// insertPackageDependencies walks h's already-installed subtree recording
// every (depender, dependency) edge, deduplicated by name since a diamond
// dependency is visited once per incoming edge but must only be recorded once.
func insertPackageDependencies(h *pkgmodel.Handle, store *db.DB, visited map[string]bool, log *slog.Logger) error {
	name := h.Name()
	if visited[name] {
		return nil
	}
	visited[name] = true

	deps, err := h.ResolvedDependencies()
	if err != nil {
		return err
	}

	if len(deps) > 0 {
		tx, err := store.Begin()
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if err := tx.InsertDependency(name, dep.Name()); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Debug("recorded dependency edges", slog.String("package", name), slog.Int("count", len(deps)))
	}

	for _, dep := range deps {
		if err := insertPackageDependencies(dep, store, visited, log); err != nil {
			return err
		}
	}
	return nil
}
