// Package leaf is the facade that ties mirrors, the resolver, the fetch
// pool, and the installer together into the handful of operations the CLI
// exposes: update, install, list, info.
package leaf

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/a-h/leaf/internal/config"
	"github.com/a-h/leaf/internal/db"
	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/fetch"
	"github.com/a-h/leaf/internal/install"
	"github.com/a-h/leaf/internal/metrics"
	"github.com/a-h/leaf/internal/mirror"
	"github.com/a-h/leaf/internal/pkgmodel"
	"github.com/a-h/leaf/internal/resolver"
)

// Leaf is leaf's top-level entry point, holding the long-lived resources
// (database, mirror list, metrics) that every operation uses.
type Leaf struct {
	cfg     config.Config
	mirrors []*mirror.Mirror
	store   *db.DB
	metrics metrics.Metrics
	log     *slog.Logger
}

// New builds a Leaf from its configuration. The database is opened (and its
// schema bootstrapped) immediately; mirrors are constructed but not loaded
// until Update or Install needs their catalogs.
func New(cfg config.Config, m metrics.Metrics, log *slog.Logger) (*Leaf, error) {
	store, err := db.Open(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	mirrors := make([]*mirror.Mirror, 0, len(cfg.Mirrors))
	for _, spec := range cfg.Mirrors {
		mirrors = append(mirrors, mirror.New(spec.Name, spec.URL, log))
	}

	l := &Leaf{cfg: cfg, mirrors: mirrors, store: store, metrics: m, log: log}
	l.checkRoot()
	return l, nil
}

// checkRoot compares the database's recorded root against cfg.Root,
// warning (not failing) on mismatch, then records the configured root.
func (l *Leaf) checkRoot() {
	tx, err := l.store.Begin()
	if err != nil {
		return
	}
	defer tx.Commit()

	recorded, ok, err := tx.GetRegistry("root")
	if err != nil {
		return
	}
	if ok && recorded != l.cfg.Root {
		l.log.Warn("configured root differs from the root recorded in the database", slog.String("recorded", recorded), slog.String("configured", l.cfg.Root))
	}
	tx.SetRegistry("root", l.cfg.Root)
}

// Close releases the database connection pool.
func (l *Leaf) Close() error {
	return l.store.Close()
}

// Update refreshes every configured mirror's catalog, accumulating and
// returning every per-mirror failure rather than stopping at the first one.
func (l *Leaf) Update(ctx context.Context) []error {
	var mu sync.Mutex
	var errsOut []error
	var wg sync.WaitGroup

	for _, m := range l.mirrors {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Update(ctx, l.cfg.MirrorsDir, l.cfg.RenderBar); err != nil {
				mu.Lock()
				errsOut = append(errsOut, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errsOut) == 0 {
		tx, err := l.store.Begin()
		if err == nil {
			tx.SetRegistry("last_mirror_update", nowRFC3339())
			tx.Commit()
		}
	}

	return errsOut
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339)
}

// Install resolves, fetches, and installs every named package, along with
// its full transitive dependency set.
func (l *Leaf) Install(ctx context.Context, names []string) error {
	for _, m := range l.mirrors {
		if err := m.Load(l.cfg.MirrorsDir); err != nil {
			return err
		}
	}

	pool := resolver.NewPool()

	tx, err := l.store.Begin()
	if err != nil {
		return err
	}

	roots := make([]*pkgmodel.Handle, 0, len(names))
	for _, name := range names {
		h, err := mirror.ResolvePackage(name, l.mirrors)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := resolver.Resolve(h, pool, l.mirrors, tx, l.log); err != nil {
			tx.Rollback()
			return err
		}
		roots = append(roots, h)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for range pool.Handles() {
		l.metrics.IncrementPackagesResolved(ctx)
	}

	fetchCfg := fetch.Config{
		DownloadWorkers: l.cfg.DownloadWorkers,
		DownloadDir:     l.cfg.DownloadDir,
		RenderBar:       l.cfg.RenderBar,
	}
	results := fetch.FetchAll(ctx, pool.Handles(), fetchCfg, l.log)
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
		l.metrics.IncrementPackagesFetched(ctx, 0)
	}

	installCfg := install.Config{Root: l.cfg.Root, PackagesDir: l.cfg.PackagesDir}
	for _, h := range pool.Handles() {
		if err := install.InstallPackage(ctx, h, installCfg, l.store, l.log); err != nil {
			return err
		}
		l.metrics.IncrementPackagesInstalled(ctx)
	}

	for _, h := range roots {
		l.log.Info("install complete", slog.String("package", h.FullName()))
	}

	return nil
}

// InstalledSummary is one row of `leaf list`'s output.
type InstalledSummary struct {
	Name        string
	Version     string
	RealVersion int64
	Description string
}

// ListInstalled returns every package recorded in the installed database.
func (l *Leaf) ListInstalled(ctx context.Context) ([]InstalledSummary, error) {
	tx, err := l.store.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Commit()

	rows, err := tx.ListPackages()
	if err != nil {
		return nil, err
	}

	out := make([]InstalledSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, InstalledSummary{Name: r.Name, Version: r.Version, RealVersion: r.RealVersion, Description: r.Description})
	}
	return out, nil
}

// Info describes one installed package: its fully-qualified name, hash, and
// dependency names. Only the installed database is consulted; a package that
// is available from a mirror but not installed yields ErrPackageNotFound.
type Info struct {
	FQName       string
	Hash         string
	Dependencies []string
}

func (l *Leaf) Info(ctx context.Context, name string) (Info, error) {
	tx, err := l.store.Begin()
	if err != nil {
		return Info{}, err
	}
	defer tx.Commit()

	row, ok, err := tx.GetPackageByName(name)
	if err != nil {
		return Info{}, err
	}
	if !ok {
		return Info{}, errs.PackageNotFound(name)
	}

	deps, err := tx.GetDependencies(row.Hash)
	if err != nil {
		return Info{}, err
	}

	return Info{
		FQName:       row.Name + "-" + row.Version + "-" + strconv.FormatInt(row.RealVersion, 10),
		Hash:         row.Hash,
		Dependencies: deps,
	}, nil
}
