// Package fetch drives the concurrent download phase: one task per pool
// entry over a bounded worker set, each task fetching (or skipping) its
// package and contributing its result to an order-insensitive bag.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/a-h/leaf/internal/download"
	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/hash"
	"github.com/a-h/leaf/internal/pkgmodel"
	"github.com/a-h/leaf/internal/stage"
)

// Config configures the fetch phase.
type Config struct {
	DownloadWorkers int
	DownloadDir     string
	RenderBar       bool
}

// Result is one pool entry's fetch outcome.
type Result struct {
	Handle *pkgmodel.Handle
	Err    error
}

// FetchAll dispatches one task per handle in handles to a bounded worker
// pool sized cfg.DownloadWorkers, and returns every result once all tasks
// have completed. Result order is not guaranteed to match handles' order.
func FetchAll(ctx context.Context, handles []*pkgmodel.Handle, cfg Config, log *slog.Logger) []Result {
	workers := cfg.DownloadWorkers
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	var mu sync.Mutex
	results := make([]Result, 0, len(handles))

	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				results = append(results, Result{Handle: h, Err: err})
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			err := fetchOne(ctx, h, cfg, log)
			mu.Lock()
			results = append(results, Result{Handle: h, Err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

func fetchOne(ctx context.Context, h *pkgmodel.Handle, cfg Config, log *slog.Logger) error {
	var fetchErr error
	h.With(func(p *pkgmodel.Package) {
		switch p.Variant() {
		case pkgmodel.VariantInstalled:
			log.Debug("fetch: already installed, skipping", slog.String("package", p.Name))
			return
		case pkgmodel.VariantLocal:
			log.Debug("fetch: already local, skipping", slog.String("package", p.Name))
			return
		}

		remote, err := p.AsRemote()
		if err != nil {
			fetchErr = err
			return
		}
		fetchErr = fetchRemote(ctx, p, remote, cfg, log)
	})
	return fetchErr
}

// fetchRemote implements Remote.fetch: reuse a cached archive whose MD5
// matches the catalog hash, or download and hash the archive otherwise. A
// hash mismatch is not fatal: the freshly computed hash becomes the Local
// package's hash, since the extracted archive's actual identity is what
// gets recorded.
func fetchRemote(ctx context.Context, p *pkgmodel.Package, remote *pkgmodel.RemoteData, cfg Config, log *slog.Logger) error {
	cache := stage.NewFileSystem(cfg.DownloadDir)
	archiveName := p.FullName() + ".lfpkg"
	archivePath := cache.Path(archiveName)

	if existingHash, err := hash.File(archivePath); err == nil && existingHash == p.Hash {
		log.Debug("fetch: cached archive matches catalog hash, skipping network", slog.String("package", p.Name))
		p.TransitionToLocal(archivePath, existingHash)
		return nil
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return errs.IO(err, "create download directory "+cfg.DownloadDir)
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return errs.IO(err, "create archive file "+archivePath)
	}
	defer f.Close()

	var writeErr error
	sink := func(chunk []byte) bool {
		if _, err := f.Write(chunk); err != nil {
			writeErr = err
			return false
		}
		return true
	}

	progress := download.NewProgress(log, remote.URL, cfg.RenderBar)
	message := fmt.Sprintf("fetching %s", p.FullName())
	if _, err := download.Download(ctx, remote.URL, message, progress, sink); err != nil {
		if writeErr != nil {
			return errs.Wrap(errs.KindCurl, writeErr, message)
		}
		return errs.Wrap(errs.KindCurl, err, message)
	}

	computedHash, err := hash.File(archivePath)
	if err != nil {
		return err
	}

	p.TransitionToLocal(archivePath, computedHash)
	log.Info("fetched package", slog.String("package", p.Name), slog.String("hash", computedHash))
	return nil
}
