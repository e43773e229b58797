// Package download implements leaf's HTTP fetch primitive: a streaming GET
// with follow-redirects, a low-speed abort, cooperative process-wide
// cancellation, and optional progress reporting.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/runstate"
)

const (
	lowSpeedThresholdBytesPerSec = 1024
	lowSpeedWindow               = 30 * time.Second
	chunkSize                    = 32 * 1024
)

// Sink receives each chunk read from the response body. Returning false
// aborts the download with ErrUnknown (sink-signalled abort).
type Sink func([]byte) bool

// Progress receives live byte counts when progress reporting is enabled and
// a progress bar could be constructed (i.e. stderr is a terminal).
type Progress interface {
	Update(received, total int64)
	Finish()
}

// NewProgress returns a terminal progress reporter when show is true and
// stderr is attached to a terminal, a log-only reporter otherwise (matching
// "if show_progress is true and a progress bar can be constructed, report
// live; otherwise the start is merely logged").
func NewProgress(log *slog.Logger, url string, show bool) Progress {
	if show && isatty.IsTerminal(uintptr(fdStderr)) {
		return &barProgress{url: url}
	}
	log.Debug("downloading", slog.String("url", url))
	return &logProgress{log: log, url: url}
}

// fdStderr is the file descriptor of os.Stderr; pulled out as a var so it
// can be overridden in tests that don't have a real terminal available.
var fdStderr uintptr = 2

type barProgress struct {
	url string
}

func (p *barProgress) Update(received, total int64) {
	if total > 0 {
		print("\r" + p.url + ": " + humanProgress(received, total))
	} else {
		print("\r" + p.url + ": " + humanBytes(received))
	}
}

func (p *barProgress) Finish() {
	println()
}

type logProgress struct {
	log *slog.Logger
	url string
}

func (p *logProgress) Update(received, total int64) {
	p.log.Debug("download progress", slog.String("url", p.url), slog.Int64("bytes", received), slog.Int64("total", total))
}

func (p *logProgress) Finish() {}

// Download fetches url, streaming each chunk to sink. It follows redirects
// via the default http.Client redirect policy, aborts after 30s of sustained
// throughput below 1KB/s, and aborts cooperatively when runstate.Running()
// goes false. Both checks run between reads: a connection that stops
// delivering bytes altogether blocks in Read and is not aborted by them.
// Returns the HTTP status code on success (status in [200,300)).
func Download(ctx context.Context, url, message string, progress Progress, sink Sink) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errs.Wrap(errs.KindCurl, err, "build request for "+url)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.KindCurl, err, message)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, errs.New(errs.KindHTTPNot2xx, message)
	}

	total := resp.ContentLength

	gov := &lowSpeedGovernor{windowStart: time.Now()}
	buf := make([]byte, chunkSize)
	var received int64

	for {
		if !runstate.Running() {
			return resp.StatusCode, errs.New(errs.KindAbort, message)
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			received += int64(n)
			if !sink(buf[:n]) {
				return resp.StatusCode, errs.New(errs.KindUnknown, "sink aborted download of "+url)
			}
			if progress != nil {
				progress.Update(received, total)
			}
			if err := gov.observe(n); err != nil {
				return resp.StatusCode, err
			}
		}

		if readErr == io.EOF {
			if progress != nil {
				progress.Finish()
			}
			return resp.StatusCode, nil
		}
		if readErr != nil {
			return resp.StatusCode, errs.Wrap(errs.KindCurl, readErr, message)
		}
	}
}

// lowSpeedGovernor tracks throughput over 1s windows and aborts once the
// rate has stayed below lowSpeedThresholdBytesPerSec for lowSpeedWindow.
type lowSpeedGovernor struct {
	windowStart time.Time
	windowBytes int64
	lowSince    time.Time
}

func (g *lowSpeedGovernor) observe(n int) error {
	g.windowBytes += int64(n)
	now := time.Now()
	elapsed := now.Sub(g.windowStart)
	if elapsed < time.Second {
		return nil
	}

	rate := float64(g.windowBytes) / elapsed.Seconds()
	if rate < lowSpeedThresholdBytesPerSec {
		if g.lowSince.IsZero() {
			g.lowSince = now
		}
		if now.Sub(g.lowSince) >= lowSpeedWindow {
			return errs.New(errs.KindAbort, "low-speed abort: throughput below 1KB/s for 30s")
		}
	} else {
		g.lowSince = time.Time{}
	}

	g.windowStart = now
	g.windowBytes = 0
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%d%cB", n/div, "KMGTPE"[exp])
}

func humanProgress(received, total int64) string {
	var pct int64
	if total > 0 {
		pct = received * 100 / total
	}
	return fmt.Sprintf("%d%% (%s/%s)", pct, humanBytes(received), humanBytes(total))
}
