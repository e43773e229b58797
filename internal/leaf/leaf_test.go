package leaf

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/a-h/leaf/internal/config"
	"github.com/a-h/leaf/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildArchive returns the bytes of a minimal .lfpkg archive containing a
// single data/ file named fileName with the given content.
func buildArchive(t *testing.T, fileName, content string) []byte {
	t.Helper()

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(xw)

	if err := tw.WriteHeader(&tar.Header{Name: "data/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	hdr := &tar.Header{Name: "data/" + fileName, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeMirrorCatalog(t *testing.T, mirrorsDir, mirrorName, jsonPayload string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(mirrorsDir, mirrorName+".json"), []byte(jsonPayload), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestInstallResolvesFetchesAndInstallsAcrossMirrors exercises "two mirrors,
// package only in the second, dependent in the first": install the
// dependent and expect both packages fetched and recorded.
func TestInstallResolvesFetchesAndInstallsAcrossMirrors(t *testing.T) {
	libArchive := buildArchive(t, "lib.txt", "lib-content")
	appArchive := buildArchive(t, "app.txt", "app-content")

	server := httptest.NewServeMux()
	server.HandleFunc("/lib.lfpkg", func(w http.ResponseWriter, r *http.Request) { w.Write(libArchive) })
	server.HandleFunc("/app.lfpkg", func(w http.ResponseWriter, r *http.Request) { w.Write(appArchive) })
	ts := httptest.NewServer(server)
	defer ts.Close()

	root := t.TempDir()
	mirrorsDir := t.TempDir()

	writeMirrorCatalog(t, mirrorsDir, "m1", `[{"name":"app","version":"1.0","real_version":1,"description":"","dependencies":["lib"],"hash":"apphash","url":"`+ts.URL+`/app.lfpkg"}]`)
	writeMirrorCatalog(t, mirrorsDir, "m2", `[{"name":"lib","version":"1.0","real_version":1,"description":"","dependencies":[],"hash":"libhash","url":"`+ts.URL+`/lib.lfpkg"}]`)

	cfg := config.Config{
		Root:            root,
		DownloadWorkers: 2,
		MirrorsDir:      mirrorsDir,
		DownloadDir:     t.TempDir(),
		PackagesDir:     t.TempDir(),
		DBPath:          filepath.Join(t.TempDir(), "leaf.db"),
		Mirrors: []config.MirrorSpec{
			{Name: "m1", URL: ts.URL + "/m1.json"},
			{Name: "m2", URL: ts.URL + "/m2.json"},
		},
	}

	l, err := New(cfg, metrics.Metrics{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Install(context.Background(), []string{"app"}); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"lib.txt", "app.txt"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("expected %s deployed to root: %v", name, err)
		}
	}

	summaries, err := l.ListInstalled(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("ListInstalled() returned %d rows, want 2", len(summaries))
	}

	info, err := l.Info(context.Background(), "app")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Dependencies) != 1 || info.Dependencies[0] != "lib" {
		t.Errorf("Info(app).Dependencies = %v, want [lib]", info.Dependencies)
	}
}

func TestUpdateAccumulatesPerMirrorErrors(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":[]}`))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := config.Config{
		Root:        t.TempDir(),
		MirrorsDir:  t.TempDir(),
		DownloadDir: t.TempDir(),
		PackagesDir: t.TempDir(),
		DBPath:      filepath.Join(t.TempDir(), "leaf.db"),
		Mirrors: []config.MirrorSpec{
			{Name: "good", URL: ok.URL},
			{Name: "bad", URL: bad.URL},
		},
	}

	l, err := New(cfg, metrics.Metrics{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	errsOut := l.Update(context.Background())
	if len(errsOut) != 1 {
		t.Fatalf("Update() returned %d errors, want exactly 1 for the failing mirror", len(errsOut))
	}
}
