package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/a-h/leaf/internal/errs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateStoresPayloadOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"envelope_field":"discard me","payload":[{"name":"lib","version":"1.0","real_version":1,"description":"a lib","dependencies":[],"hash":"` + "deadbeef00000000000000000000000" + `","url":"https://example.test/lib.lfpkg"}]}`))
	}))
	defer server.Close()

	mirrorsDir := t.TempDir()
	m := New("main", server.URL, testLogger())
	if err := m.Update(context.Background(), mirrorsDir, false); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(mirrorsDir, "main.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw)[0] != '[' {
		t.Errorf("stored catalog = %q, want only the payload array (starting with '[')", raw)
	}
}

func TestLoadAndFindPackage(t *testing.T) {
	mirrorsDir := t.TempDir()
	payload := `[{"name":"lib","version":"1.0","real_version":"1","description":"a lib","dependencies":["base"],"hash":"deadbeef00000000000000000000000","url":"https://example.test/lib.lfpkg"}]`
	if err := os.WriteFile(filepath.Join(mirrorsDir, "main.json"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New("main", "https://example.test/catalog.json", testLogger())

	if _, err := m.FindPackage("lib"); !errors.Is(err, errs.ErrMirrorNotLoaded) {
		t.Fatalf("expected ErrMirrorNotLoaded before Load, got %v", err)
	}

	if err := m.Load(mirrorsDir); err != nil {
		t.Fatal(err)
	}

	h, err := m.FindPackage("lib")
	if err != nil {
		t.Fatal(err)
	}
	if h.Name() != "lib" {
		t.Errorf("Name() = %q, want lib", h.Name())
	}
	deps := h.Snapshot().Dependencies.Names()
	if len(deps) != 1 || deps[0] != "base" {
		t.Errorf("dependency names = %v, want [base]", deps)
	}

	if _, err := m.FindPackage("missing"); !errors.Is(err, errs.ErrPackageNotFound) {
		t.Errorf("expected ErrPackageNotFound for a missing package, got %v", err)
	}
}

func TestResolvePackageFallsThroughToLaterMirror(t *testing.T) {
	m1Dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(m1Dir, "m1.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	m2Dir := m1Dir
	if err := os.WriteFile(filepath.Join(m2Dir, "m2.json"), []byte(`[{"name":"lib","version":"2.0","real_version":2,"description":"","dependencies":[],"hash":"cafebabe00000000000000000000000","url":"https://example.test/lib.lfpkg"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	m1 := New("m1", "", testLogger())
	m2 := New("m2", "", testLogger())
	if err := m1.Load(m1Dir); err != nil {
		t.Fatal(err)
	}
	if err := m2.Load(m2Dir); err != nil {
		t.Fatal(err)
	}

	h, err := ResolvePackage("lib", []*Mirror{m1, m2})
	if err != nil {
		t.Fatal(err)
	}
	if h.Name() != "lib" {
		t.Errorf("Name() = %q, want lib", h.Name())
	}

	if _, err := ResolvePackage("nope", []*Mirror{m1, m2}); !errors.Is(err, errs.ErrPackageNotFound) {
		t.Errorf("expected ErrPackageNotFound, got %v", err)
	}
}
