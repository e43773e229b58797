package install

import (
	"archive/tar"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/a-h/leaf/internal/db"
	"github.com/a-h/leaf/internal/pkgmodel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "leaf.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// writeArchive builds a minimal .lfpkg fixture containing a single data/
// file with the given content, the same xz+tar shape archive_test.go uses.
func writeArchive(t *testing.T, path, fileName, content string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
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
}

func localHandle(t *testing.T, archiveDir, name, version string, content string) *pkgmodel.Handle {
	t.Helper()
	archivePath := filepath.Join(archiveDir, name+"-"+version+".lfpkg")
	writeArchive(t, archivePath, name+".txt", content)

	p := pkgmodel.NewRemote(name, version, 1, "", "irrelevant", pkgmodel.Resolved(nil), "https://example.test/"+name+".lfpkg")
	p.TransitionToLocal(archivePath, "computed-"+name)
	return pkgmodel.NewHandle(p)
}

func TestInstallPackageSingle(t *testing.T) {
	store := openTestDB(t)
	archiveDir := t.TempDir()
	root := t.TempDir()

	h := localHandle(t, archiveDir, "lib", "1.0", "hello")

	cfg := Config{Root: root, PackagesDir: t.TempDir()}
	if err := InstallPackage(context.Background(), h, cfg, store, testLogger()); err != nil {
		t.Fatal(err)
	}

	if h.Variant() != pkgmodel.VariantInstalled {
		t.Fatalf("variant = %v, want Installed", h.Variant())
	}

	content, err := os.ReadFile(filepath.Join(root, "lib.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Errorf("deployed file content = %q, want %q", content, "hello")
	}

	tx, err := store.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Commit()

	id, ok, err := tx.GetPackageID("lib")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected lib's row to be recorded")
	}
	paths, err := tx.FilesForPackage(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "/lib.txt" {
		t.Errorf("FilesForPackage() = %v, want [/lib.txt]", paths)
	}
}

func TestInstallPackageDiamondDependency(t *testing.T) {
	store := openTestDB(t)
	archiveDir := t.TempDir()
	root := t.TempDir()

	base := localHandle(t, archiveDir, "base", "1.0", "base-content")

	liba := pkgmodel.NewRemote("lib-a", "1.0", 1, "", "irrelevant", pkgmodel.Resolved([]*pkgmodel.Handle{base}), "https://example.test/lib-a.lfpkg")
	archivePathA := filepath.Join(archiveDir, "lib-a-1.0.lfpkg")
	writeArchive(t, archivePathA, "lib-a.txt", "lib-a-content")
	liba.TransitionToLocal(archivePathA, "computed-lib-a")
	libaH := pkgmodel.NewHandle(liba)

	libb := pkgmodel.NewRemote("lib-b", "1.0", 1, "", "irrelevant", pkgmodel.Resolved([]*pkgmodel.Handle{base}), "https://example.test/lib-b.lfpkg")
	archivePathB := filepath.Join(archiveDir, "lib-b-1.0.lfpkg")
	writeArchive(t, archivePathB, "lib-b.txt", "lib-b-content")
	libb.TransitionToLocal(archivePathB, "computed-lib-b")
	libbH := pkgmodel.NewHandle(libb)

	app := pkgmodel.NewRemote("app", "1.0", 1, "", "irrelevant", pkgmodel.Resolved([]*pkgmodel.Handle{libaH, libbH}), "https://example.test/app.lfpkg")
	archivePathApp := filepath.Join(archiveDir, "app-1.0.lfpkg")
	writeArchive(t, archivePathApp, "app.txt", "app-content")
	app.TransitionToLocal(archivePathApp, "computed-app")
	appH := pkgmodel.NewHandle(app)

	cfg := Config{Root: root, PackagesDir: t.TempDir()}
	if err := InstallPackage(context.Background(), appH, cfg, store, testLogger()); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"base.txt", "lib-a.txt", "lib-b.txt", "app.txt"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("expected %s to be deployed to root: %v", name, err)
		}
	}

	tx, err := store.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Commit()

	for _, name := range []string{"base", "lib-a", "lib-b", "app"} {
		if _, ok, err := tx.GetPackageID(name); err != nil {
			t.Fatal(err)
		} else if !ok {
			t.Errorf("expected %s to be recorded exactly once despite being reached via two paths", name)
		}
	}

	appDeps, err := tx.GetDependencies("computed-app")
	if err != nil {
		t.Fatal(err)
	}
	if len(appDeps) != 2 {
		t.Errorf("app's recorded dependencies = %v, want 2 entries", appDeps)
	}
}

func TestInstallPackageConflictRejected(t *testing.T) {
	store := openTestDB(t)
	archiveDir := t.TempDir()
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "lib.txt"), []byte("pre-existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := localHandle(t, archiveDir, "lib", "1.0", "hello")

	cfg := Config{
		Root:         root,
		PackagesDir:  t.TempDir(),
		ConflictFunc: func(string) bool { return false },
	}
	if err := InstallPackage(context.Background(), h, cfg, store, testLogger()); err == nil {
		t.Fatal("expected an error when the conflict function rejects an overwrite")
	}

	content, err := os.ReadFile(filepath.Join(root, "lib.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "pre-existing" {
		t.Errorf("expected the pre-existing file to be left untouched, got %q", content)
	}

	tx, err := store.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Commit()
	if _, ok, err := tx.GetPackageID("lib"); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("expected the database to remain unchanged when deployment fails")
	}
}

func TestInstallPackageAlreadyInstalledIsNoop(t *testing.T) {
	store := openTestDB(t)
	root := t.TempDir()

	h := pkgmodel.NewHandle(pkgmodel.NewInstalledStub("lib", "1.0", 1, "", "hash", pkgmodel.Resolved(nil)))

	cfg := Config{Root: root, PackagesDir: t.TempDir()}
	if err := InstallPackage(context.Background(), h, cfg, store, testLogger()); err != nil {
		t.Fatal(err)
	}

	tx, err := store.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Commit()
	if _, ok, err := tx.GetPackageID("lib"); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("expected no database row from re-installing an already-Installed handle")
	}
}
