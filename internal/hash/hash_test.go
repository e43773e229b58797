package hash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBytes(t *testing.T) {
	got := Bytes([]byte(""))
	want := "d41d8cd98f00b204e9800998ecf8427e"
	if got != want {
		t.Errorf("Bytes(\"\") = %q, want %q", got, want)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Bytes([]byte("hello"))
	if got != want {
		t.Errorf("File() = %q, want %q", got, want)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
