// Package archive unpacks the xz-compressed tar archives ("lfpkg") that
// leaf's mirrors distribute.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/a-h/leaf/internal/errs"
)

// Extract decompresses the xz+tar archive at archivePath into destDir,
// overwriting anything already there. destDir is created if absent.
func Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errs.IO(err, "open archive "+archivePath)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return errs.IO(err, "open xz stream for "+archivePath)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errs.IO(err, "create destination "+destDir)
	}

	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.IO(err, "read tar entry from "+archivePath)
		}

		target := filepath.Join(destDir, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.IO(err, "create directory "+target)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.IO(err, "create directory "+filepath.Dir(target))
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errs.IO(err, "symlink "+target)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.IO(err, "create directory "+filepath.Dir(target))
			}
			if err := writeFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}

		default:
			// Other tar entry kinds (hard links, devices, fifos) don't occur
			// in lfpkg payloads; skip rather than fail the whole extract.
		}
	}
}

func writeFile(r io.Reader, target string, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errs.IO(err, "create file "+target)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return errs.IO(err, "write file "+target)
	}
	return nil
}
