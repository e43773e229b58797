// Package hash computes the MD5 content digests leaf uses to identify
// archives, files, and symlink targets.
package hash

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"

	"github.com/a-h/leaf/internal/errs"
)

// Bytes returns the lowercase 32-character hex MD5 digest of b.
func Bytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// File returns the lowercase 32-character hex MD5 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.IO(err, "open file for hashing")
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.IO(err, "read file for hashing")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
