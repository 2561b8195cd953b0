// Package fs is the real-disk implementation of hsaj.Filesystem.
package fs

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"hsaj-go/internal/hsaj"
)

// OSFilesystem moves files on the local disk. Moves never overwrite and fall
// back to a verified copy when source and destination are on different devices.
type OSFilesystem struct{}

// NewOSFilesystem creates an OSFilesystem.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{}
}

func (OSFilesystem) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

func (OSFilesystem) MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

func (OSFilesystem) Move(src, dst string) error {
	err := renameNoReplace(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EEXIST) || errors.Is(err, os.ErrExist) {
		return hsaj.ErrDestinationExists
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("renaming %s to %s: %w", src, dst, err)
	}

	if err := copyFileVerified(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing %s after copy to %s: %w", src, dst, err)
	}
	return nil
}

// copyFileVerified copies src to a new file at dst and checks size and
// SHA-256 of both sides. dst is removed on any failure.
func copyFileVerified(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return hsaj.ErrDestinationExists
		}
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	srcHash := sha256.New()
	dstHash := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHash), io.TeeReader(in, srcHash))
	if err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}

	if written != info.Size() {
		err = fmt.Errorf("copy size mismatch for %s: source %d bytes, copied %d bytes", src, info.Size(), written)
		return err
	}
	if !bytes.Equal(srcHash.Sum(nil), dstHash.Sum(nil)) {
		err = fmt.Errorf("copy hash mismatch for %s", src)
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

var _ hsaj.Filesystem = OSFilesystem{}
