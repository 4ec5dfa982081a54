package lifecycle

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// FS is the filesystem surface the manager needs.
type FS interface {
	Exists(path string) bool
	Copy(src, dst string) error
	Rename(src, dst string) error
	Remove(path string) error
	Equal(a, b string) (bool, error)
}

// OSFS is the real filesystem.
type OSFS struct{}

// Exists reports whether path names an existing file.
func (OSFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Copy streams src to dst, keeping the source permissions.
func (OSFS) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

// Rename moves src to dst.
func (OSFS) Rename(src, dst string) error { return os.Rename(src, dst) }

// Remove deletes path.
func (OSFS) Remove(path string) error { return os.Remove(path) }

// Equal reports whether a and b have identical contents.
func (OSFS) Equal(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	ia, err := fa.Stat()
	if err != nil {
		return false, err
	}
	ib, err := fb.Stat()
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	bufA, bufB := make([]byte, 32<<10), make([]byte, 32<<10)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA && doneB, nil
		}
	}
}
