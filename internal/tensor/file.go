package tensor

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// WriteFile encodes a to path. The data is written to a temporary file in the
// same directory and renamed into place, so path never holds a partial array.
func WriteFile(path string, a Array) error {
	return WriteAtomic(path, func(f *os.File) error { return Encode(f, a) })
}

// WriteAtomic calls write with a temporary file next to path and renames it
// to path once write and Close both succeed.
func WriteAtomic(path string, write func(f *os.File) error) error {
	tmp, err := stage(path, write)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// stage writes a temporary file next to path and returns its name.
func stage(path string, write func(f *os.File) error) (tmp string, err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	err = write(f)
	err = multierr.Append(err, f.Close())
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Name(), nil
}

// Batch stages files next to their destinations. None of them replaces its
// destination before Commit, so a failed run leaves the previous files
// untouched.
type Batch struct {
	staged []staged
}

type staged struct {
	tmp, path string
}

// Write stages the content produced by write for path.
func (b *Batch) Write(path string, write func(f *os.File) error) error {
	tmp, err := stage(path, write)
	if err != nil {
		return err
	}
	b.staged = append(b.staged, staged{tmp: tmp, path: path})
	return nil
}

// WriteArray stages a encoded for path.
func (b *Batch) WriteArray(path string, a Array) error {
	return b.Write(path, func(f *os.File) error { return Encode(f, a) })
}

// Commit renames the staged files into place in the order they were staged.
func (b *Batch) Commit() error {
	for i, s := range b.staged {
		if err := os.Rename(s.tmp, s.path); err != nil {
			b.staged = b.staged[i:]
			b.Discard()
			return fmt.Errorf("failed to write %s: %w", s.path, err)
		}
	}
	b.staged = nil
	return nil
}

// Discard removes the staged files that were not committed.
func (b *Batch) Discard() {
	for _, s := range b.staged {
		os.Remove(s.tmp)
	}
	b.staged = nil
}

// ReadFloat32File decodes a float32 array from path.
func ReadFloat32File(path string) (*Float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := DecodeFloat32(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// ReadInt64File decodes an int64 array from path.
func ReadInt64File(path string) (*Int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := DecodeInt64(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}
