package target

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a Target backed by the local filesystem.
type File struct {
	path string
}

// NewFile returns a Target for the given local path.
func NewFile(path string) *File {
	return &File{path: filepath.Clean(path)}
}

// URI returns the cleaned filesystem path.
func (f *File) URI() string { return f.path }

// LocalPath always succeeds for a file target.
func (f *File) LocalPath() (string, bool) { return f.path, true }

// Exists stats the path on every call; results are never cached.
func (f *File) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", f.path, err)
	}
	return !info.IsDir(), nil
}

// Open opens the file for reading.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	r, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	return r, nil
}

// Create opens the file for writing. The content lands in a temp file next
// to the final path and is renamed into place on Close, so a crash mid-write
// never leaves a half-written object that would satisfy an existence check.
func (f *File) Create(ctx context.Context) (io.WriteCloser, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir for %s: %w", f.path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", f.path, err)
	}
	return &atomicWriter{tmp: tmp, final: f.path}, nil
}

// atomicWriter publishes the temp file on Close and cleans it up on Abort.
type atomicWriter struct {
	tmp   *os.File
	final string
}

func (w *atomicWriter) Write(p []byte) (int, error) { return w.tmp.Write(p) }

func (w *atomicWriter) Close() error {
	name := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, w.final); err != nil {
		os.Remove(name)
		return fmt.Errorf("publish %s: %w", w.final, err)
	}
	return nil
}
