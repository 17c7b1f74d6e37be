package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Output builds the daemon's log destination: stdout alone when path is
// empty, otherwise stdout tee'd with a size-rotated file. The returned
// closer releases the file and is never nil.
func Output(path string, maxSizeMB, maxBackups int) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nopCloser{}, nil
	}
	if maxSizeMB < 1 {
		maxSizeMB = 1
	}
	f, err := openRotating(path, int64(maxSizeMB)<<20, maxBackups)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stdout, f), f, nil
}

// rotatingFile appends to path. A write that would take it past limit
// first shifts path to path.1, path.1 to path.2 and so on, keeping at most
// backups old files. With backups == 0 the file is truncated instead.
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	f       *os.File
	size    int64
}

func openRotating(path string, limit int64, backups int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	r := &rotatingFile{path: path, limit: limit, backups: max(backups, 0)}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.limit {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.f, r.size = f, info.Size()
	return nil
}

func (r *rotatingFile) rotate() error {
	r.f.Close()
	r.f = nil

	if r.backups == 0 {
		if err := os.Truncate(r.path, 0); err != nil {
			return err
		}
		return r.open()
	}

	os.Remove(r.backup(r.backups))
	for i := r.backups - 1; i >= 1; i-- {
		os.Rename(r.backup(i), r.backup(i+1))
	}
	if err := os.Rename(r.path, r.backup(1)); err != nil {
		return err
	}
	return r.open()
}

func (r *rotatingFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", r.path, i)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
