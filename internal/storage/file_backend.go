package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// FileBackend keeps the snapshot as a JSON document on the local filesystem.
// Writes go to a temp file that is fsynced and renamed over the document.
// A flock on <path>.lock keeps other processes (taskd import) from interleaving.
type FileBackend struct {
	path string
	flk  *flock.Flock

	mu sync.Mutex
}

func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("storage: required snapshot path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create snapshot dir: %w", err)
	}
	return &FileBackend{
		path: path,
		flk:  flock.New(path + ".lock"),
	}, nil
}

func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if locked, err := b.flk.TryRLockContext(ctx, lockRetryDelay); err != nil || !locked {
		return nil, fmt.Errorf("storage: lock snapshot for read: %w", lockErr(err))
	}
	defer func() { _ = b.flk.Unlock() }()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("storage: snapshot %s is empty", b.path)
	}
	return data, nil
}

func (b *FileBackend) Save(ctx context.Context, doc []byte) error {
	if len(doc) == 0 {
		return errors.New("storage: refusing to save empty snapshot")
	} else if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if locked, err := b.flk.TryLockContext(ctx, lockRetryDelay); err != nil || !locked {
		return fmt.Errorf("storage: lock snapshot for write: %w", lockErr(err))
	}
	defer func() { _ = b.flk.Unlock() }()

	return writeFileAtomic(b.path, doc)
}

// Close releases the lock file handle.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flk.Close()
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(
		tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("storage: open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		closeErr := f.Close()
		_ = os.Remove(tmpPath)
		if closeErr != nil {
			return fmt.Errorf("storage: write: %v: close:%w", err, closeErr)
		}
		return fmt.Errorf("storage: write: %w", err)
	} else if err := f.Sync(); err != nil {
		closeErr := f.Close()
		_ = os.Remove(tmpPath)
		if closeErr != nil {
			return fmt.Errorf("storage: fsync: %v: close:%w", err, closeErr)
		}
		return fmt.Errorf("storage: fsync: %w", err)
	} else if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: close: %w", err)
	} else if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: rename tmp: %w", err)
	} else {
		return nil
	}
}

func lockErr(err error) error {
	if err != nil {
		return err
	}
	return errors.New("lock not acquired")
}
