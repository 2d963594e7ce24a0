// Package dirlock provides the single-writer lock guarding an index directory.
//
// A lock is held both in-process (one semaphore per absolute directory path)
// and across processes (gofrs/flock on <dir>/.index.lock), so two merges on
// the same directory never interleave whatever process they run in.
package dirlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"document-index/internal/models"
)

const retryDelay = 25 * time.Millisecond

var (
	registryMu sync.Mutex
	registry   = make(map[string]chan struct{})
)

func semaphore(dir string) chan struct{} {
	registryMu.Lock()
	defer registryMu.Unlock()
	sem, ok := registry[dir]
	if !ok {
		sem = make(chan struct{}, 1)
		registry[dir] = sem
	}
	return sem
}

// Lock is an acquired directory lock.
type Lock struct {
	sem   chan struct{}
	flock *flock.Flock
	once  sync.Once
}

// Acquire blocks until the exclusive write lock on dir is held or ctx is done.
func Acquire(ctx context.Context, dir string) (*Lock, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lock directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	sem := semaphore(abs)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", abs, ctx.Err())
	}

	fl := flock.New(filepath.Join(abs, models.LockFileName))
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil || !locked {
		<-sem
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", abs, err)
	}

	return &Lock{sem: sem, flock: fl}, nil
}

// Release unlocks the directory. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		if uerr := l.flock.Unlock(); uerr != nil {
			err = fmt.Errorf("failed to release lock: %w", uerr)
		}
		<-l.sem
	})
	return err
}
