// Package flock provides advisory, process-exclusive file locks.
package flock

import (
	"context"
	"os"
	"time"

	"github.com/alecthomas/errors"
	"github.com/jpillora/backoff"
	"golang.org/x/sys/unix"

	mrbinternal "github.com/mrbtools/mrbdeps/internal"
)

// ErrLocked is returned by Acquire when the lock is still held by someone else once the timeout expires.
var ErrLocked = errors.New("lock is held")

// Release a lock acquired with Acquire.
type Release func() error

// Acquire an exclusive lock on path, creating the file if necessary.
//
// Acquisition is retried until timeout elapses or ctx is cancelled. A zero timeout makes a single attempt.
func Acquire(ctx context.Context, path string, timeout time.Duration) (Release, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock file")
	}
	deadline := time.Now().Add(timeout)
	retry := backoff.Backoff{Min: time.Millisecond * 20, Max: time.Millisecond * 500, Factor: 2}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, errors.Errorf("failed to lock %s: %w", path, err)
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			return nil, errors.Errorf("%s: %w", path, ErrLocked)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, errors.WithStack(ctx.Err())
		case <-time.After(mrbinternal.Jitter(retry.Duration())):
		}
	}
	return func() error {
		defer f.Close()
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			return errors.Errorf("failed to unlock %s: %w", path, err)
		}
		return nil
	}, nil
}
