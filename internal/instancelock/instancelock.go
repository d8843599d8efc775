// Package instancelock guards against two copies of the same ingest or
// processor binary running against the same state directory at once,
// which would corrupt the persistent queue's segment files or the flight
// tracker's checkpoint. It takes an OS-level
// advisory file lock that is automatically released if the process dies,
// unlike a PID file.
package instancelock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock holds an exclusive, non-blocking advisory lock on a file.
type Lock struct {
	fl *flock.Flock
}

// Acquire attempts to take an exclusive lock on the file at path,
// creating it if necessary. It returns an error immediately if another
// process already holds the lock — callers should treat that as fatal
// rather than retry, since a second instance running against the same
// state directory is a configuration mistake, not a transient condition.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("instancelock: acquire %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("instancelock: %q is already held by another process", path)
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks the file. Safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
