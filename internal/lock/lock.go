// Package lock serializes mutating commands against one partner across
// processes with an advisory file lock.
package lock

import (
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
)

var (
	Error = errs.Class("lock")
	// ErrLocked is returned when another process holds the lock.
	ErrLocked = errs.Class("partner locked")
)

// Lock is a held advisory lock. Release it when the command ends.
type Lock struct {
	path string
	fh   *os.File
}

// Path is the lock file of a partner under dir.
func Path(dir, partnerID string) string {
	return filepath.Join(dir, "locks", partnerID+".lock")
}

// Acquire takes the lock for partnerID without blocking.
func Acquire(dir, partnerID string) (*Lock, error) {
	path := Path(dir, partnerID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := flock(fh); err != nil {
		_ = fh.Close()
		return nil, ErrLocked.New("%s: %v", partnerID, err)
	}
	return &Lock{path: path, fh: fh}, nil
}

// Release drops the lock. The lock file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.fh == nil {
		return nil
	}
	err := errs.Combine(funlock(l.fh), l.fh.Close())
	l.fh = nil
	return Error.Wrap(err)
}
