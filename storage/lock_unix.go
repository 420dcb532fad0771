//go:build unix

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/errors"
)

// fileLock is an exclusive flock held by the primary for its lifetime.
type fileLock struct {
	f *os.File
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, am.DefaultFilePermissions)
	if err != nil {
		return nil, errors.NewIOError(err, "failed to open lock file %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.WithHint(
				errors.Wrapf(errors.ErrLocked, "%s", path),
				"open the store with OpenReadOnly or OpenSecondary while the primary is running")
		}
		return nil, errors.NewIOError(err, "failed to lock %s", path)
	}
	// The pid is informational only
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
