//go:build !unix

package storage

import (
	"os"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/errors"
)

// fileLock holds LOCK open. Platforms without flock get no cross-process
// exclusion; the in-process writer mutex still serializes writes.
type fileLock struct {
	f *os.File
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, am.DefaultFilePermissions)
	if err != nil {
		return nil, errors.NewIOError(err, "failed to open lock file %s", path)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
