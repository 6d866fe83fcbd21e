package output

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrDirectoryLocked = errors.New("output directory is locked by another process")

const lockFileName = ".atm.lock"

// Lock is an exclusive hold on an output directory.
type Lock struct {
	f *os.File
}

// LockDir creates dir if needed and takes an exclusive, non-blocking lock
// on it. Two batch runs cannot write into the same directory at once.
func LockDir(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: lock file inside the chosen output dir
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, dir); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. The lock file stays in place so that every run
// locks the same inode.
func (l *Lock) Release() error {
	return l.f.Close()
}
