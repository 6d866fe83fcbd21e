//go:build unix

package output

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func lockFile(f *os.File, dir string) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil { //nolint:gosec // G115: uintptr->int is safe on 64-bit
		return fmt.Errorf("%w: %s", ErrDirectoryLocked, dir)
	}
	return nil
}
