//go:build !windows

package diskmgr

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile acquires a non-blocking advisory exclusive lock on f so that a
// second Open of the same append-only file fails fast instead of letting
// two instances interleave writes into it.
func lockFile(f *os.File, path string) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return fmt.Errorf("diskmgr: %w: %s", ErrDatabaseLocked, path)
		}
		return fmt.Errorf("diskmgr: lock %s: %w", path, err)
	}
	return nil
}

// unlockFile releases the lock held on f.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
