//go:build windows

package diskmgr

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32Dll      = syscall.NewLazyDLL("kernel32.dll")
	lockFileExProc   = kernel32Dll.NewProc("LockFileEx")
	unlockFileProc   = kernel32Dll.NewProc("UnlockFileEx")
	errLockViolation = syscall.Errno(33) // ERROR_LOCK_VIOLATION
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001
)

// callOverlapped invokes proc with the (handle, flags, reserved, nLow,
// nHigh, *OVERLAPPED) signature shared by LockFileEx and UnlockFileEx.
func callOverlapped(proc *syscall.LazyProc, f *os.File, flags uintptr) (ok bool, err error) {
	var overlapped syscall.Overlapped
	r1, _, callErr := proc.Call(
		uintptr(f.Fd()),
		flags,
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	return r1 != 0, callErr
}

// lockFile acquires a non-blocking advisory exclusive lock on f so that a
// second Open of the same append-only file fails fast instead of letting
// two instances interleave writes into it.
func lockFile(f *os.File, path string) error {
	ok, err := callOverlapped(lockFileExProc, f, lockfileExclusiveLock|lockfileFailImmediately)
	if ok {
		return nil
	}
	if errno, isErrno := err.(syscall.Errno); isErrno && errno == errLockViolation {
		return fmt.Errorf("diskmgr: %w: %s", ErrDatabaseLocked, path)
	}
	return fmt.Errorf("diskmgr: lock %s: %w", path, err)
}

// unlockFile releases the lock held on f.
func unlockFile(f *os.File) error {
	if ok, err := callOverlapped(unlockFileProc, f, 0); !ok {
		return err
	}
	return nil
}
