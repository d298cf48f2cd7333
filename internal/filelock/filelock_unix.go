//go:build unix

package filelock

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockFile obtains an exclusive advisory lock on the provided file handle,
// blocking until it is available.
func lockFile(f *os.File) error {
	flock := unix.Flock_t{Type: unix.F_WRLCK, Whence: int16(0)}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &flock)
}

// tryLockFileOnce makes a single non-blocking attempt at the exclusive lock.
func tryLockFileOnce(f *os.File) (bool, error) {
	flock := unix.Flock_t{Type: unix.F_WRLCK, Whence: int16(0)}
	err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
	if err == nil {
		return true, nil
	}
	if err == unix.EACCES || err == unix.EAGAIN {
		return false, nil
	}
	return false, err
}

// tryLockFile polls for the exclusive lock with F_SETLK, the non-blocking
// form, until it succeeds or timeout elapses. fcntl locks have no bounded
// F_SETLKW variant, so a short poll loop is how a "try for ~50ms" hold is
// expressed in terms of POSIX advisory locking.
func tryLockFile(f *os.File, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 5 * time.Millisecond
	for {
		ok, err := tryLockFileOnce(f)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
}

// unlockFile releases any advisory lock held on the provided file handle.
func unlockFile(f *os.File) error {
	flock := unix.Flock_t{Type: unix.F_UNLCK, Whence: int16(0)}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}
