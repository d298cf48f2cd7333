//go:build !unix

package filelock

import (
	"os"
	"time"
)

// lockFile is a stub on non-Unix platforms; the underlying filesystem is
// expected to provide its own serialization semantics.
func lockFile(f *os.File) error { return nil }

// tryLockFile is a stub counterpart to tryLockFile on non-Unix platforms; it
// always succeeds immediately.
func tryLockFile(f *os.File, timeout time.Duration) (bool, error) { return true, nil }

// unlockFile is a stub counterpart to lockFile on non-Unix platforms.
func unlockFile(f *os.File) error { return nil }
