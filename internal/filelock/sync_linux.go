//go:build linux

package filelock

import (
	"os"
	"syscall"
)

// syncFile backs filelock.Sync, called by the reservation manager right
// after writing a spot record so a crash immediately after claiming or
// refreshing a spot can't leave a dangling directory entry whose content
// the disk never actually received. fdatasync skips the inode metadata
// flush fsync would also do, which a lock-sized write doesn't need.
func syncFile(file *os.File) error {
	if file == nil {
		return nil
	}
	return syscall.Fdatasync(int(file.Fd()))
}
