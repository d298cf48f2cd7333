//go:build !linux

package filelock

import "os"

// syncFile backs filelock.Sync on platforms without a cheaper fdatasync
// path; see sync_linux.go for why the reservation manager calls this after
// every spot-record write.
func syncFile(file *os.File) error {
	if file == nil {
		return nil
	}
	return file.Sync()
}
