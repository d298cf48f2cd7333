//go:build windows

package filelock

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// isNFS backs filelock.IsNFS, which lockset.Acquire consults once per
// lockfile directory to log an early warning about fcntl lock reliability.
// Windows NFS clients map the share onto a drive letter or UNC volume, so
// the check goes through GetVolumeInformation's filesystem name rather than
// a statfs-style call.
func isNFS(root string) bool {
	volume := filepath.VolumeName(root)
	if volume == "" {
		return false
	}
	if !strings.HasSuffix(volume, `\\`) {
		volume += `\\`
	}
	volPtr, err := windows.UTF16PtrFromString(volume)
	if err != nil {
		return false
	}
	var fsName [256]uint16
	if err := windows.GetVolumeInformation(volPtr, nil, 0, nil, nil, nil, &fsName[0], uint32(len(fsName))); err != nil {
		return false
	}
	return isFSTypeNFS(windows.UTF16ToString(fsName[:]))
}

func isFSTypeNFS(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return strings.HasPrefix(fsType, "nfs")
}
