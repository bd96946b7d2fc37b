//go:build windows

package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// CheckDiskSpace returns disk space information for dir, falling back to its
// parent when dir does not exist yet.
func CheckDiskSpace(dir string) (*DiskSpaceInfo, error) {
	path := dir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to convert path: %w", err)
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &available, &total, &free); err != nil {
		return nil, fmt.Errorf("storage: failed to get disk stats: %w", err)
	}

	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}
	return &DiskSpaceInfo{Total: total, Free: free, Available: available, UsedPct: usedPct}, nil
}
