//go:build !windows

package config

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// openConfigFile opens path with O_NOFOLLOW so a symlink is rejected
// instead of followed.
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", FileName, err)
	}
	return f, nil
}

func checkFile(info os.FileInfo) error {
	if perm := info.Mode().Perm(); perm != 0600 {
		return fmt.Errorf("%w: %o (expected 0600)", ErrInsecure, perm)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Uid != uint32(os.Getuid()) {
			return ErrNotOwned
		}
	}
	return nil
}
