//go:build windows

package config

import (
	"fmt"
	"os"
)

func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", FileName, err)
	}
	return f, nil
}

// checkFile is a no-op: Windows access is governed by ACLs, which the
// mode bits do not reflect.
func checkFile(_ os.FileInfo) error {
	return nil
}
