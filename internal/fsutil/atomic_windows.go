//go:build windows

package fsutil

import (
	"os"
)

// renameio does not support Windows; fall back to write-then-rename,
// which is atomic on the same volume.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
