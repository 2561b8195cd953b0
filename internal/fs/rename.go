package fs

import (
	"errors"
	"os"
)

// checkedRename refuses to overwrite dst. The check and the rename are not
// atomic; the process-wide lock keeps other hsaj writers out of the window.
func checkedRename(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return os.ErrExist
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}
