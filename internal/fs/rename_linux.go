//go:build linux

package fs

import (
	"errors"

	"golang.org/x/sys/unix"
)

// renameNoReplace renames atomically, failing with EEXIST when dst exists.
// Filesystems without RENAME_NOREPLACE support fall back to a checked rename.
func renameNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		return checkedRename(src, dst)
	}
	return err
}
