//go:build windows

package diskutil

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// accessWritable checks the read-only attribute on dir. Windows has no
// access(2) equivalent that respects ACLs without opening a handle, so the
// attribute check is the best side-effect free probe available.
func accessWritable(dir string) error {
	pathPtr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return err
	}

	attrs, err := windows.GetFileAttributes(pathPtr)
	if err != nil {
		return fmt.Errorf("failed to read attributes of %s: %w", dir, err)
	}
	if attrs&windows.FILE_ATTRIBUTE_READONLY != 0 {
		return fmt.Errorf("directory %s is read-only", dir)
	}
	return nil
}
