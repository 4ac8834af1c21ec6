//go:build !windows

package diskutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// accessWritable checks write permission on dir via access(2), which
// honors the effective uid without touching the filesystem.
func accessWritable(dir string) error {
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	return nil
}
