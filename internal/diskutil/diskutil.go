// Package diskutil probes free disk space and directory writability for
// migration preflight checks.
package diskutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// SpaceInfo holds disk space information for the filesystem containing a path.
type SpaceInfo struct {
	Path        string  // probed directory
	TotalBytes  uint64  // filesystem size
	FreeBytes   uint64  // available to the current user
	UsedPercent float64 // 0..100
}

// Probe returns disk space information for the filesystem containing path.
// The path itself does not have to exist yet, the nearest existing ancestor
// is probed instead.
func Probe(path string) (*SpaceInfo, error) {
	dir := NearestExistingDir(path)

	usage, err := disk.Usage(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to check disk space on %s: %w", dir, err)
	}

	return &SpaceInfo{
		Path:        dir,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// EnsureFree verifies that the filesystem containing path has at least
// required bytes available.
func EnsureFree(path string, required uint64) error {
	info, err := Probe(path)
	if err != nil {
		return err
	}

	if info.FreeBytes < required {
		return errors.Newf("insufficient disk space on %s: %d bytes free, need at least %d bytes",
			info.Path, info.FreeBytes, required).
			Component("diskutil").
			Category(errors.CategoryDiskSpace).
			Context("path", info.Path).
			Context("free_bytes", info.FreeBytes).
			Context("required_bytes", required).
			Build()
	}
	return nil
}

// NearestExistingDir walks up from path until it finds a directory that
// exists. Paths whose ancestors are all missing resolve to ".".
func NearestExistingDir(path string) string {
	if path == "" {
		return "."
	}

	dir := path
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

// CheckWritable verifies the current user may create files in dir without
// creating anything. Dry runs rely on this staying side-effect free.
func CheckWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	if err := accessWritable(dir); err != nil {
		return errors.New(err).
			Component("diskutil").
			Category(errors.CategoryPermission).
			Context("path", dir).
			Build()
	}
	return nil
}
