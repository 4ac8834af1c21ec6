package diskutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

func TestProbeExistingDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	info, err := Probe(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, info.Path)
	assert.Positive(t, info.TotalBytes)
}

func TestProbeMissingPathUsesAncestor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "not", "yet", "created", "inkwell.db")

	info, err := Probe(missing)
	require.NoError(t, err)
	assert.Equal(t, dir, info.Path)
}

func TestNearestExistingDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		want string
	}{
		{"existing dir", dir, dir},
		{"file inside dir", filepath.Join(dir, "file.db"), dir},
		{"deeply missing", filepath.Join(dir, "a", "b", "c"), dir},
		{"empty", "", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NearestExistingDir(tt.path))
		})
	}
}

func TestEnsureFree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	assert.NoError(t, EnsureFree(dir, 1))

	// No filesystem has this much space.
	err := EnsureFree(dir, 1<<62)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDiskSpace))
}

func TestCheckWritable(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckWritable(t.TempDir()))

	err := CheckWritable(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
