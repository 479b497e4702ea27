package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m35/jpsxdec-sub004/internal/observability"
)

func TestCleanupOrphanedTemp(t *testing.T) {
	dir := t.TempDir()
	out, err := NewOutputDir(dir)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	write := func(name string, mtime time.Time) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		return path
	}

	stale := write(".MOVIE_0.png.0123456789abcdef.tmp", old)
	recent := write(".MOVIE_1.png.fedcba9876543210.tmp", time.Now())
	kept := write("MOVIE_2.png", old)
	notOurs := write("notes.tmp", old)
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".sub.dir.tmp"), 0o755))

	removed, err := out.CleanupOrphanedTemp(observability.Discard(), DefaultCleanupAge)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, recent)
	assert.FileExists(t, kept)
	assert.FileExists(t, notOurs)
	assert.DirExists(t, filepath.Join(dir, ".sub.dir.tmp"))
}

func TestCleanupOrphanedTemp_MissingDir(t *testing.T) {
	dir := t.TempDir()
	out, err := NewOutputDir(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(dir))

	_, err = out.CleanupOrphanedTemp(observability.Discard(), DefaultCleanupAge)
	var pe *PathError
	assert.ErrorAs(t, err, &pe)
}
