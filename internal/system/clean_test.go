package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freespace_cleaner/internal/logging"
)

func seedLeftovers(t *testing.T) string {
	t.Helper()
	mount := t.TempDir()
	for _, dir := range []string{".fsclean", ".fsclean_meta_1a2b3c4d-5e6f", "photos", ".fscleaner"} {
		require.NoError(t, os.Mkdir(filepath.Join(mount, dir), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(mount, ".fsclean", "aaaa_bbbb_cccc.ddd"), make([]byte, 100), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mount, ".fsclean", "eeee_ffff_gggg.hhh"), make([]byte, 50), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mount, ".fsclean.txt"), nil, 0644))
	return mount
}

func TestFindLeftovers(t *testing.T) {
	mount := seedLeftovers(t)
	found, err := FindLeftovers(mount, ".fsclean")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, filepath.Join(mount, ".fsclean"), found[0].Path)
	assert.Equal(t, 2, found[0].Files)
	assert.Equal(t, int64(150), found[0].Bytes)
}

func TestCleanLeftovers(t *testing.T) {
	mount := seedLeftovers(t)

	_, err := CleanLeftovers(context.Background(), mount, ".fsclean", logging.NewNop(), true)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(mount, ".fsclean"), "dry run keeps everything")

	removed, err := CleanLeftovers(context.Background(), mount, ".fsclean", logging.NewNop(), false)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.NoDirExists(t, filepath.Join(mount, ".fsclean"))
	assert.NoDirExists(t, filepath.Join(mount, ".fsclean_meta_1a2b3c4d-5e6f"))
	assert.DirExists(t, filepath.Join(mount, "photos"))
	assert.DirExists(t, filepath.Join(mount, ".fscleaner"))
	assert.FileExists(t, filepath.Join(mount, ".fsclean.txt"))
}

func TestCleanLeftoversMissingMount(t *testing.T) {
	_, err := CleanLeftovers(context.Background(), filepath.Join(t.TempDir(), "nope"), ".fsclean", logging.NewNop(), false)
	assert.Error(t, err)
}
