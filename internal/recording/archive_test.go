package recording

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArchive_MixesDataAndFiles(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(video, []byte("mp4"), 0o644))
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.MkdirAll(frames, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(frames, "000000.jpg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(frames, "000004.jpg"), []byte("b"), 0o644))

	dst := filepath.Join(dir, "out.zip")
	err := writeArchive(dst, []archiveEntry{
		{name: "trajectory.bin", data: []byte{1, 2, 3}},
		{name: "video.mp4", path: video},
		{name: "frames", path: frames},
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"frames/000000.jpg", "frames/000004.jpg", "trajectory.bin", "video.mp4"},
		zipNames(t, dst))
	assert.Equal(t, []byte{1, 2, 3}, readZipEntry(t, dst, "trajectory.bin"))
	assert.Equal(t, []byte("mp4"), readZipEntry(t, dst, "video.mp4"))
	assert.Equal(t, []byte("b"), readZipEntry(t, dst, "frames/000004.jpg"))
}

func TestWriteArchive_RemovesPartialFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.zip")

	err := writeArchive(dst, []archiveEntry{
		{name: "ok.bin", data: []byte{1}},
		{name: "gone", path: filepath.Join(dir, "does-not-exist")},
	})
	require.Error(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}
