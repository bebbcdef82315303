package recording

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageCapture_WritesFrameImagesAtNativeSize(t *testing.T) {
	writer := &fakeVideoWriter{}
	framesDir := t.TempDir()
	p := newPackageCapture(writer, framesDir, 15)

	p.push(testFrame(8, 6, 0x33), 0)
	p.push(testFrame(8, 6, 0x44), 4)
	require.NoError(t, p.close())

	assert.Equal(t, uint64(2), p.written.Load())
	assert.Equal(t, 2, writer.frameCount())

	for _, name := range []string{"000000.jpg", "000004.jpg"} {
		assertJPEG(t, filepath.Join(framesDir, name))
	}
}

func TestPackageCapture_DropsMismatchedGeometry(t *testing.T) {
	writer := &fakeVideoWriter{}
	p := newPackageCapture(writer, t.TempDir(), 15)

	// The first frame fixes the geometry; a mid-recording change is
	// dropped instead of corrupting the stream.
	p.push(testFrame(8, 6, 1), 0)
	p.push(testFrame(4, 4, 2), 1)
	p.push(testFrame(8, 6, 3), 2)
	require.NoError(t, p.close())

	assert.Equal(t, uint64(2), p.written.Load())
	assert.Equal(t, uint64(1), p.dropped.Load())
	assert.Equal(t, 8, writer.openW)
	assert.Equal(t, 6, writer.openH)
}

func TestPackageCapture_PushAfterCloseDrops(t *testing.T) {
	p := newPackageCapture(&fakeVideoWriter{}, t.TempDir(), 15)
	require.NoError(t, p.close())

	p.push(testFrame(8, 6, 1), 0)

	assert.Equal(t, uint64(1), p.dropped.Load())
	assert.Zero(t, p.written.Load())
}

func TestPackageCapture_CloseIsIdempotent(t *testing.T) {
	p := newPackageCapture(&fakeVideoWriter{}, t.TempDir(), 15)
	require.NoError(t, p.close())
	require.NoError(t, p.close())
}

func TestPackageCapture_WriterFailureSurfacesOnClose(t *testing.T) {
	writer := &fakeVideoWriter{writeErr: errors.New("pipe broke")}
	p := newPackageCapture(writer, t.TempDir(), 15)

	p.push(testFrame(8, 6, 1), 0)
	p.push(testFrame(8, 6, 2), 1)

	err := p.close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe broke")
	assert.Zero(t, p.written.Load())
}

func TestProbeFFmpeg_MissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	assert.ErrorIs(t, probeFFmpeg(), ErrVideoToolMissing)

	_, err := defaultVideoWriter(filepath.Join(t.TempDir(), "video.mp4"))
	assert.ErrorIs(t, err, ErrVideoToolMissing)
}
