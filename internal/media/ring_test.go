package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRing_BlankBeforeFirstPush(t *testing.T) {
	r := newFrameRing(12)

	frame, fresh := r.Pull()
	assert.False(t, fresh)
	require.Len(t, frame, 12)
	for _, b := range frame {
		require.Zero(t, b)
	}
}

func TestFrameRing_FIFOWithFreshness(t *testing.T) {
	r := newFrameRing(1)
	r.Push([]byte{1})
	r.Push([]byte{2})

	frame, fresh := r.Pull()
	assert.True(t, fresh)
	assert.Equal(t, []byte{1}, frame)

	frame, fresh = r.Pull()
	assert.True(t, fresh)
	assert.Equal(t, []byte{2}, frame)

	// Empty ring re-serves the last frame, marked stale.
	frame, fresh = r.Pull()
	assert.False(t, fresh)
	assert.Equal(t, []byte{2}, frame)
}

func TestFrameRing_EvictsOldestWhenFull(t *testing.T) {
	r := newFrameRing(1)
	for i := byte(1); i <= 4; i++ {
		r.Push([]byte{i})
	}

	assert.Equal(t, ringDepth, r.Len())
	assert.Equal(t, uint64(1), r.Drops())

	for want := byte(2); want <= 4; want++ {
		frame, fresh := r.Pull()
		assert.True(t, fresh)
		assert.Equal(t, []byte{want}, frame)
	}
}

func TestFrameRing_PressureTracksBacklog(t *testing.T) {
	r := newFrameRing(1)

	// 1. Filling the ring costs nothing.
	for i := 0; i < ringDepth; i++ {
		r.Push([]byte{0})
	}
	assert.Zero(t, r.Pressure())

	// 2. Every push past capacity raises the pressure.
	r.Push([]byte{0})
	r.Push([]byte{0})
	assert.Equal(t, 2, r.Pressure())

	// 3. A successful pull means the pump caught up.
	r.Pull()
	assert.Zero(t, r.Pressure())
	assert.Equal(t, uint64(2), r.Drops())
}
