package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastStartCode(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want int
	}{
		{"empty", nil, 0},
		{"no code", []byte{1, 2, 3, 4, 5}, 0},
		{"three byte code at start only", []byte{0, 0, 1, 5, 6}, 0},
		{"four byte code at start only", []byte{0, 0, 0, 1, 9}, 0},
		{"second three byte code", []byte{0, 0, 1, 7, 0, 0, 1, 8}, 4},
		{"second four byte code", []byte{0, 0, 0, 1, 7, 0, 0, 0, 1, 8}, 5},
		{"mixed forms", []byte{0, 0, 1, 7, 7, 0, 0, 0, 1, 8}, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, lastStartCode(tc.in))
		})
	}
}

func TestLastStartCode_SplitsCompleteUnits(t *testing.T) {
	// Everything before the cut is complete NAL units; the cut starts
	// the unit still being written.
	stream := []byte{0, 0, 0, 1, 0x67, 0xAA, 0, 0, 0, 1, 0x68, 0xBB, 0, 0, 1, 0x65}
	cut := lastStartCode(stream)

	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0xAA, 0, 0, 0, 1, 0x68, 0xBB}, stream[:cut])
	assert.Equal(t, []byte{0, 0, 1, 0x65}, stream[cut:])
}

func TestNewH264PipeEncoder_MissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := NewH264PipeEncoder(PresetFor("low"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}
