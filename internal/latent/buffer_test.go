package latent

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	capnp "zombiezen.com/go/capnproto2"

	motionv1 "github.com/nmxmxh/marionette/gen/motion/v1"
	"github.com/nmxmxh/marionette/internal/physics"
)

// buildBufferBytes serializes a synthetic RewardBufferTable with n samples.
// Sample i stands at pelvis height 0.5 + (i%100)/100 with body j offset
// 0.02*j above the pelvis, so reward primitives see a spread of poses.
func buildBufferBytes(t *testing.T, n, obsDim int, version uint32) []byte {
	t.Helper()

	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	require.NoError(t, err)
	table, err := motionv1.NewRootRewardBufferTable(seg)
	require.NoError(t, err)
	table.SetVersion(version)

	rig := physics.DefaultHumanoidRig()
	names := rig.BodyNames()
	nameList, err := table.NewBodyNames(int32(len(names)))
	require.NoError(t, err)
	for i, name := range names {
		require.NoError(t, nameList.Set(i, name))
	}

	rows, err := table.NewSamples(int32(n))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		row := rows.At(i)
		height := 0.5 + float64(i%100)*0.01

		qpos, err := row.NewQpos(int32(rig.QposSize()))
		require.NoError(t, err)
		qpos.Set(0, float64(i)*0.001)
		qpos.Set(2, height)
		qpos.Set(3, 1)

		qvel, err := row.NewQvel(6)
		require.NoError(t, err)
		qvel.Set(0, float64(i%3)*0.1)

		obs, err := row.NewObservation(int32(obsDim))
		require.NoError(t, err)
		for j := 0; j < obsDim; j++ {
			obs.Set(j, float32(i)*0.01+float32(j)*0.1)
		}

		positions, err := row.NewBodyPositions(int32(3 * len(names)))
		require.NoError(t, err)
		for j := range names {
			positions.Set(3*j, 0.01*float64(j))
			positions.Set(3*j+2, height+0.02*float64(j))
		}
	}

	raw, err := msg.Marshal()
	require.NoError(t, err)
	return raw
}

func testBuffer(t *testing.T, n, obsDim int) *RewardBuffer {
	t.Helper()
	buf, err := ParseRewardBuffer(buildBufferBytes(t, n, obsDim, bufferVersion))
	require.NoError(t, err)
	return buf
}

func TestParseRewardBuffer(t *testing.T) {
	buf := testBuffer(t, 8, 5)

	require.Equal(t, 8, buf.Len())
	assert.Len(t, buf.Observations(), 8)

	sample := buf.Sample(3)
	require.NotNil(t, sample.Snapshot)
	assert.Len(t, sample.Snapshot.Qpos, physics.DefaultHumanoidRig().QposSize())
	assert.Len(t, sample.Snapshot.BodyPos, 24)
	assert.Len(t, sample.Observation, 5)

	// Body positions come back grouped in threes, addressable by name.
	pelvis, err := sample.Snapshot.Position("Pelvis")
	require.NoError(t, err)
	assert.InDelta(t, 0.53, pelvis[2], 1e-9)
}

func TestParseRewardBuffer_RejectsVersionMismatch(t *testing.T) {
	_, err := ParseRewardBuffer(buildBufferBytes(t, 2, 4, bufferVersion+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestParseRewardBuffer_RejectsEmptyTable(t *testing.T) {
	_, err := ParseRewardBuffer(buildBufferBytes(t, 0, 4, bufferVersion))
	assert.Error(t, err)
}

func TestParseRewardBuffer_RejectsGarbage(t *testing.T) {
	_, err := ParseRewardBuffer([]byte("definitely not capnp"))
	assert.Error(t, err)
}

func TestParseRewardBuffer_RejectsBadPositionArity(t *testing.T) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	require.NoError(t, err)
	table, err := motionv1.NewRootRewardBufferTable(seg)
	require.NoError(t, err)
	table.SetVersion(bufferVersion)

	names, err := table.NewBodyNames(2)
	require.NoError(t, err)
	require.NoError(t, names.Set(0, "Pelvis"))
	require.NoError(t, names.Set(1, "Head"))

	rows, err := table.NewSamples(1)
	require.NoError(t, err)
	row := rows.At(0)
	_, err = row.NewQpos(7)
	require.NoError(t, err)
	_, err = row.NewQvel(6)
	require.NoError(t, err)
	_, err = row.NewObservation(4)
	require.NoError(t, err)
	_, err = row.NewBodyPositions(5) // 2 bodies need 6 values
	require.NoError(t, err)

	raw, err := msg.Marshal()
	require.NoError(t, err)

	_, err = ParseRewardBuffer(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position")
}

func TestLoadRewardBuffer_PlainAndBrotli(t *testing.T) {
	raw := buildBufferBytes(t, 4, 3, bufferVersion)
	dir := t.TempDir()

	plain := filepath.Join(dir, "buffer.capnp")
	require.NoError(t, os.WriteFile(plain, raw, 0o644))

	var compressed bytes.Buffer
	w := brotli.NewWriterLevel(&compressed, brotli.DefaultCompression)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	packed := filepath.Join(dir, "buffer.capnp.br")
	require.NoError(t, os.WriteFile(packed, compressed.Bytes(), 0o644))

	for _, path := range []string{plain, packed} {
		buf, err := LoadRewardBuffer(path)
		require.NoError(t, err, path)
		assert.Equal(t, 4, buf.Len(), path)
	}
}

func TestLoadRewardBuffer_MissingFile(t *testing.T) {
	_, err := LoadRewardBuffer(filepath.Join(t.TempDir(), "absent.capnp"))
	assert.Error(t, err)
}
