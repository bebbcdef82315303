package physics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRig_CanonicalOrder(t *testing.T) {
	rig := DefaultHumanoidRig()

	require.Equal(t, 24, rig.NumJoints())
	assert.Equal(t, 76, rig.QposSize())
	assert.Equal(t, "Pelvis", rig.JointNames[0])
	assert.Equal(t, "Head", rig.JointNames[15])
	assert.Equal(t, "R_Hand", rig.JointNames[23])

	idx, err := rig.JointIndex("L_Knee")
	require.NoError(t, err)
	assert.Equal(t, 4, idx)

	_, err = rig.JointIndex("Tail")
	assert.Error(t, err)
}

func TestQposToPose_IdentityPose(t *testing.T) {
	rig := DefaultHumanoidRig()
	qpos := make([]float64, rig.QposSize())
	qpos[0], qpos[1], qpos[2] = 0.1, -0.2, 0.93
	qpos[3] = 1 // identity root quaternion

	trans, pose, err := QposToPose(rig, qpos)
	require.NoError(t, err)

	assert.InDelta(t, 0.1, trans[0], 1e-12)
	assert.InDelta(t, 0.93, trans[2], 1e-12)
	require.Len(t, pose, 24)
	for _, aa := range pose {
		assert.InDelta(t, 0, aa[0], 1e-9)
		assert.InDelta(t, 0, aa[1], 1e-9)
		assert.InDelta(t, 0, aa[2], 1e-9)
	}
}

func TestQposToPose_RejectsWrongLength(t *testing.T) {
	rig := DefaultHumanoidRig()

	_, _, err := QposToPose(rig, make([]float64, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qpos length")
}

func TestPoseRoundTrip(t *testing.T) {
	rig := DefaultHumanoidRig()

	// 1. Build a non-trivial but well-conditioned qpos: seated-ish pose.
	qpos := make([]float64, rig.QposSize())
	qpos[0], qpos[1], qpos[2] = 0.3, 0.1, 0.62
	root := quatFromEulerXYZ(0.2, -0.1, 0.4)
	qpos[3], qpos[4], qpos[5], qpos[6] = root.w, root.x, root.y, root.z
	for j := 1; j < rig.NumJoints(); j++ {
		base := 7 + 3*(j-1)
		qpos[base] = 0.5 * math.Sin(float64(j))
		qpos[base+1] = 0.3 * math.Cos(float64(j)*1.7)
		qpos[base+2] = 0.4 * math.Sin(float64(j)*0.9)
	}

	// 2. Convert forward and back.
	trans, pose, err := QposToPose(rig, qpos)
	require.NoError(t, err)
	back, err := PoseToQpos(rig, pose, trans)
	require.NoError(t, err)

	// 3. Everything round-trips within tolerance.
	require.Len(t, back, len(qpos))
	for i := range qpos {
		assert.InDelta(t, qpos[i], back[i], 1e-6, "qpos[%d]", i)
	}
}

func TestAxisAngleQuatRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 0},
		{1e-10, 0, 0},
		{0.3, -0.7, 0.2},
		{0, math.Pi / 2, 0},
		{2.1, 0.4, -1.0},
	}

	for _, aa := range cases {
		q := quatFromAxisAngle(aa)
		got := q.axisAngle()
		for k := 0; k < 3; k++ {
			assert.InDelta(t, aa[k], got[k], 1e-7)
		}
	}
}

func TestEulerXYZRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0.1, 0.2, 0.3},
		{-1.2, 0.7, 2.9},
		{0, 0, 0},
		{0.5, -1.3, -0.4},
	}

	for _, e := range cases {
		q := quatFromEulerXYZ(e[0], e[1], e[2])
		x, y, z := q.eulerXYZ()
		assert.InDelta(t, e[0], x, 1e-9)
		assert.InDelta(t, e[1], y, 1e-9)
		assert.InDelta(t, e[2], z, 1e-9)
	}
}

func TestConvert_PositionsFollowNameList(t *testing.T) {
	rig := DefaultHumanoidRig()
	qpos := make([]float64, rig.QposSize())
	qpos[3] = 1

	names := rig.BodyNames()
	positions := make([][3]float64, len(names))
	for i := range positions {
		positions[i] = [3]float64{float64(i), 0, 1}
	}

	update, err := Convert(rig, &Snapshot{
		Qpos:      qpos,
		BodyPos:   positions,
		BodyNames: names,
	})
	require.NoError(t, err)

	assert.Equal(t, names, update.PositionNames)
	assert.Equal(t, positions, update.Positions)
	assert.Len(t, update.Pose, 24)

	// Mismatched positions vs names is an error, never silently reordered.
	_, err = Convert(rig, &Snapshot{Qpos: qpos, BodyPos: positions[:3], BodyNames: names})
	assert.Error(t, err)
}
