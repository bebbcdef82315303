package physics

import (
	"fmt"
	"math"
)

// Pose conversion between generalized coordinates and the rig-neutral
// representation: root translation plus per-joint axis-angle vectors in
// canonical joint order.
//
// Conventions (fixed, matching the simulator):
//   - root quaternion is stored (w, x, y, z)
//   - hinge triples are intrinsic XYZ Euler angles in radians
//   - axis-angle vectors encode axis * angle with angle in [0, pi]

// PoseUpdate is the per-tick output of conversion, ready for the wire.
type PoseUpdate struct {
	Trans         [3]float64
	Pose          [][3]float64
	Qpos          []float64
	Positions     [][3]float64
	PositionNames []string
}

// QposToPose converts generalized positions to (translation, axis-angle pose).
func QposToPose(rig *Rig, qpos []float64) ([3]float64, [][3]float64, error) {
	if len(qpos) != rig.QposSize() {
		return [3]float64{}, nil, fmt.Errorf("qpos length %d, rig wants %d", len(qpos), rig.QposSize())
	}

	var trans [3]float64
	copy(trans[:], qpos[0:3])

	pose := make([][3]float64, rig.NumJoints())

	root := quat{w: qpos[3], x: qpos[4], y: qpos[5], z: qpos[6]}
	pose[0] = root.normalize().axisAngle()

	for j := 1; j < rig.NumJoints(); j++ {
		base := 7 + 3*(j-1)
		q := quatFromEulerXYZ(qpos[base], qpos[base+1], qpos[base+2])
		pose[j] = q.axisAngle()
	}

	return trans, pose, nil
}

// PoseToQpos is the inverse of QposToPose.
func PoseToQpos(rig *Rig, pose [][3]float64, trans [3]float64) ([]float64, error) {
	if len(pose) != rig.NumJoints() {
		return nil, fmt.Errorf("pose has %d joints, rig wants %d", len(pose), rig.NumJoints())
	}

	qpos := make([]float64, rig.QposSize())
	copy(qpos[0:3], trans[:])

	root := quatFromAxisAngle(pose[0])
	qpos[3], qpos[4], qpos[5], qpos[6] = root.w, root.x, root.y, root.z

	for j := 1; j < rig.NumJoints(); j++ {
		q := quatFromAxisAngle(pose[j])
		ex, ey, ez := q.eulerXYZ()
		base := 7 + 3*(j-1)
		qpos[base], qpos[base+1], qpos[base+2] = ex, ey, ez
	}

	return qpos, nil
}

// Convert builds the full wire-ready pose update from a snapshot.
func Convert(rig *Rig, snap *Snapshot) (*PoseUpdate, error) {
	trans, pose, err := QposToPose(rig, snap.Qpos)
	if err != nil {
		return nil, err
	}

	names := snap.BodyNames
	if len(names) == 0 {
		names = rig.BodyNames()
	}
	if len(snap.BodyPos) != len(names) {
		return nil, fmt.Errorf("got %d body positions for %d names", len(snap.BodyPos), len(names))
	}

	return &PoseUpdate{
		Trans:         trans,
		Pose:          pose,
		Qpos:          append([]float64(nil), snap.Qpos...),
		Positions:     append([][3]float64(nil), snap.BodyPos...),
		PositionNames: append([]string(nil), names...),
	}, nil
}

// quat is a unit quaternion (w, x, y, z).
type quat struct {
	w, x, y, z float64
}

func (q quat) normalize() quat {
	n := math.Sqrt(q.w*q.w + q.x*q.x + q.y*q.y + q.z*q.z)
	if n == 0 {
		return quat{w: 1}
	}
	return quat{q.w / n, q.x / n, q.y / n, q.z / n}
}

func (q quat) mul(r quat) quat {
	return quat{
		w: q.w*r.w - q.x*r.x - q.y*r.y - q.z*r.z,
		x: q.w*r.x + q.x*r.w + q.y*r.z - q.z*r.y,
		y: q.w*r.y - q.x*r.z + q.y*r.w + q.z*r.x,
		z: q.w*r.z + q.x*r.y - q.y*r.x + q.z*r.w,
	}
}

// axisAngle returns axis*angle with angle folded into [0, pi].
func (q quat) axisAngle() [3]float64 {
	if q.w < 0 {
		q = quat{-q.w, -q.x, -q.y, -q.z}
	}
	w := math.Min(1, math.Max(-1, q.w))
	angle := 2 * math.Acos(w)
	s := math.Sqrt(1 - w*w)
	if s < 1e-9 {
		// Small rotation: sin(a/2) ~ a/2, so axis*angle ~ 2*(x,y,z).
		return [3]float64{2 * q.x, 2 * q.y, 2 * q.z}
	}
	return [3]float64{q.x / s * angle, q.y / s * angle, q.z / s * angle}
}

func quatFromAxisAngle(aa [3]float64) quat {
	angle := math.Sqrt(aa[0]*aa[0] + aa[1]*aa[1] + aa[2]*aa[2])
	if angle < 1e-9 {
		return quat{w: 1, x: aa[0] / 2, y: aa[1] / 2, z: aa[2] / 2}.normalize()
	}
	s := math.Sin(angle/2) / angle
	return quat{
		w: math.Cos(angle / 2),
		x: aa[0] * s,
		y: aa[1] * s,
		z: aa[2] * s,
	}
}

// quatFromEulerXYZ composes intrinsic X-then-Y-then-Z rotations.
func quatFromEulerXYZ(ex, ey, ez float64) quat {
	qx := quat{w: math.Cos(ex / 2), x: math.Sin(ex / 2)}
	qy := quat{w: math.Cos(ey / 2), y: math.Sin(ey / 2)}
	qz := quat{w: math.Cos(ez / 2), z: math.Sin(ez / 2)}
	return qx.mul(qy).mul(qz)
}

// eulerXYZ decomposes the quaternion into intrinsic XYZ angles.
func (q quat) eulerXYZ() (float64, float64, float64) {
	q = q.normalize()

	// Rotation matrix entries needed for R = Rx*Ry*Rz.
	r00 := 1 - 2*(q.y*q.y+q.z*q.z)
	r01 := 2 * (q.x*q.y - q.z*q.w)
	r02 := 2 * (q.x*q.z + q.y*q.w)
	r11 := 1 - 2*(q.x*q.x+q.z*q.z)
	r12 := 2 * (q.y*q.z - q.x*q.w)
	r21 := 2 * (q.y*q.z + q.x*q.w)
	r22 := 1 - 2*(q.x*q.x+q.y*q.y)

	sy := math.Min(1, math.Max(-1, r02))
	ey := math.Asin(sy)

	if math.Abs(sy) > 1-1e-9 {
		// Gimbal lock: fold the z rotation into x.
		ex := math.Atan2(r21, r11)
		return ex, ey, 0
	}

	ex := math.Atan2(-r12, r22)
	ez := math.Atan2(-r01, r00)
	return ex, ey, ez
}
