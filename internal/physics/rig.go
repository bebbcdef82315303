package physics

import "fmt"

// Rig describes the joint layout of the simulated humanoid. The joint order
// is canonical: wire payloads, pose arrays and position lists all follow it,
// and it never changes between versions.
type Rig struct {
	// JointNames in canonical order. Index 0 is the free root joint.
	JointNames []string
}

// smplJointNames is the canonical 24-joint humanoid order.
var smplJointNames = []string{
	"Pelvis",
	"L_Hip", "R_Hip",
	"Torso",
	"L_Knee", "R_Knee",
	"Spine",
	"L_Ankle", "R_Ankle",
	"Chest",
	"L_Toe", "R_Toe",
	"Neck",
	"L_Thorax", "R_Thorax",
	"Head",
	"L_Shoulder", "R_Shoulder",
	"L_Elbow", "R_Elbow",
	"L_Wrist", "R_Wrist",
	"L_Hand", "R_Hand",
}

// DefaultHumanoidRig returns the standard 24-joint humanoid rig.
func DefaultHumanoidRig() *Rig {
	return &Rig{JointNames: append([]string(nil), smplJointNames...)}
}

// NumJoints returns the joint count including the root.
func (r *Rig) NumJoints() int {
	return len(r.JointNames)
}

// QposSize returns the generalized-coordinate count: a 7-dof free root
// (3 translation + 4 quaternion) plus a 3-dof hinge triple per body joint.
func (r *Rig) QposSize() int {
	return 7 + 3*(len(r.JointNames)-1)
}

// JointIndex resolves a joint name to its canonical index.
func (r *Rig) JointIndex(name string) (int, error) {
	for i, n := range r.JointNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown joint %q", name)
}

// BodyNames returns the body list used for world positions. It matches the
// joint list one-to-one for this rig.
func (r *Rig) BodyNames() []string {
	return append([]string(nil), r.JointNames...)
}
