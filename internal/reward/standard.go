package reward

import (
	"math"

	"github.com/nmxmxh/marionette/internal/physics"
)

// Standard movement archetypes.
//
// Velocity layout for the free root joint: qvel[0:3] linear (world frame),
// qvel[3:6] angular, hinge velocities after.

func init() {
	register("move-ego", newMoveEgo)
	register("jump", newJump)
	register("rotation", newRotation)
	register("crawl", newCrawl)
	register("liedown", newLieDown)
	register("sit", newSit)
	register("split", newSplit)
	register("raisearms", newRaiseArms)
	register("headstand", newHeadstand)
}

func pelvisHeight(snap *physics.Snapshot) float64 {
	if pos, err := snap.Position("Pelvis"); err == nil {
		return pos[2]
	}
	if len(snap.Qpos) > 2 {
		return snap.Qpos[2]
	}
	return 0
}

func linVel(snap *physics.Snapshot) (float64, float64, float64) {
	if len(snap.Qvel) < 3 {
		return 0, 0, 0
	}
	return snap.Qvel[0], snap.Qvel[1], snap.Qvel[2]
}

func angVel(snap *physics.Snapshot) (float64, float64, float64) {
	if len(snap.Qvel) < 6 {
		return 0, 0, 0
	}
	return snap.Qvel[3], snap.Qvel[4], snap.Qvel[5]
}

// rootYaw extracts the heading angle from the root quaternion.
func rootYaw(snap *physics.Snapshot) float64 {
	if len(snap.Qpos) < 7 {
		return 0
	}
	w, x, y, z := snap.Qpos[3], snap.Qpos[4], snap.Qpos[5], snap.Qpos[6]
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}

// rootUp is the world-z component of the body z axis: 1 upright, -1 inverted.
func rootUp(snap *physics.Snapshot) float64 {
	if len(snap.Qpos) < 7 {
		return 1
	}
	x, y := snap.Qpos[4], snap.Qpos[5]
	return 1 - 2*(x*x+y*y)
}

type moveEgo struct {
	moveSpeed   float64
	standHeight float64
	moveAngle   float64
	lowHeight   float64
	stayLow     bool
	egocentric  bool
}

func newMoveEgo(p Params) (Primitive, error) {
	r := &moveEgo{}
	var err error
	if r.moveSpeed, err = p.Float("move_speed", 0); err != nil {
		return nil, err
	}
	if r.standHeight, err = p.Float("stand_height", 1.4); err != nil {
		return nil, err
	}
	if r.moveAngle, err = p.Float("move_angle", 0); err != nil {
		return nil, err
	}
	if r.lowHeight, err = p.Float("low_height", 0.6); err != nil {
		return nil, err
	}
	if r.stayLow, err = p.Bool("stay_low", false); err != nil {
		return nil, err
	}
	if r.egocentric, err = p.Bool("egocentric_target", true); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *moveEgo) Compute(snap *physics.Snapshot) float64 {
	target := r.standHeight
	if r.stayLow {
		target = r.lowHeight
	}
	standing := tolerance(pelvisHeight(snap), target, math.Inf(1), 0.35, "linear")

	vx, vy, _ := linVel(snap)
	var move float64
	if r.moveSpeed == 0 {
		move = tolerance(math.Hypot(vx, vy), 0, 0, 0.5, "gaussian")
	} else {
		angle := r.moveAngle * math.Pi / 180
		if r.egocentric {
			angle += rootYaw(snap)
		}
		along := vx*math.Cos(angle) + vy*math.Sin(angle)
		move = tolerance(along, r.moveSpeed, r.moveSpeed, math.Abs(r.moveSpeed), "linear")
	}
	return clamp01(standing * move)
}

type jump struct {
	jumpHeight float64
}

func newJump(p Params) (Primitive, error) {
	h, err := p.Float("jump_height", 1.6)
	if err != nil {
		return nil, err
	}
	if h <= 0 {
		return nil, &ParamError{Param: "jump_height", Reason: "must be positive"}
	}
	return &jump{jumpHeight: h}, nil
}

func (r *jump) Compute(snap *physics.Snapshot) float64 {
	height := tolerance(pelvisHeight(snap), r.jumpHeight, math.Inf(1), 0.35, "linear")
	upright := clamp01((rootUp(snap) + 1) / 2)
	return clamp01(height * upright)
}

type rotation struct {
	axis  int
	speed float64
}

func newRotation(p Params) (Primitive, error) {
	axisName, err := p.String("axis", "y")
	if err != nil {
		return nil, err
	}
	axis := map[string]int{"x": 0, "y": 1, "z": 2}
	idx, ok := axis[axisName]
	if !ok {
		return nil, &ParamError{Param: "axis", Reason: "must be x, y or z"}
	}
	speed, err := p.Float("rotation_speed", 5)
	if err != nil {
		return nil, err
	}
	return &rotation{axis: idx, speed: speed}, nil
}

func (r *rotation) Compute(snap *physics.Snapshot) float64 {
	wx, wy, wz := angVel(snap)
	gyro := [3]float64{wx, wy, wz}[r.axis]
	margin := math.Abs(r.speed)
	if margin == 0 {
		margin = 1
	}
	return tolerance(gyro, r.speed, r.speed, margin, "linear")
}

type crawl struct {
	spineHeight float64
	moveSpeed   float64
	direction   float64
}

func newCrawl(p Params) (Primitive, error) {
	r := &crawl{}
	var err error
	if r.spineHeight, err = p.Float("spine_height", 0.3); err != nil {
		return nil, err
	}
	if r.moveSpeed, err = p.Float("move_speed", 1); err != nil {
		return nil, err
	}
	if r.direction, err = p.Float("direction", 1); err != nil {
		return nil, err
	}
	if r.direction != 1 && r.direction != -1 {
		return nil, &ParamError{Param: "direction", Reason: "must be 1 or -1"}
	}
	return r, nil
}

func (r *crawl) Compute(snap *physics.Snapshot) float64 {
	low := tolerance(pelvisHeight(snap), r.spineHeight-0.1, r.spineHeight+0.1, 0.25, "gaussian")

	vx, vy, _ := linVel(snap)
	yaw := rootYaw(snap)
	along := (vx*math.Cos(yaw) + vy*math.Sin(yaw)) * r.direction
	var move float64
	if r.moveSpeed == 0 {
		move = tolerance(math.Hypot(vx, vy), 0, 0, 0.5, "gaussian")
	} else {
		move = tolerance(along, r.moveSpeed, r.moveSpeed, math.Abs(r.moveSpeed), "linear")
	}
	return clamp01(low * move)
}

type lieDown struct {
	up bool
}

func newLieDown(p Params) (Primitive, error) {
	dir, err := p.String("direction", "up")
	if err != nil {
		return nil, err
	}
	switch dir {
	case "up":
		return &lieDown{up: true}, nil
	case "down":
		return &lieDown{up: false}, nil
	default:
		return nil, &ParamError{Param: "direction", Reason: "must be up or down"}
	}
}

func (r *lieDown) Compute(snap *physics.Snapshot) float64 {
	flat := tolerance(pelvisHeight(snap), 0, 0.2, 0.2, "gaussian")
	head := 0.3
	if pos, err := snap.Position("Head"); err == nil {
		head = pos[2]
	}
	headLow := tolerance(head, 0, 0.35, 0.3, "gaussian")

	facing := rootUp(snap)
	var orient float64
	if r.up {
		orient = tolerance(facing, 0.5, 1, 0.5, "linear")
	} else {
		orient = tolerance(facing, -1, -0.5, 0.5, "linear")
	}
	return clamp01(flat * headLow * orient)
}

type sit struct {
	pelvisTh         float64
	constrainedKnees bool
}

func newSit(p Params) (Primitive, error) {
	r := &sit{}
	var err error
	if r.pelvisTh, err = p.Float("pelvis_height_th", 0.45); err != nil {
		return nil, err
	}
	if r.constrainedKnees, err = p.Bool("constrained_knees", false); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *sit) Compute(snap *physics.Snapshot) float64 {
	seated := tolerance(pelvisHeight(snap), 0, r.pelvisTh, 0.2, "gaussian")

	feet := 1.0
	for _, name := range []string{"L_Ankle", "R_Ankle"} {
		if pos, err := snap.Position(name); err == nil {
			feet *= tolerance(pos[2], 0, 0.2, 0.2, "gaussian")
		}
	}
	score := seated * feet

	if r.constrainedKnees {
		for _, name := range []string{"L_Knee", "R_Knee"} {
			if pos, err := snap.Position(name); err == nil {
				score *= tolerance(pos[2], 0, 0.25, 0.2, "gaussian")
			}
		}
	}
	return clamp01(score)
}

type split struct {
	distance float64
}

func newSplit(p Params) (Primitive, error) {
	d, err := p.Float("distance", 1.5)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, &ParamError{Param: "distance", Reason: "must be positive"}
	}
	return &split{distance: d}, nil
}

func (r *split) Compute(snap *physics.Snapshot) float64 {
	left, errL := snap.Position("L_Ankle")
	right, errR := snap.Position("R_Ankle")
	if errL != nil || errR != nil {
		return 0
	}
	dx := left[0] - right[0]
	dy := left[1] - right[1]
	spread := tolerance(math.Hypot(dx, dy), r.distance, math.Inf(1), 0.4, "linear")
	low := tolerance(pelvisHeight(snap), 0, 0.4, 0.3, "gaussian")
	return clamp01(spread * low)
}

type raiseArms struct {
	left  float64
	right float64
}

// armTarget maps the l/m/h level tags to hand heights in meters.
func armTarget(level string) (float64, bool) {
	switch level {
	case "l":
		return 0.5, true
	case "m":
		return 1.2, true
	case "h":
		return 1.8, true
	}
	return 0, false
}

func newRaiseArms(p Params) (Primitive, error) {
	leftTag, err := p.String("left", "h")
	if err != nil {
		return nil, err
	}
	rightTag, err := p.String("right", "h")
	if err != nil {
		return nil, err
	}
	left, ok := armTarget(leftTag)
	if !ok {
		return nil, &ParamError{Param: "left", Reason: "must be l, m or h"}
	}
	right, ok := armTarget(rightTag)
	if !ok {
		return nil, &ParamError{Param: "right", Reason: "must be l, m or h"}
	}
	return &raiseArms{left: left, right: right}, nil
}

func (r *raiseArms) Compute(snap *physics.Snapshot) float64 {
	score := 1.0
	targets := []struct {
		body   string
		height float64
	}{
		{"L_Hand", r.left},
		{"R_Hand", r.right},
	}
	for _, t := range targets {
		pos, err := snap.Position(t.body)
		if err != nil {
			return 0
		}
		score *= tolerance(pos[2], t.height-0.15, t.height+0.15, 0.3, "gaussian")
	}
	return clamp01(score)
}

type headstand struct {
	pelvisHeight float64
}

func newHeadstand(p Params) (Primitive, error) {
	h, err := p.Float("stand_pelvis_height", 0.95)
	if err != nil {
		return nil, err
	}
	return &headstand{pelvisHeight: h}, nil
}

func (r *headstand) Compute(snap *physics.Snapshot) float64 {
	head, err := snap.Position("Head")
	if err != nil {
		return 0
	}
	pelvis := pelvisHeight(snap)
	elevated := tolerance(pelvis, r.pelvisHeight, math.Inf(1), 0.3, "linear")
	inverted := tolerance(pelvis-head[2], 0.2, math.Inf(1), 0.2, "linear")
	return clamp01(elevated * inverted)
}
