package reward

import (
	"math"

	"github.com/nmxmxh/marionette/internal/physics"
)

// Body-part target primitives. Heights are world-frame z; lateral and
// forward offsets are measured in the pelvis yaw frame so targets travel
// with the character. Lateral is signed outward per side: a positive
// target_distance pushes a left body leftward and a right body rightward.

func init() {
	register("head-height", newBodyHeight(1.4, "Head"))
	register("pelvis-height", newBodyHeight(0.8, "Pelvis"))
	register("hand-height", newBodyHeight(1.8, "L_Hand", "R_Hand"))
	register("hand-lateral", newBodyOffset(axisLateral, 0.5, bodySide{"L_Hand", 1}, bodySide{"R_Hand", -1}))
	register("left-hand-height", newBodyHeight(1.0, "L_Hand"))
	register("left-hand-lateral", newBodyOffset(axisLateral, 0.5, bodySide{"L_Hand", 1}))
	register("left-hand-forward", newBodyOffset(axisForward, 0.5, bodySide{"L_Hand", 1}))
	register("right-hand-height", newBodyHeight(1.0, "R_Hand"))
	register("right-hand-lateral", newBodyOffset(axisLateral, 0.5, bodySide{"R_Hand", -1}))
	register("right-hand-forward", newBodyOffset(axisForward, 0.5, bodySide{"R_Hand", 1}))
	register("left-foot-height", newBodyHeight(0.3, "L_Ankle"))
	register("left-foot-lateral", newBodyOffset(axisLateral, 0.3, bodySide{"L_Ankle", 1}))
	register("left-foot-forward", newBodyOffset(axisForward, 0.3, bodySide{"L_Ankle", 1}))
	register("right-foot-height", newBodyHeight(0.3, "R_Ankle"))
	register("right-foot-lateral", newBodyOffset(axisLateral, 0.3, bodySide{"R_Ankle", -1}))
	register("right-foot-forward", newBodyOffset(axisForward, 0.3, bodySide{"R_Ankle", 1}))
}

type bodyHeight struct {
	bodies  []string
	target  float64
	margin  float64
	sigmoid string
}

func newBodyHeight(defTarget float64, bodies ...string) constructor {
	return func(p Params) (Primitive, error) {
		r := &bodyHeight{bodies: bodies}
		var err error
		if r.target, err = p.Float("target_height", defTarget); err != nil {
			return nil, err
		}
		if r.margin, err = p.Float("margin", 0.3); err != nil {
			return nil, err
		}
		if r.margin <= 0 {
			return nil, &ParamError{Param: "margin", Reason: "must be positive"}
		}
		if r.sigmoid, err = checkSigmoid("", p); err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (r *bodyHeight) Compute(snap *physics.Snapshot) float64 {
	score := 1.0
	for _, name := range r.bodies {
		pos, err := snap.Position(name)
		if err != nil {
			return 0
		}
		score *= tolerance(pos[2], r.target, r.target, r.margin, r.sigmoid)
	}
	return clamp01(score)
}

type offsetAxis int

const (
	axisForward offsetAxis = iota
	axisLateral
)

// bodySide pairs a body with its lateral sign.
type bodySide struct {
	name string
	sign float64
}

type bodyOffset struct {
	axis    offsetAxis
	bodies  []bodySide
	target  float64
	margin  float64
	sigmoid string
}

func newBodyOffset(axis offsetAxis, defTarget float64, bodies ...bodySide) constructor {
	return func(p Params) (Primitive, error) {
		r := &bodyOffset{axis: axis, bodies: bodies}
		var err error
		if r.target, err = p.Float("target_distance", defTarget); err != nil {
			return nil, err
		}
		if r.margin, err = p.Float("margin", 0.3); err != nil {
			return nil, err
		}
		if r.margin <= 0 {
			return nil, &ParamError{Param: "margin", Reason: "must be positive"}
		}
		if r.sigmoid, err = checkSigmoid("", p); err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (r *bodyOffset) Compute(snap *physics.Snapshot) float64 {
	pelvis, err := snap.Position("Pelvis")
	if err != nil {
		return 0
	}
	sin, cos := math.Sincos(rootYaw(snap))

	score := 1.0
	for _, b := range r.bodies {
		pos, err := snap.Position(b.name)
		if err != nil {
			return 0
		}
		dx := pos[0] - pelvis[0]
		dy := pos[1] - pelvis[1]
		var v float64
		switch r.axis {
		case axisForward:
			v = dx*cos + dy*sin
		case axisLateral:
			v = (-dx*sin + dy*cos) * b.sign
		}
		score *= tolerance(v, r.target, r.target, r.margin, r.sigmoid)
	}
	return clamp01(score)
}
