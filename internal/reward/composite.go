package reward

import (
	"math"

	"github.com/nmxmxh/marionette/internal/physics"
)

// Behavioral composites: whole-body qualities rather than single-body
// targets. These are the terms clients stack under a multiplicative or
// geometric combinator to keep a task reward honest.

func init() {
	register("standing", newStanding)
	register("upright", newUpright)
	register("balance", newBalance)
	register("symmetry", newSymmetry)
	register("energy-efficiency", newEnergyEfficiency)
	register("small-control", newSmallControl)
}

type standing struct {
	target float64
	margin float64
}

func newStanding(p Params) (Primitive, error) {
	r := &standing{}
	var err error
	if r.target, err = p.Float("target_height", 1.4); err != nil {
		return nil, err
	}
	if r.margin, err = p.Float("margin", 0.35); err != nil {
		return nil, err
	}
	if r.margin <= 0 {
		return nil, &ParamError{Param: "margin", Reason: "must be positive"}
	}
	return r, nil
}

func (r *standing) Compute(snap *physics.Snapshot) float64 {
	return tolerance(pelvisHeight(snap), r.target, math.Inf(1), r.margin, "linear")
}

type upright struct{}

func newUpright(Params) (Primitive, error) { return upright{}, nil }

func (upright) Compute(snap *physics.Snapshot) float64 {
	return tolerance(rootUp(snap), 0.9, math.Inf(1), 1.9, "linear")
}

type balance struct{}

func newBalance(Params) (Primitive, error) { return balance{}, nil }

func (balance) Compute(snap *physics.Snapshot) float64 {
	vx, vy, _ := linVel(snap)
	wx, wy, wz := angVel(snap)
	still := tolerance(math.Hypot(vx, vy), 0, 0.2, 0.8, "gaussian")
	steady := tolerance(math.Sqrt(wx*wx+wy*wy+wz*wz), 0, 0.5, 1.5, "gaussian")
	return clamp01(still * steady * clamp01((rootUp(snap)+1)/2))
}

type symmetry struct{}

func newSymmetry(Params) (Primitive, error) { return symmetry{}, nil }

// symmetry compares left/right limb heights pairwise.
func (symmetry) Compute(snap *physics.Snapshot) float64 {
	score := 1.0
	for _, pair := range [][2]string{{"L_Hand", "R_Hand"}, {"L_Ankle", "R_Ankle"}} {
		left, errL := snap.Position(pair[0])
		right, errR := snap.Position(pair[1])
		if errL != nil || errR != nil {
			return 0
		}
		score *= tolerance(math.Abs(left[2]-right[2]), 0, 0.05, 0.3, "gaussian")
	}
	return clamp01(score)
}

type energyEfficiency struct{}

func newEnergyEfficiency(Params) (Primitive, error) { return energyEfficiency{}, nil }

func (energyEfficiency) Compute(snap *physics.Snapshot) float64 {
	return meanControlTolerance(snap.Ctrl)
}

type smallControl struct {
	weight float64
}

func newSmallControl(p Params) (Primitive, error) {
	w, err := p.Float("ctrl_cost_weight", 0.05)
	if err != nil {
		return nil, err
	}
	if w < 0 || w > 1 {
		return nil, &ParamError{Param: "ctrl_cost_weight", Reason: "must be in [0, 1]"}
	}
	return &smallControl{weight: w}, nil
}

// small-control mixes the control bonus with a constant floor: score =
// (1 - weight) + weight * bonus.
func (r *smallControl) Compute(snap *physics.Snapshot) float64 {
	return clamp01((1 - r.weight) + r.weight*meanControlTolerance(snap.Ctrl))
}

// meanControlTolerance scores each actuator's |ctrl| against a unit margin
// and averages. An empty control vector scores 1.
func meanControlTolerance(ctrl []float64) float64 {
	if len(ctrl) == 0 {
		return 1
	}
	sum := 0.0
	for _, c := range ctrl {
		sum += tolerance(math.Abs(c), 0, 0, 1, "quadratic")
	}
	return sum / float64(len(ctrl))
}
