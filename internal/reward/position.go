package reward

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nmxmxh/marionette/internal/physics"
)

// The general position primitive: a map of body name -> axis targets.
//
//	{"name": "position", "ego_obs": true, "targets": {
//	    "L_Hand": {"x": 0.4, "z": 1.0, "margin": 0.2, "weight": 2.0},
//	    "Head":   {"z": 1.5, "margin_z": 0.1, "sigmoid": "linear"}}}
//
// Each body contributes the product of its per-axis tolerances, weighted
// and averaged across bodies. With ego_obs the targets are interpreted in
// the pelvis yaw frame (offsets from the pelvis, x forward, y left).

func init() {
	register("position", newPosition)
}

var axisIndex = map[string]int{"x": 0, "y": 1, "z": 2}

// axisTarget is one constrained axis of a body target.
type axisTarget struct {
	axis   int
	value  float64
	margin float64
}

type positionTarget struct {
	body    string
	axes    []axisTarget
	weight  float64
	sigmoid string
}

type position struct {
	targets []positionTarget
	egoObs  bool
	total   float64
}

func newPosition(p Params) (Primitive, error) {
	raw, ok, err := p.Object("targets")
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, &ParamError{Param: "targets", Reason: "at least one body target required"}
	}
	egoObs, err := p.Bool("ego_obs", false)
	if err != nil {
		return nil, err
	}

	rig := physics.DefaultHumanoidRig()
	r := &position{egoObs: egoObs}
	for body, v := range raw {
		entry, ok := v.(map[string]interface{})
		if !ok {
			return nil, &ParamError{Param: "targets", Reason: fmt.Sprintf("%s: expected an object", body)}
		}
		if _, err := rig.JointIndex(body); err != nil {
			return nil, &ParamError{Param: "targets", Reason: fmt.Sprintf("unknown body %q", body)}
		}

		tp := Params(entry)
		target := positionTarget{body: body}
		defMargin, err := tp.Float("margin", 0.2)
		if err != nil {
			return nil, err
		}
		if defMargin <= 0 {
			return nil, &ParamError{Param: "margin", Reason: "must be positive"}
		}
		if target.weight, err = tp.Float("weight", 1); err != nil {
			return nil, err
		}
		if target.weight < 0 {
			return nil, &ParamError{Param: "weight", Reason: "must be non-negative"}
		}
		if target.sigmoid, err = checkSigmoid("", tp); err != nil {
			return nil, err
		}

		for key := range entry {
			switch key {
			case "margin", "weight", "sigmoid":
				continue
			}
			if axis, isAxis := axisIndex[key]; isAxis {
				value, err := tp.Float(key, 0)
				if err != nil {
					return nil, err
				}
				margin, err := tp.Float("margin_"+key, defMargin)
				if err != nil {
					return nil, err
				}
				if margin <= 0 {
					return nil, &ParamError{Param: "margin_" + key, Reason: "must be positive"}
				}
				target.axes = append(target.axes, axisTarget{axis: axis, value: value, margin: margin})
				continue
			}
			if suffix, isOverride := strings.CutPrefix(key, "margin_"); isOverride {
				if _, isAxis := axisIndex[suffix]; isAxis {
					continue
				}
			}
			return nil, &ParamError{Param: "targets", Reason: fmt.Sprintf("%s: unknown key %q", body, key)}
		}
		if len(target.axes) == 0 {
			return nil, &ParamError{Param: "targets", Reason: fmt.Sprintf("%s: no axis targets", body)}
		}

		sort.Slice(target.axes, func(i, j int) bool { return target.axes[i].axis < target.axes[j].axis })
		r.targets = append(r.targets, target)
		r.total += target.weight
	}
	if r.total <= 0 {
		return nil, &ParamError{Param: "targets", Reason: "total weight must be positive"}
	}

	// Map iteration is randomized; fix the evaluation order.
	sort.Slice(r.targets, func(i, j int) bool { return r.targets[i].body < r.targets[j].body })
	return r, nil
}

func (r *position) Compute(snap *physics.Snapshot) float64 {
	var origin [3]float64
	sin, cos := 0.0, 1.0
	if r.egoObs {
		pelvis, err := snap.Position("Pelvis")
		if err != nil {
			return 0
		}
		origin = pelvis
		sin, cos = math.Sincos(rootYaw(snap))
	}

	sum := 0.0
	for _, t := range r.targets {
		pos, err := snap.Position(t.body)
		if err != nil {
			return 0
		}
		p := [3]float64{pos[0] - origin[0], pos[1] - origin[1], pos[2] - origin[2]}
		if r.egoObs {
			p[0], p[1] = p[0]*cos+p[1]*sin, -p[0]*sin+p[1]*cos
		}

		score := 1.0
		for _, a := range t.axes {
			score *= tolerance(p[a.axis], a.value, a.value, a.margin, t.sigmoid)
		}
		sum += t.weight * score
	}
	return clamp01(sum / r.total)
}
