package reward

import (
	"fmt"
	"math"
)

// Shaping helpers. Every primitive maps raw physics quantities through
// tolerance() so outputs stay in [0, 1].

const valueAtMargin = 0.1

// tolerance returns 1 inside [lo, hi] and decays toward 0 outside, reaching
// valueAtMargin at distance margin from the nearest bound.
func tolerance(x, lo, hi, margin float64, sigmoid string) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if x >= lo && x <= hi {
		return 1
	}
	if margin <= 0 {
		return 0
	}

	var d float64
	if x < lo {
		d = (lo - x) / margin
	} else {
		d = (x - hi) / margin
	}
	return shape(d, sigmoid)
}

// shape maps a normalized distance d >= 0 to a value in [0, 1] with
// shape(0)=1 and shape(1)=valueAtMargin.
func shape(d float64, sigmoid string) float64 {
	switch sigmoid {
	case "", "gaussian":
		scale := math.Sqrt(-2 * math.Log(valueAtMargin))
		return math.Exp(-0.5 * (d * scale) * (d * scale))
	case "linear":
		v := 1 - (1-valueAtMargin)*d
		return math.Max(0, v)
	case "quadratic":
		v := 1 - (1-valueAtMargin)*d*d
		return math.Max(0, v)
	default:
		// Unknown shapes are caught at compile time; default keeps
		// evaluation total.
		scale := math.Sqrt(-2 * math.Log(valueAtMargin))
		return math.Exp(-0.5 * (d * scale) * (d * scale))
	}
}

// validSigmoid reports whether a sigmoid name is accepted at compile time.
func validSigmoid(name string) bool {
	switch name {
	case "", "gaussian", "linear", "quadratic":
		return true
	}
	return false
}

// clamp01 clips to the unit interval.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// checkSigmoid validates the shape parameter for a primitive.
func checkSigmoid(primitive string, params Params) (string, error) {
	name, err := params.String("sigmoid", "gaussian")
	if err != nil {
		return "", err
	}
	if !validSigmoid(name) {
		return "", &ParamError{Primitive: primitive, Param: "sigmoid", Reason: fmt.Sprintf("unknown shape %q", name)}
	}
	return name, nil
}
