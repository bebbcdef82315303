package latent

import (
	"fmt"
	"math"
)

// MixStrategy selects how two context vectors are blended.
type MixStrategy string

const (
	MixLinear     MixStrategy = "linear"
	MixNormalized MixStrategy = "normalized"
	MixSlerp      MixStrategy = "slerp"
)

// slerpDegenerate is the sin(omega) threshold below which slerp falls back
// to a linear blend of the normalized inputs.
const slerpDegenerate = 1e-4

// ParseMixStrategy resolves the wire tag; empty means linear.
func ParseMixStrategy(s string) (MixStrategy, error) {
	switch MixStrategy(s) {
	case "", MixLinear:
		return MixLinear, nil
	case MixNormalized:
		return MixNormalized, nil
	case MixSlerp:
		return MixSlerp, nil
	}
	return "", fmt.Errorf("unknown mix strategy %q", s)
}

// Mix blends a toward b with weight w in [0, 1]: w=0 returns a, w=1
// returns b (slerp and normalized return their normalized forms).
func Mix(a, b []float32, w float64, strategy MixStrategy) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("mix dims %d and %d", len(a), len(b))
	}
	if w < 0 || w > 1 {
		return nil, fmt.Errorf("mix weight %v outside [0, 1]", w)
	}

	switch strategy {
	case "", MixLinear:
		return lerp(a, b, w), nil

	case MixNormalized:
		return normalize(lerp(a, b, w)), nil

	case MixSlerp:
		na, nb := normalize(a), normalize(b)
		dot := 0.0
		for i := range na {
			dot += float64(na[i]) * float64(nb[i])
		}
		if dot > 1 {
			dot = 1
		} else if dot < -1 {
			dot = -1
		}
		omega := math.Acos(dot)
		sinOmega := math.Sin(omega)
		if sinOmega < slerpDegenerate {
			return lerp(na, nb, w), nil
		}
		fa := math.Sin((1-w)*omega) / sinOmega
		fb := math.Sin(w*omega) / sinOmega
		out := make([]float32, len(a))
		for i := range out {
			out[i] = float32(fa*float64(na[i]) + fb*float64(nb[i]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown mix strategy %q", strategy)
}

func lerp(a, b []float32, w float64) []float32 {
	out := make([]float32, len(a))
	for i := range out {
		out[i] = float32((1-w)*float64(a[i]) + w*float64(b[i]))
	}
	return out
}

func normalize(v []float32) []float32 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
