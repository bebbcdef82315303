package reward

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/marionette/internal/physics"
)

// constPrim returns a fixed value regardless of physics state.
type constPrim float64

func (c constPrim) Compute(*physics.Snapshot) float64 { return float64(c) }

func TestCompiled_Combinators(t *testing.T) {
	prims := []Primitive{constPrim(0.2), constPrim(0.8)}
	weights := []float64{1, 0.5}

	cases := []struct {
		comb Combinator
		want float64
	}{
		{CombAdditive, 1*0.2 + 0.5*0.8},
		{CombMultiplicative, math.Pow(0.2, 1) * math.Pow(0.8, 0.5)},
		{CombMin, 0.2},
		{CombMax, 0.4},
		{CombGeometric, math.Exp((math.Log(0.2) + 0.5*math.Log(0.8)) / 2)},
	}
	for _, tc := range cases {
		t.Run(string(tc.comb), func(t *testing.T) {
			c := &Compiled{Primitives: prims, Weights: weights, Combinator: tc.comb}
			assert.InDelta(t, tc.want, c.Evaluate(nil), 1e-12)
		})
	}
}

func TestCompiled_GeometricFloorsZeroTerms(t *testing.T) {
	c := &Compiled{
		Primitives: []Primitive{constPrim(0), constPrim(1)},
		Weights:    []float64{1, 1},
		Combinator: CombGeometric,
	}
	got := c.Evaluate(nil)

	require.False(t, math.IsNaN(got))
	require.False(t, math.IsInf(got, 0))
	assert.InDelta(t, math.Exp(math.Log(1e-8)/2), got, 1e-12)
}

func TestCompile_ResolvesCatalog(t *testing.T) {
	spec := Spec{
		Rewards: []PrimitiveSpec{
			{Name: "move-ego", Params: Params{"move_speed": 2.0}},
			{Name: "standing", Params: Params{}},
			{Name: "left-hand-height", Params: Params{"target_height": 1.2}},
		},
		Weights:         []float64{1, 0.5, 0.25},
		CombinationType: CombGeometric,
	}

	c, err := Compile(spec)
	require.NoError(t, err)
	require.Len(t, c.Primitives, 3)
	assert.Equal(t, CombGeometric, c.Combinator)
	assert.Equal(t, []float64{1, 0.5, 0.25}, c.Weights)
}

func TestCompile_UnknownPrimitive(t *testing.T) {
	spec := Spec{
		Rewards: []PrimitiveSpec{{Name: "fly", Params: Params{}}},
		Weights: []float64{1},
	}

	_, err := Compile(spec)
	require.Error(t, err)
	var unknown *UnknownPrimitiveError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "fly", unknown.Name)
}

func TestCompile_ParamErrorsNamePrimitive(t *testing.T) {
	spec := Spec{
		Rewards: []PrimitiveSpec{{Name: "move-ego", Params: Params{"move_speed": "fast"}}},
		Weights: []float64{1},
	}

	_, err := Compile(spec)
	require.Error(t, err)
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "move-ego", pe.Primitive)
	assert.Equal(t, "move_speed", pe.Param)
}

func TestCompile_RejectsEmptySpec(t *testing.T) {
	_, err := Compile(Spec{})
	assert.Error(t, err)
}

func TestNames_CoversCatalog(t *testing.T) {
	have := map[string]bool{}
	for _, n := range Names() {
		have[n] = true
	}

	for _, n := range []string{
		"move-ego", "jump", "rotation", "crawl", "liedown", "sit", "split",
		"raisearms", "headstand",
		"head-height", "pelvis-height", "hand-height", "hand-lateral",
		"left-hand-height", "left-hand-lateral", "left-hand-forward",
		"right-hand-height", "right-hand-lateral", "right-hand-forward",
		"left-foot-height", "left-foot-lateral", "left-foot-forward",
		"right-foot-height", "right-foot-lateral", "right-foot-forward",
		"standing", "upright", "balance", "symmetry", "energy-efficiency",
		"small-control", "position",
	} {
		assert.True(t, have[n], "missing primitive %s", n)
	}
}
