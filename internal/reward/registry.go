package reward

import (
	"fmt"
	"math"

	"github.com/nmxmxh/marionette/internal/physics"
)

// Primitive is one compiled reward term: a pure function of the physics
// snapshot returning a value in [0, 1].
type Primitive interface {
	Compute(snap *physics.Snapshot) float64
}

// constructor validates parameters and builds a primitive.
type constructor func(params Params) (Primitive, error)

// registry is the closed name set. Registration happens in init() blocks
// beside each primitive family; nothing is registered at runtime.
var registry = map[string]constructor{}

func register(name string, c constructor) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("reward primitive %q registered twice", name))
	}
	registry[name] = c
}

// Names returns the registered primitive names, unordered.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// Compiled is a validated specification bound to constructed primitives.
type Compiled struct {
	Primitives []Primitive
	Weights    []float64
	Combinator Combinator
	Source     Spec
}

// Compile resolves every primitive through the registry. Unknown names and
// malformed parameters fail here, never during evaluation.
func Compile(spec Spec) (*Compiled, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Empty() {
		return nil, fmt.Errorf("empty reward specification")
	}

	prims := make([]Primitive, len(spec.Rewards))
	for i, r := range spec.Rewards {
		ctor, ok := registry[r.Name]
		if !ok {
			return nil, &UnknownPrimitiveError{Name: r.Name}
		}
		p, err := ctor(r.Params)
		if err != nil {
			if pe, is := err.(*ParamError); is && pe.Primitive == "" {
				pe.Primitive = r.Name
			}
			return nil, err
		}
		prims[i] = p
	}

	return &Compiled{
		Primitives: prims,
		Weights:    append([]float64(nil), spec.Weights...),
		Combinator: spec.EffectiveCombinator(),
		Source:     spec.Clone(),
	}, nil
}

// geometricFloor keeps zero-valued terms from annihilating the geometric
// mean.
const geometricFloor = 1e-8

// Evaluate folds every primitive output with the declared combinator.
func (c *Compiled) Evaluate(snap *physics.Snapshot) float64 {
	n := len(c.Primitives)
	if n == 0 {
		return 0
	}

	switch c.Combinator {
	case CombAdditive:
		sum := 0.0
		for i, p := range c.Primitives {
			sum += c.Weights[i] * p.Compute(snap)
		}
		return sum

	case CombMultiplicative:
		prod := 1.0
		for i, p := range c.Primitives {
			prod *= math.Pow(p.Compute(snap), c.Weights[i])
		}
		return prod

	case CombMin:
		best := math.Inf(1)
		for i, p := range c.Primitives {
			if v := c.Weights[i] * p.Compute(snap); v < best {
				best = v
			}
		}
		return best

	case CombMax:
		best := math.Inf(-1)
		for i, p := range c.Primitives {
			if v := c.Weights[i] * p.Compute(snap); v > best {
				best = v
			}
		}
		return best

	case CombGeometric:
		logSum := 0.0
		for i, p := range c.Primitives {
			v := math.Max(p.Compute(snap), geometricFloor)
			logSum += c.Weights[i] * math.Log(v)
		}
		return math.Exp(logSum / float64(n))

	default:
		// Validate() guarantees the tag; unreachable.
		return 0
	}
}
