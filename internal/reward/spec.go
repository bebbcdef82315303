package reward

import (
	"encoding/json"
	"fmt"
)

// Combinator is the reduction operator applied over weighted primitive
// outputs when a specification holds more than one reward.
type Combinator string

const (
	CombAdditive       Combinator = "additive"
	CombMultiplicative Combinator = "multiplicative"
	CombMin            Combinator = "min"
	CombMax            Combinator = "max"
	CombGeometric      Combinator = "geometric"
)

// validCombinators is the closed tag set.
var validCombinators = map[Combinator]bool{
	CombAdditive:       true,
	CombMultiplicative: true,
	CombMin:            true,
	CombMax:            true,
	CombGeometric:      true,
}

// PrimitiveSpec names one reward primitive plus its parameters. On the wire
// the parameters sit inline beside "name":
//
//	{"name": "move-ego", "move_speed": 2.0, "stand_height": 1.4}
type PrimitiveSpec struct {
	Name   string
	Params Params
}

// UnmarshalJSON captures every field except "name" as a parameter.
func (p *PrimitiveSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name, ok := raw["name"].(string)
	if !ok || name == "" {
		return fmt.Errorf("reward entry missing name")
	}
	delete(raw, "name")
	p.Name = name
	p.Params = raw
	return nil
}

// MarshalJSON re-flattens the parameters beside "name". encoding/json sorts
// map keys, which is what fingerprinting relies on.
func (p PrimitiveSpec) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(p.Params)+1)
	for k, v := range p.Params {
		m[k] = v
	}
	m["name"] = p.Name
	return json.Marshal(m)
}

// Spec is a full reward specification: ordered primitives, parallel weights,
// and the combinator tag.
type Spec struct {
	Rewards         []PrimitiveSpec `json:"rewards"`
	Weights         []float64       `json:"weights"`
	CombinationType Combinator      `json:"combinationType,omitempty"`
}

// Empty reports whether the specification carries no rewards.
func (s Spec) Empty() bool {
	return len(s.Rewards) == 0
}

// EffectiveCombinator resolves the default (additive) for specs that omit
// the tag.
func (s Spec) EffectiveCombinator() Combinator {
	if s.CombinationType == "" {
		return CombAdditive
	}
	return s.CombinationType
}

// Validate checks the structural invariants. Primitive names are resolved
// separately by Compile.
func (s Spec) Validate() error {
	if len(s.Rewards) != len(s.Weights) {
		return fmt.Errorf("%d rewards with %d weights", len(s.Rewards), len(s.Weights))
	}
	if !validCombinators[s.EffectiveCombinator()] {
		return fmt.Errorf("unknown combinator %q", s.CombinationType)
	}
	return nil
}

// Clone deep-copies the spec so handlers can retain it across mutations.
func (s Spec) Clone() Spec {
	out := Spec{
		Rewards:         make([]PrimitiveSpec, len(s.Rewards)),
		Weights:         append([]float64(nil), s.Weights...),
		CombinationType: s.CombinationType,
	}
	for i, r := range s.Rewards {
		params := make(Params, len(r.Params))
		for k, v := range r.Params {
			params[k] = v
		}
		out.Rewards[i] = PrimitiveSpec{Name: r.Name, Params: params}
	}
	return out
}
