package reward

import (
	"encoding/json"
	"fmt"
)

// Params holds a primitive's raw parameters as decoded JSON values.
type Params map[string]interface{}

// Float reads a numeric parameter, falling back to def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, &ParamError{Param: key, Reason: fmt.Sprintf("expected number, got %T", v)}
	}
}

// Bool reads a boolean parameter with a default.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ParamError{Param: key, Reason: fmt.Sprintf("expected bool, got %T", v)}
	}
	return b, nil
}

// String reads a string parameter with a default.
func (p Params) String(key string, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParamError{Param: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

// Object reads a nested JSON object parameter.
func (p Params) Object(key string) (map[string]interface{}, bool, error) {
	v, ok := p[key]
	if !ok {
		return nil, false, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false, &ParamError{Param: key, Reason: fmt.Sprintf("expected object, got %T", v)}
	}
	return m, true, nil
}

// UnknownPrimitiveError reports a reward name absent from the registry.
type UnknownPrimitiveError struct {
	Name string
}

func (e *UnknownPrimitiveError) Error() string {
	return fmt.Sprintf("unknown reward primitive %q", e.Name)
}

// ParamError reports a malformed or out-of-range primitive parameter.
type ParamError struct {
	Primitive string
	Param     string
	Reason    string
}

func (e *ParamError) Error() string {
	if e.Primitive == "" {
		return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("%s: parameter %q: %s", e.Primitive, e.Param, e.Reason)
}
