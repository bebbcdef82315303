package physics

import "fmt"

// State is the complete mutable state of the simulated rig: generalized
// positions and velocities. Save/restore pairs copy it wholesale.
type State struct {
	Qpos []float64 `json:"qpos"`
	Qvel []float64 `json:"qvel"`
}

// Clone returns a deep copy so a saved state survives later mutation.
func (s State) Clone() State {
	return State{
		Qpos: append([]float64(nil), s.Qpos...),
		Qvel: append([]float64(nil), s.Qvel...),
	}
}

// Snapshot is the read-only per-step view consumed by reward primitives and
// pose conversion. Body positions are world-frame, ordered by the rig's
// body-name list.
type Snapshot struct {
	Qpos      []float64
	Qvel      []float64
	Ctrl      []float64
	BodyPos   [][3]float64
	BodyNames []string
}

// Position returns the world position of a named body.
func (s *Snapshot) Position(name string) ([3]float64, error) {
	for i, n := range s.BodyNames {
		if n == name {
			return s.BodyPos[i], nil
		}
	}
	return [3]float64{}, fmt.Errorf("unknown body %q", name)
}

// Frame is a packed 24-bit RGB image produced by the renderer.
type Frame struct {
	Width  int
	Height int
	Pixels []byte // len = Width*Height*3, row-major RGB
}

// NewFrame allocates a zeroed (black) frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pixels: make([]byte, width*height*3),
	}
}

// Clone copies the frame so consumers on other goroutines can hold it.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		Width:  f.Width,
		Height: f.Height,
		Pixels: append([]byte(nil), f.Pixels...),
	}
}
