// Package testutil holds scriptable collaborator fakes shared by package
// tests. Nothing here ships in the server binary.
package testutil

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/marionette/internal/physics"
)

// FakeEnvironment is a deterministic physics.Environment. The observation
// is the current (qpos, qvel) flattened to float32, so state changes are
// visible to probe tests.
type FakeEnvironment struct {
	mu    sync.Mutex
	rig   *physics.Rig
	state physics.State

	StepCount  int
	ResetCount int
	Params     map[string]float64

	// Terminate, when set, flags termination after the given step count.
	Terminate func(step int) bool

	StepErr   error
	RenderErr error

	// ParamErr, when set, can veto SetParameter by name.
	ParamErr func(name string) error

	FrameWidth  int
	FrameHeight int
}

func NewFakeEnvironment() *FakeEnvironment {
	rig := physics.DefaultHumanoidRig()
	qpos := make([]float64, rig.QposSize())
	qpos[2] = 1.4
	qpos[3] = 1
	return &FakeEnvironment{
		rig:         rig,
		state:       physics.State{Qpos: qpos, Qvel: make([]float64, 6+3*(rig.NumJoints()-1))},
		Params:      make(map[string]float64),
		FrameWidth:  64,
		FrameHeight: 48,
	}
}

func (e *FakeEnvironment) Rig() *physics.Rig { return e.rig }

func (e *FakeEnvironment) observationLocked() []float32 {
	obs := make([]float32, 0, len(e.state.Qpos)+len(e.state.Qvel))
	for _, v := range e.state.Qpos {
		obs = append(obs, float32(v))
	}
	for _, v := range e.state.Qvel {
		obs = append(obs, float32(v))
	}
	return obs
}

func (e *FakeEnvironment) Reset() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ResetCount++
	qpos := make([]float64, e.rig.QposSize())
	qpos[2] = 1.4
	qpos[3] = 1
	e.state = physics.State{Qpos: qpos, Qvel: make([]float64, len(e.state.Qvel))}
	return e.observationLocked(), nil
}

func (e *FakeEnvironment) Step(action []float32) ([]float32, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StepErr != nil {
		return nil, false, e.StepErr
	}
	e.StepCount++
	// Drift forward so consecutive observations differ.
	e.state.Qpos[0] += 0.001
	terminated := e.Terminate != nil && e.Terminate(e.StepCount)
	return e.observationLocked(), terminated, nil
}

func (e *FakeEnvironment) Observation() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observationLocked(), nil
}

func (e *FakeEnvironment) Render() (*physics.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RenderErr != nil {
		return nil, e.RenderErr
	}
	frame := physics.NewFrame(e.FrameWidth, e.FrameHeight)
	// Stamp the step count so consecutive frames differ.
	frame.Pixels[0] = byte(e.StepCount)
	frame.Pixels[1] = byte(e.StepCount >> 8)
	return frame, nil
}

func (e *FakeEnvironment) GetPhysicsState() (physics.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

func (e *FakeEnvironment) SetPhysicsState(s physics.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(s.Qpos) != e.rig.QposSize() {
		return fmt.Errorf("qpos length %d, want %d", len(s.Qpos), e.rig.QposSize())
	}
	qvel := make([]float64, len(e.state.Qvel))
	copy(qvel, s.Qvel)
	e.state = physics.State{Qpos: append([]float64(nil), s.Qpos...), Qvel: qvel}
	return nil
}

func (e *FakeEnvironment) Snapshot() (*physics.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	positions, _ := e.bodyPositionsLocked()
	return &physics.Snapshot{
		Qpos:      append([]float64(nil), e.state.Qpos...),
		Qvel:      append([]float64(nil), e.state.Qvel...),
		BodyPos:   positions,
		BodyNames: e.rig.BodyNames(),
	}, nil
}

func (e *FakeEnvironment) BodyPositions() ([][3]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bodyPositionsLocked()
}

func (e *FakeEnvironment) bodyPositionsLocked() ([][3]float64, error) {
	out := make([][3]float64, e.rig.NumJoints())
	for i := range out {
		out[i] = [3]float64{
			e.state.Qpos[0] + 0.01*float64(i),
			e.state.Qpos[1],
			e.state.Qpos[2] + 0.02*float64(i),
		}
	}
	return out, nil
}

func (e *FakeEnvironment) SetParameter(name string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ParamErr != nil {
		if err := e.ParamErr(name); err != nil {
			return err
		}
	}
	e.Params[name] = value
	return nil
}
