package physics

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// WasmEnvironment drives a compiled simulator module through wasmer.
//
// Expected module ABI (f64 state, f32 observations, little-endian):
//
//	memory                                           exported memory
//	alloc(size: u32) -> ptr: u32
//	qpos_size() -> u32
//	qvel_size() -> u32
//	obs_size() -> u32
//	frame_width() -> u32
//	frame_height() -> u32
//	reset(outObs) -> i32                             0 ok, <0 error
//	step(action, actionLen, outObs) -> i32           1 terminated
//	observe(outObs) -> i32
//	render(outRgb) -> i32                            w*h*3 bytes
//	get_state(outQpos, outQvel) -> i32
//	set_state(qpos, qposLen, qvel, qvelLen) -> i32
//	body_positions(out) -> i32                       bodies*3 f64
//	set_parameter(name, nameLen, value: f64) -> i32
type WasmEnvironment struct {
	mu       sync.Mutex
	instance *wasmer.Instance
	memory   *wasmer.Memory
	rig      *Rig

	alloc    wasmer.NativeFunction
	reset    wasmer.NativeFunction
	step     wasmer.NativeFunction
	observe  wasmer.NativeFunction
	render   wasmer.NativeFunction
	getState wasmer.NativeFunction
	setState wasmer.NativeFunction
	bodyPos  wasmer.NativeFunction
	setParam wasmer.NativeFunction

	qposSize int
	qvelSize int
	obsSize  int
	width    int
	height   int

	lastCtrl []float64
}

// LoadWasmEnvironment compiles and instantiates the simulator module at
// path for the standard humanoid rig.
func LoadWasmEnvironment(path string) (*WasmEnvironment, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read environment module: %w", err)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile environment module: %w", err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, fmt.Errorf("instantiate environment module: %w", err)
	}

	e := &WasmEnvironment{instance: instance, rig: DefaultHumanoidRig()}
	if e.memory, err = instance.Exports.GetMemory("memory"); err != nil {
		return nil, fmt.Errorf("environment module exports no memory: %w", err)
	}

	exports := []struct {
		name string
		dst  *wasmer.NativeFunction
	}{
		{"alloc", &e.alloc},
		{"reset", &e.reset},
		{"step", &e.step},
		{"observe", &e.observe},
		{"render", &e.render},
		{"get_state", &e.getState},
		{"set_state", &e.setState},
		{"body_positions", &e.bodyPos},
		{"set_parameter", &e.setParam},
	}
	for _, ex := range exports {
		fn, err := instance.Exports.GetFunction(ex.name)
		if err != nil {
			return nil, fmt.Errorf("environment module missing export %q: %w", ex.name, err)
		}
		*ex.dst = fn
	}

	dims := []struct {
		name string
		dst  *int
	}{
		{"qpos_size", &e.qposSize},
		{"qvel_size", &e.qvelSize},
		{"obs_size", &e.obsSize},
		{"frame_width", &e.width},
		{"frame_height", &e.height},
	}
	for _, d := range dims {
		if *d.dst, err = e.readDim(d.name); err != nil {
			return nil, err
		}
	}
	if e.qposSize != e.rig.QposSize() {
		return nil, fmt.Errorf("environment qpos size %d, rig wants %d", e.qposSize, e.rig.QposSize())
	}
	return e, nil
}

func (e *WasmEnvironment) readDim(name string) (int, error) {
	fn, err := e.instance.Exports.GetFunction(name)
	if err != nil {
		return 0, fmt.Errorf("environment module missing export %q: %w", name, err)
	}
	raw, err := fn()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	dim, ok := raw.(int32)
	if !ok || dim <= 0 {
		return 0, fmt.Errorf("%s returned %v", name, raw)
	}
	return int(dim), nil
}

// Close releases the wasm instance.
func (e *WasmEnvironment) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance != nil {
		e.instance.Close()
		e.instance = nil
	}
}

// Rig implements Environment.
func (e *WasmEnvironment) Rig() *Rig { return e.rig }

func (e *WasmEnvironment) allocBlock(size int) (int32, error) {
	raw, err := e.alloc(int32(size))
	if err != nil {
		return 0, fmt.Errorf("wasm alloc(%d): %w", size, err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, fmt.Errorf("wasm alloc returned %v", raw)
	}
	return ptr, nil
}

// Memory writes run after every alloc for a call: growth can remap the
// backing slice.
func (e *WasmEnvironment) writeF32(off int32, vals []float32) {
	data := e.memory.Data()
	base := int(off)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[base+4*i:], math.Float32bits(v))
	}
}

func (e *WasmEnvironment) writeF64(off int32, vals []float64) {
	data := e.memory.Data()
	base := int(off)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[base+8*i:], math.Float64bits(v))
	}
}

func (e *WasmEnvironment) readF32(off int32, n int) []float32 {
	data := e.memory.Data()
	base := int(off)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[base+4*i:]))
	}
	return out
}

func (e *WasmEnvironment) readF64(off int32, n int) []float64 {
	data := e.memory.Data()
	base := int(off)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[base+8*i:]))
	}
	return out
}

func envStatus(entry string, raw interface{}, err error) (int32, error) {
	if err != nil {
		return 0, fmt.Errorf("%s: %w", entry, err)
	}
	code, ok := raw.(int32)
	if !ok {
		return 0, fmt.Errorf("%s returned %v", entry, raw)
	}
	if code < 0 {
		return 0, fmt.Errorf("%s: status %d", entry, code)
	}
	return code, nil
}

// Reset implements Environment.
func (e *WasmEnvironment) Reset() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	outPtr, err := e.allocBlock(4 * e.obsSize)
	if err != nil {
		return nil, err
	}
	raw, err := e.reset(outPtr)
	if _, err := envStatus("reset", raw, err); err != nil {
		return nil, err
	}
	e.lastCtrl = nil
	return e.readF32(outPtr, e.obsSize), nil
}

// Step implements Environment.
func (e *WasmEnvironment) Step(action []float32) ([]float32, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	actPtr, err := e.allocBlock(4 * len(action))
	if err != nil {
		return nil, false, err
	}
	outPtr, err := e.allocBlock(4 * e.obsSize)
	if err != nil {
		return nil, false, err
	}
	e.writeF32(actPtr, action)

	raw, err := e.step(actPtr, int32(len(action)), outPtr)
	code, err := envStatus("step", raw, err)
	if err != nil {
		return nil, false, err
	}

	ctrl := make([]float64, len(action))
	for i, a := range action {
		ctrl[i] = float64(a)
	}
	e.lastCtrl = ctrl

	return e.readF32(outPtr, e.obsSize), code == 1, nil
}

// Observation implements Environment.
func (e *WasmEnvironment) Observation() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	outPtr, err := e.allocBlock(4 * e.obsSize)
	if err != nil {
		return nil, err
	}
	raw, err := e.observe(outPtr)
	if _, err := envStatus("observe", raw, err); err != nil {
		return nil, err
	}
	return e.readF32(outPtr, e.obsSize), nil
}

// Render implements Environment.
func (e *WasmEnvironment) Render() (*Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	size := e.width * e.height * 3
	outPtr, err := e.allocBlock(size)
	if err != nil {
		return nil, err
	}
	raw, err := e.render(outPtr)
	if _, err := envStatus("render", raw, err); err != nil {
		return nil, err
	}

	frame := NewFrame(e.width, e.height)
	copy(frame.Pixels, e.memory.Data()[int(outPtr):int(outPtr)+size])
	return frame, nil
}

// GetPhysicsState implements Environment.
func (e *WasmEnvironment) GetPhysicsState() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	qposPtr, err := e.allocBlock(8 * e.qposSize)
	if err != nil {
		return State{}, err
	}
	qvelPtr, err := e.allocBlock(8 * e.qvelSize)
	if err != nil {
		return State{}, err
	}
	raw, err := e.getState(qposPtr, qvelPtr)
	if _, err := envStatus("get_state", raw, err); err != nil {
		return State{}, err
	}
	return State{
		Qpos: e.readF64(qposPtr, e.qposSize),
		Qvel: e.readF64(qvelPtr, e.qvelSize),
	}, nil
}

// SetPhysicsState implements Environment. A short or missing Qvel is
// zero-filled.
func (e *WasmEnvironment) SetPhysicsState(s State) error {
	if len(s.Qpos) != e.qposSize {
		return fmt.Errorf("qpos length %d, want %d", len(s.Qpos), e.qposSize)
	}
	qvel := s.Qvel
	if len(qvel) < e.qvelSize {
		qvel = make([]float64, e.qvelSize)
		copy(qvel, s.Qvel)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	qposPtr, err := e.allocBlock(8 * e.qposSize)
	if err != nil {
		return err
	}
	qvelPtr, err := e.allocBlock(8 * e.qvelSize)
	if err != nil {
		return err
	}
	e.writeF64(qposPtr, s.Qpos)
	e.writeF64(qvelPtr, qvel)

	raw, err := e.setState(qposPtr, int32(e.qposSize), qvelPtr, int32(e.qvelSize))
	_, err = envStatus("set_state", raw, err)
	return err
}

// BodyPositions implements Environment.
func (e *WasmEnvironment) BodyPositions() ([][3]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bodyPositionsLocked()
}

func (e *WasmEnvironment) bodyPositionsLocked() ([][3]float64, error) {
	n := e.rig.NumJoints()
	outPtr, err := e.allocBlock(8 * 3 * n)
	if err != nil {
		return nil, err
	}
	raw, err := e.bodyPos(outPtr)
	if _, err := envStatus("body_positions", raw, err); err != nil {
		return nil, err
	}

	flat := e.readF64(outPtr, 3*n)
	out := make([][3]float64, n)
	for i := range out {
		out[i] = [3]float64{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}
	return out, nil
}

// Snapshot implements Environment. Ctrl is the most recently applied
// action.
func (e *WasmEnvironment) Snapshot() (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	qposPtr, err := e.allocBlock(8 * e.qposSize)
	if err != nil {
		return nil, err
	}
	qvelPtr, err := e.allocBlock(8 * e.qvelSize)
	if err != nil {
		return nil, err
	}
	raw, err := e.getState(qposPtr, qvelPtr)
	if _, err := envStatus("get_state", raw, err); err != nil {
		return nil, err
	}
	qpos := e.readF64(qposPtr, e.qposSize)
	qvel := e.readF64(qvelPtr, e.qvelSize)

	positions, err := e.bodyPositionsLocked()
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Qpos:      qpos,
		Qvel:      qvel,
		Ctrl:      append([]float64(nil), e.lastCtrl...),
		BodyPos:   positions,
		BodyNames: e.rig.BodyNames(),
	}, nil
}

// SetParameter implements Environment.
func (e *WasmEnvironment) SetParameter(name string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	namePtr, err := e.allocBlock(len(name))
	if err != nil {
		return err
	}
	copy(e.memory.Data()[int(namePtr):], name)

	raw, err := e.setParam(namePtr, int32(len(name)), value)
	_, err = envStatus("set_parameter", raw, err)
	return err
}
