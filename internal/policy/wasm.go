package policy

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// WasmPolicy runs the exported model binary inside a wasmer instance.
//
// Expected module ABI (all little-endian float32 through linear memory):
//
//	memory                                             exported memory
//	alloc(size: u32) -> ptr: u32                       bump allocator
//	action_dim() -> u32
//	context_dim() -> u32
//	act(obs, obsLen, ctx, ctxLen, out) -> i32          status, 0 = ok
//	reward_inference(obs, rows, cols, rewards, out) -> i32
//	goal_inference(obs, obsLen, out) -> i32
//	tracking_inference(obs, obsLen, out) -> i32
//	embedding_inference(obs, obsLen, out) -> i32
//	quality(obs, obsLen, ctx, ctxLen) -> f64
//
// The instance is single-threaded; one mutex serializes every call.
type WasmPolicy struct {
	mu       sync.Mutex
	instance *wasmer.Instance
	memory   *wasmer.Memory

	alloc     wasmer.NativeFunction
	act       wasmer.NativeFunction
	rewardInf wasmer.NativeFunction
	goalInf   wasmer.NativeFunction
	trackInf  wasmer.NativeFunction
	embedInf  wasmer.NativeFunction
	quality   wasmer.NativeFunction

	actionDim  int
	contextDim int
}

// LoadWasmPolicy compiles and instantiates the model module at path.
func LoadWasmPolicy(path string) (*WasmPolicy, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy module: %w", err)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile policy module: %w", err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, fmt.Errorf("instantiate policy module: %w", err)
	}

	p := &WasmPolicy{instance: instance}
	if p.memory, err = instance.Exports.GetMemory("memory"); err != nil {
		return nil, fmt.Errorf("policy module exports no memory: %w", err)
	}

	exports := []struct {
		name string
		dst  *wasmer.NativeFunction
	}{
		{"alloc", &p.alloc},
		{"act", &p.act},
		{"reward_inference", &p.rewardInf},
		{"goal_inference", &p.goalInf},
		{"tracking_inference", &p.trackInf},
		{"embedding_inference", &p.embedInf},
		{"quality", &p.quality},
	}
	for _, e := range exports {
		fn, err := instance.Exports.GetFunction(e.name)
		if err != nil {
			return nil, fmt.Errorf("policy module missing export %q: %w", e.name, err)
		}
		*e.dst = fn
	}

	if p.actionDim, err = p.readDim("action_dim"); err != nil {
		return nil, err
	}
	if p.contextDim, err = p.readDim("context_dim"); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *WasmPolicy) readDim(name string) (int, error) {
	fn, err := p.instance.Exports.GetFunction(name)
	if err != nil {
		return 0, fmt.Errorf("policy module missing export %q: %w", name, err)
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
func (p *WasmPolicy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance != nil {
		p.instance.Close()
		p.instance = nil
	}
}

func (p *WasmPolicy) ActionDim() int  { return p.actionDim }
func (p *WasmPolicy) ContextDim() int { return p.contextDim }

// allocBlock reserves size bytes in module memory and returns the offset.
func (p *WasmPolicy) allocBlock(size int) (int32, error) {
	raw, err := p.alloc(int32(size))
	if err != nil {
		return 0, fmt.Errorf("wasm alloc(%d): %w", size, err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, fmt.Errorf("wasm alloc returned %v", raw)
	}
	return ptr, nil
}

// writeFloats copies vals into module memory at off. Must run after every
// alloc for the call: growth can remap the backing slice.
func (p *WasmPolicy) writeFloats(off int32, vals []float32) {
	data := p.memory.Data()
	base := int(off)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[base+4*i:], math.Float32bits(v))
	}
}

func (p *WasmPolicy) readFloats(off int32, n int) []float32 {
	data := p.memory.Data()
	base := int(off)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[base+4*i:]))
	}
	return out
}

func statusErr(entry string, raw interface{}, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", entry, err)
	}
	if code, ok := raw.(int32); ok && code != 0 {
		return fmt.Errorf("%s: status %d", entry, code)
	}
	return nil
}

// Act implements Policy.
func (p *WasmPolicy) Act(obs, ctx []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obsPtr, err := p.allocBlock(4 * len(obs))
	if err != nil {
		return nil, err
	}
	ctxPtr, err := p.allocBlock(4 * len(ctx))
	if err != nil {
		return nil, err
	}
	outPtr, err := p.allocBlock(4 * p.actionDim)
	if err != nil {
		return nil, err
	}
	p.writeFloats(obsPtr, obs)
	p.writeFloats(ctxPtr, ctx)

	raw, err := p.act(obsPtr, int32(len(obs)), ctxPtr, int32(len(ctx)), outPtr)
	if err := statusErr("act", raw, err); err != nil {
		return nil, err
	}
	return p.readFloats(outPtr, p.actionDim), nil
}

// RewardWeightedInference implements Policy. The batch is flattened
// row-major; rows must be uniform width.
func (p *WasmPolicy) RewardWeightedInference(obsBatch [][]float32, rewards []float32) ([]float32, error) {
	if len(obsBatch) == 0 {
		return nil, fmt.Errorf("reward inference on empty batch")
	}
	if len(obsBatch) != len(rewards) {
		return nil, fmt.Errorf("reward inference: %d observations, %d rewards", len(obsBatch), len(rewards))
	}
	cols := len(obsBatch[0])
	flat := make([]float32, 0, len(obsBatch)*cols)
	for i, row := range obsBatch {
		if len(row) != cols {
			return nil, fmt.Errorf("reward inference: row %d width %d, want %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	obsPtr, err := p.allocBlock(4 * len(flat))
	if err != nil {
		return nil, err
	}
	rewPtr, err := p.allocBlock(4 * len(rewards))
	if err != nil {
		return nil, err
	}
	outPtr, err := p.allocBlock(4 * p.contextDim)
	if err != nil {
		return nil, err
	}
	p.writeFloats(obsPtr, flat)
	p.writeFloats(rewPtr, rewards)

	raw, err := p.rewardInf(obsPtr, int32(len(obsBatch)), int32(cols), rewPtr, outPtr)
	if err := statusErr("reward_inference", raw, err); err != nil {
		return nil, err
	}
	return p.readFloats(outPtr, p.contextDim), nil
}

func (p *WasmPolicy) poseInference(entry string, fn wasmer.NativeFunction, obs []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obsPtr, err := p.allocBlock(4 * len(obs))
	if err != nil {
		return nil, err
	}
	outPtr, err := p.allocBlock(4 * p.contextDim)
	if err != nil {
		return nil, err
	}
	p.writeFloats(obsPtr, obs)

	raw, err := fn(obsPtr, int32(len(obs)), outPtr)
	if err := statusErr(entry, raw, err); err != nil {
		return nil, err
	}
	return p.readFloats(outPtr, p.contextDim), nil
}

// GoalInference implements Policy.
func (p *WasmPolicy) GoalInference(obs []float32) ([]float32, error) {
	return p.poseInference("goal_inference", p.goalInf, obs)
}

// TrackingInference implements Policy.
func (p *WasmPolicy) TrackingInference(obs []float32) ([]float32, error) {
	return p.poseInference("tracking_inference", p.trackInf, obs)
}

// EmbeddingInference implements Policy.
func (p *WasmPolicy) EmbeddingInference(obs []float32) ([]float32, error) {
	return p.poseInference("embedding_inference", p.embedInf, obs)
}

// Quality implements Policy.
func (p *WasmPolicy) Quality(obs, ctx []float32) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obsPtr, err := p.allocBlock(4 * len(obs))
	if err != nil {
		return 0, err
	}
	ctxPtr, err := p.allocBlock(4 * len(ctx))
	if err != nil {
		return 0, err
	}
	p.writeFloats(obsPtr, obs)
	p.writeFloats(ctxPtr, ctx)

	raw, err := p.quality(obsPtr, int32(len(obs)), ctxPtr, int32(len(ctx)))
	if err != nil {
		return 0, fmt.Errorf("quality: %w", err)
	}
	score, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("quality returned %v", raw)
	}
	return score, nil
}
