package latent

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nmxmxh/marionette/internal/policy"
	"github.com/nmxmxh/marionette/internal/reward"
	"github.com/nmxmxh/marionette/internal/utils"
)

// Batch-size bounds. The hold-pose pathway always runs the fixed batch
// regardless of the configured size.
const (
	MinBatchSize      = 10
	MaxBatchSize      = 5000
	DefaultBatchSize  = 750
	holdPoseBatchSize = 750
)

// maxEvalWorkers caps the reward evaluation pool.
const maxEvalWorkers = 8

var (
	// ErrComputationInFlight rejects a second computation while one runs.
	ErrComputationInFlight = errors.New("context computation already in progress")

	// ErrInferenceUnavailable is returned while the breaker is open.
	ErrInferenceUnavailable = errors.New("inference unavailable")
)

// ProbeResult is what a temporarily imposed pose looks like to the model.
type ProbeResult struct {
	Observation []float32
	Positions   [][3]float64
	Names       []string
}

// PhysicsProber imposes a qpos on the environment long enough to read the
// resulting observation and body layout, then restores the live state. The
// simulation loop implements it, servicing one probe per tick.
type PhysicsProber interface {
	ProbeState(qpos []float64) (*ProbeResult, error)
}

// Engine turns reward specifications and target poses into context
// vectors: compile, sample, evaluate on a worker pool, infer, cache.
type Engine struct {
	policy  policy.Policy
	buffer  *RewardBuffer
	cache   *Cache
	sampler Sampler
	logger  *utils.Logger
	breaker *gobreaker.CircuitBreaker
	workers int

	busy       atomic.Bool
	batchSize  atomic.Int32
	defaultCtx atomic.Pointer[Context]

	proberMu sync.Mutex
	prober   PhysicsProber
}

// NewEngine wires the engine over its collaborators. The prober is
// attached later, once the simulation loop exists.
func NewEngine(p policy.Policy, buffer *RewardBuffer, cache *Cache, sampler Sampler, logger *utils.Logger) *Engine {
	if logger == nil {
		logger = utils.DefaultLogger("context-engine")
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > maxEvalWorkers {
		workers = maxEvalWorkers
	}

	e := &Engine{
		policy:  p,
		buffer:  buffer,
		cache:   cache,
		sampler: sampler,
		logger:  logger,
		workers: workers,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "policy-inference",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	e.batchSize.Store(DefaultBatchSize)
	return e
}

// DefaultSpec is the cold-start idle stance: stand at 1.4 m, zero speed.
func DefaultSpec() reward.Spec {
	return reward.Spec{
		Rewards: []reward.PrimitiveSpec{{
			Name:   "move-ego",
			Params: reward.Params{"move_speed": 0.0, "stand_height": 1.4},
		}},
		Weights: []float64{1.0},
	}
}

// SetProber attaches the physics prober.
func (e *Engine) SetProber(p PhysicsProber) {
	e.proberMu.Lock()
	e.prober = p
	e.proberMu.Unlock()
}

// SetDefaultContext installs the precomputed idle context used as the
// inference-failure fallback and the clean-state value.
func (e *Engine) SetDefaultContext(ctx *Context) {
	e.defaultCtx.Store(ctx.Clone())
}

// DefaultContext returns the idle context, nil before warmup.
func (e *Engine) DefaultContext() *Context {
	return e.defaultCtx.Load().Clone()
}

// Busy reports whether a computation is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// ContextDim returns the policy's context width.
func (e *Engine) ContextDim() int {
	return e.policy.ContextDim()
}

// BatchSize returns the configured batch size.
func (e *Engine) BatchSize() int {
	return int(e.batchSize.Load())
}

// SetBatchSize reconfigures the batch size within [10, 5000].
func (e *Engine) SetBatchSize(n int) error {
	if n < MinBatchSize || n > MaxBatchSize {
		return fmt.Errorf("batch size %d outside [%d, %d]", n, MinBatchSize, MaxBatchSize)
	}
	e.batchSize.Store(int32(n))
	return nil
}

// ComputeSync runs the full pipeline and blocks. Startup warmup only; the
// dispatcher always goes through ComputeAsync.
func (e *Engine) ComputeSync(spec reward.Spec) (*Context, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrComputationInFlight
	}
	defer e.busy.Store(false)
	return e.compute(spec, e.BatchSize())
}

// ComputeAsync runs the pipeline off the caller's goroutine. onDone
// receives the context or the error; on inference failure both are set
// (the context is the default-idle fallback).
func (e *Engine) ComputeAsync(spec reward.Spec, onDone func(*Context, error)) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrComputationInFlight
	}
	go func() {
		ctx, err := e.compute(spec, e.BatchSize())
		e.busy.Store(false)
		onDone(ctx, err)
	}()
	return nil
}

// MixPoseReward computes the hold-pose context for qpos and the reward
// context for spec concurrently, then blends with weight w toward the
// reward side. An empty spec means "pose only".
func (e *Engine) MixPoseReward(qpos []float64, spec reward.Spec, w float64, strategy MixStrategy) (*Context, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrComputationInFlight
	}
	defer e.busy.Store(false)
	return e.mixPoseReward(qpos, spec, w, strategy)
}

// MixPoseRewardAsync is MixPoseReward off the caller's goroutine.
func (e *Engine) MixPoseRewardAsync(qpos []float64, spec reward.Spec, w float64, strategy MixStrategy, onDone func(*Context, error)) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrComputationInFlight
	}
	go func() {
		ctx, err := e.mixPoseReward(qpos, spec, w, strategy)
		e.busy.Store(false)
		onDone(ctx, err)
	}()
	return nil
}

func (e *Engine) mixPoseReward(qpos []float64, spec reward.Spec, w float64, strategy MixStrategy) (*Context, error) {
	// The probe runs first: it is serviced inside a simulation tick and
	// must not interleave with the batched computations below.
	probe, err := e.probeState(qpos)
	if err != nil {
		return nil, err
	}
	poseSpec, err := holdPoseSpec(qpos, probe)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		poseCtx *Context
		poseErr error
		rewCtx  *Context
		rewErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poseCtx, poseErr = e.compute(poseSpec, holdPoseBatchSize)
	}()
	if !spec.Empty() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rewCtx, rewErr = e.compute(spec, e.BatchSize())
		}()
	}
	wg.Wait()

	if poseErr != nil && poseCtx == nil {
		return nil, poseErr
	}
	if rewErr != nil && rewCtx == nil {
		return nil, rewErr
	}
	if spec.Empty() {
		return poseCtx, poseErr
	}

	values, err := Mix(poseCtx.Values, rewCtx.Values, w, strategy)
	if err != nil {
		return nil, err
	}
	if poseErr == nil {
		err = rewErr
	} else {
		err = poseErr
	}
	return &Context{Values: values}, err
}

// PoseContext maps a target qpos to a context through the selected policy
// entry point.
func (e *Engine) PoseContext(qpos []float64, mode policy.InferenceMode) (*Context, error) {
	probe, err := e.probeState(qpos)
	if err != nil {
		return nil, err
	}
	values, err := e.infer(func() ([]float32, error) {
		return policy.Infer(e.policy, mode, probe.Observation)
	})
	if err != nil {
		if fallback := e.defaultCtx.Load(); fallback != nil {
			return fallback.Clone(), err
		}
		return nil, err
	}
	return &Context{Values: values}, nil
}

// compute is the core pipeline. Callers hold the busy flag.
func (e *Engine) compute(spec reward.Spec, batch int) (*Context, error) {
	started := time.Now()

	fingerprint := reward.Fingerprint(spec)
	if ctx, ok := e.cache.Get(fingerprint); ok {
		e.logger.Debug("Context cache hit", utils.String("key", DiskKey(fingerprint)))
		return ctx, nil
	}

	compiled, err := reward.Compile(spec)
	if err != nil {
		return nil, err
	}

	idx := e.sampler.Draw(batch)
	rewards := e.evaluate(compiled, idx)
	obsBatch := make([][]float32, len(idx))
	for i, j := range idx {
		obsBatch[i] = e.buffer.Sample(j).Observation
	}

	values, err := e.infer(func() ([]float32, error) {
		return e.policy.RewardWeightedInference(obsBatch, rewards)
	})
	if err != nil {
		e.logger.Error("Context inference failed", utils.Err(err))
		if fallback := e.defaultCtx.Load(); fallback != nil {
			return fallback.Clone(), err
		}
		return nil, err
	}

	ctx := &Context{Values: values, Fingerprint: fingerprint}
	if err := e.cache.Put(ctx); err != nil {
		e.logger.Warn("Context not cached", utils.Err(err))
	}

	e.logger.Info("Context computed",
		utils.Int("batch", len(idx)),
		utils.Int("dim", ctx.Dim()),
		utils.Duration("took", time.Since(started)))
	return ctx, nil
}

// evaluate folds the compiled spec over the sampled snapshots on the
// worker pool.
func (e *Engine) evaluate(compiled *reward.Compiled, idx []int) []float32 {
	out := make([]float32, len(idx))
	jobs := make(chan int)

	workers := e.workers
	if workers > len(idx) {
		workers = len(idx)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = float32(compiled.Evaluate(e.buffer.Sample(idx[i]).Snapshot))
			}
		}()
	}
	for i := range idx {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// infer runs one policy call through the circuit breaker and validates the
// returned dimension.
func (e *Engine) infer(call func() ([]float32, error)) ([]float32, error) {
	res, err := e.breaker.Execute(func() (interface{}, error) {
		out, err := call()
		return out, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
		}
		return nil, err
	}
	values, ok := res.([]float32)
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("inference returned no context")
	}
	if dim := e.policy.ContextDim(); len(values) != dim {
		return nil, fmt.Errorf("inference returned dim %d, want %d", len(values), dim)
	}
	return values, nil
}

func (e *Engine) probeState(qpos []float64) (*ProbeResult, error) {
	e.proberMu.Lock()
	prober := e.prober
	e.proberMu.Unlock()
	if prober == nil {
		return nil, fmt.Errorf("physics prober not attached")
	}
	return prober.ProbeState(qpos)
}

// holdPoseSpec synthesizes a position reward pinned to the probed body
// layout, expressed in the pose's own pelvis frame so the fingerprint is
// location-independent.
func holdPoseSpec(qpos []float64, probe *ProbeResult) (reward.Spec, error) {
	pelvisIdx := -1
	for i, n := range probe.Names {
		if n == "Pelvis" {
			pelvisIdx = i
			break
		}
	}
	if pelvisIdx < 0 || len(probe.Positions) != len(probe.Names) {
		return reward.Spec{}, fmt.Errorf("probe result lacks a usable body layout")
	}
	if len(qpos) < 7 {
		return reward.Spec{}, fmt.Errorf("qpos too short for a root pose")
	}

	pelvis := probe.Positions[pelvisIdx]
	w, x, y, z := qpos[3], qpos[4], qpos[5], qpos[6]
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	sin, cos := math.Sincos(yaw)

	// Limbs are pinned in the pelvis frame; the pelvis itself is pinned by
	// absolute height, since its ego offset is identically zero.
	targets := make(map[string]interface{}, len(probe.Names)-1)
	for i, name := range probe.Names {
		if name == "Pelvis" {
			continue
		}
		dx := probe.Positions[i][0] - pelvis[0]
		dy := probe.Positions[i][1] - pelvis[1]
		dz := probe.Positions[i][2] - pelvis[2]
		targets[name] = map[string]interface{}{
			"x":      dx*cos + dy*sin,
			"y":      -dx*sin + dy*cos,
			"z":      dz,
			"margin": 0.15,
		}
	}

	return reward.Spec{
		Rewards: []reward.PrimitiveSpec{
			{Name: "position", Params: reward.Params{"ego_obs": true, "targets": targets}},
			{Name: "pelvis-height", Params: reward.Params{"target_height": pelvis[2], "margin": 0.15}},
		},
		Weights:         []float64{1, 1},
		CombinationType: reward.CombMultiplicative,
	}, nil
}
