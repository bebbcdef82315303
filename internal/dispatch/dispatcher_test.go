package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/marionette/internal/broadcast"
	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/policy"
	"github.com/nmxmxh/marionette/internal/recording"
	"github.com/nmxmxh/marionette/internal/reward"
	"github.com/nmxmxh/marionette/internal/simloop"
	"github.com/nmxmxh/marionette/internal/utils"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// replySink collects replies the dispatcher sends to one peer, decoded
// to maps so tests assert on wire keys.
type replySink struct {
	mu      sync.Mutex
	replies []map[string]interface{}
}

func (s *replySink) ID() string { return "peer-under-test" }

func (s *replySink) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, m)
	return nil
}

func (s *replySink) all() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.replies...)
}

func (s *replySink) last(t *testing.T) map[string]interface{} {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.replies, "expected at least one reply")
	return s.replies[len(s.replies)-1]
}

func (s *replySink) ofType(typ string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]interface{}
	for _, r := range s.replies {
		if r["type"] == typ {
			out = append(out, r)
		}
	}
	return out
}

// fakeEngine scripts the latent engine. Computations stay pending until
// the test completes them, which pins down the async ordering.
type fakeEngine struct {
	mu         sync.Mutex
	busy       bool
	batch      int
	dim        int
	defaultCtx *latent.Context

	poseCtx *latent.Context
	poseErr error

	specs   []reward.Spec
	mixes   []mixCall
	poses   []poseCall
	pending []func(*latent.Context, error)
}

type mixCall struct {
	qpos     []float64
	spec     reward.Spec
	weight   float64
	strategy latent.MixStrategy
}

type poseCall struct {
	qpos []float64
	mode policy.InferenceMode
}

func newFakeEngine(dim int) *fakeEngine {
	return &fakeEngine{
		batch:      latent.DefaultBatchSize,
		dim:        dim,
		defaultCtx: &latent.Context{Values: make([]float32, dim)},
	}
}

func (e *fakeEngine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func (e *fakeEngine) BatchSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batch
}

func (e *fakeEngine) SetBatchSize(n int) error {
	if n < latent.MinBatchSize || n > latent.MaxBatchSize {
		return fmt.Errorf("batch size %d outside [%d, %d]", n, latent.MinBatchSize, latent.MaxBatchSize)
	}
	e.mu.Lock()
	e.batch = n
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) ContextDim() int { return e.dim }

func (e *fakeEngine) DefaultContext() *latent.Context {
	return e.defaultCtx.Clone()
}

func (e *fakeEngine) schedule(onDone func(*latent.Context, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return latent.ErrComputationInFlight
	}
	e.busy = true
	e.pending = append(e.pending, onDone)
	return nil
}

func (e *fakeEngine) ComputeAsync(spec reward.Spec, onDone func(*latent.Context, error)) error {
	if err := e.schedule(onDone); err != nil {
		return err
	}
	e.mu.Lock()
	e.specs = append(e.specs, spec.Clone())
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) MixPoseRewardAsync(qpos []float64, spec reward.Spec, w float64, strategy latent.MixStrategy, onDone func(*latent.Context, error)) error {
	if err := e.schedule(onDone); err != nil {
		return err
	}
	e.mu.Lock()
	e.mixes = append(e.mixes, mixCall{
		qpos:     append([]float64(nil), qpos...),
		spec:     spec.Clone(),
		weight:   w,
		strategy: strategy,
	})
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) PoseContext(qpos []float64, mode policy.InferenceMode) (*latent.Context, error) {
	e.mu.Lock()
	e.poses = append(e.poses, poseCall{qpos: append([]float64(nil), qpos...), mode: mode})
	ctx, err := e.poseCtx, e.poseErr
	e.mu.Unlock()
	if ctx != nil {
		ctx = ctx.Clone()
	}
	return ctx, err
}

// complete finishes the oldest pending computation.
func (e *fakeEngine) complete(t *testing.T, ctx *latent.Context, err error) {
	t.Helper()
	e.mu.Lock()
	require.NotEmpty(t, e.pending, "no computation in flight")
	onDone := e.pending[0]
	e.pending = e.pending[1:]
	e.busy = false
	e.mu.Unlock()
	onDone(ctx, err)
}

func (e *fakeEngine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// fakeSim answers the loop surface without a loop.
type fakeSim struct {
	mu        sync.Mutex
	rig       *physics.Rig
	positions [][3]float64
	params    map[string]float64
	rejects   map[string]string
	resetErr  error
	resets    int
}

func newFakeSim() *fakeSim {
	rig := physics.DefaultHumanoidRig()
	return &fakeSim{
		rig:       rig,
		positions: make([][3]float64, rig.NumJoints()),
		params:    make(map[string]float64),
	}
}

func (s *fakeSim) ApplyParameters(params map[string]float64) ([]string, map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := make([]string, 0, len(params))
	failed := make(map[string]string)
	for name, value := range params {
		if msg, bad := s.rejects[name]; bad {
			failed[name] = msg
			continue
		}
		s.params[name] = value
		applied = append(applied, name)
	}
	sort.Strings(applied)
	if len(failed) == 0 {
		failed = nil
	}
	return applied, failed, nil
}

func (s *fakeSim) TargetPositions() ([][3]float64, []string, error) {
	return s.positions, s.rig.BodyNames(), nil
}

func (s *fakeSim) ResetEnvironment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return s.resetErr
}

func (s *fakeSim) Rig() *physics.Rig { return s.rig }

func (s *fakeSim) Stats() simloop.Stats {
	return simloop.Stats{Running: true, TargetFPS: 30}
}

func (s *fakeSim) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// fakeRecorder scripts the recording manager.
type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	frameErr error
	result   *recording.Result
}

func (r *fakeRecorder) start(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return "", r.startErr
	}
	return id, nil
}

func (r *fakeRecorder) stop() (*recording.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	return r.result, nil
}

func (r *fakeRecorder) StartTrajectory() (string, error) { return r.start("rec-0001") }

func (r *fakeRecorder) StopTrajectory() (*recording.Result, error) { return r.stop() }

func (r *fakeRecorder) StartVideo() (string, error) { return r.start("vid-0001") }

func (r *fakeRecorder) StopVideo() (*recording.Result, error) { return r.stop() }

func (r *fakeRecorder) CaptureFrame() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return "/tmp/frames/current_frame.jpg", r.frameErr
}

func (r *fakeRecorder) MakeSnapshot() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return "/tmp/frames/snapshot-0001.jpg", r.frameErr
}

func (r *fakeRecorder) Stats() recording.Stats { return recording.Stats{} }

type fixture struct {
	t        *testing.T
	engine   *fakeEngine
	sim      *fakeSim
	recorder *fakeRecorder
	registry *broadcast.Registry
	state    *State
	d        *Dispatcher
	peer     *replySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		engine: newFakeEngine(8),
		sim:    newFakeSim(),
		recorder: &fakeRecorder{
			result: &recording.Result{
				Mode:        recording.ModeTrajectory,
				ID:          "rec-0001",
				DownloadURL: "/downloads/trajectory-rec-0001.zip",
				Frames:      42,
				Duration:    1500 * time.Millisecond,
			},
		},
		registry: broadcast.NewRegistry(quietLogger()),
		state:    NewState(),
		peer:     &replySink{},
	}
	t.Cleanup(f.registry.Close)

	d, err := New(Deps{
		Engine:   f.engine,
		Registry: f.registry,
		Recorder: f.recorder,
		Sim:      f.sim,
		State:    f.state,
		Logger:   utils.DefaultLogger("dispatch-test"),
	})
	require.NoError(t, err)
	f.d = d
	return f
}

func (f *fixture) dispatch(msg map[string]interface{}) {
	f.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(f.t, err)
	f.d.Dispatch(f.peer, data)
}

func (f *fixture) requestReward() {
	f.t.Helper()
	f.dispatch(map[string]interface{}{
		"type":    "request_reward",
		"rewards": []map[string]interface{}{{"name": "move-ego", "move_speed": 2.0, "stand_height": 1.4}},
		"weights": []float64{1},
	})
}

func ramp(dim int, base float32) []float32 {
	out := make([]float32, dim)
	for i := range out {
		out[i] = base + float32(i)*0.01
	}
	return out
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	base := func() Deps {
		return Deps{
			Engine:   newFakeEngine(4),
			Registry: broadcast.NewRegistry(quietLogger()),
			Recorder: &fakeRecorder{},
			Sim:      newFakeSim(),
			State:    NewState(),
		}
	}

	cases := map[string]func(*Deps){
		"engine":     func(d *Deps) { d.Engine = nil },
		"registry":   func(d *Deps) { d.Registry = nil },
		"recorder":   func(d *Deps) { d.Recorder = nil },
		"simulation": func(d *Deps) { d.Sim = nil },
		"state":      func(d *Deps) { d.State = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			deps := base()
			mutate(&deps)
			_, err := New(deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}

	// Sessions stays optional.
	deps := base()
	d, err := New(deps)
	require.NoError(t, err)
	assert.Same(t, deps.State, d.State())
}

func TestDispatch_MalformedAndUnknownCommands(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(f.peer, []byte("{not json"))
	assert.Equal(t, "message_error", f.peer.last(t)["type"])

	f.dispatch(map[string]interface{}{"payload": "no type"})
	assert.Equal(t, "message_error", f.peer.last(t)["type"])

	f.dispatch(map[string]interface{}{"type": "warp_drive"})
	last := f.peer.last(t)
	assert.Equal(t, "warp_drive_error", last["type"])
	assert.Contains(t, last["error"], "unknown command")

	ts, ok := last["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}

func TestDispatch_RequestRewardLifecycle(t *testing.T) {
	f := newFixture(t)
	f.requestReward()

	// 1. The ack and the started status go out before any result exists.
	replies := f.peer.all()
	require.Len(t, replies, 2)
	ack := replies[0]
	assert.Equal(t, "reward", ack["type"])
	assert.Equal(t, true, ack["is_computing"])
	messageID, _ := ack["message_id"].(string)
	assert.NotEmpty(t, messageID)
	assert.Equal(t, "reward_computation_status", replies[1]["type"])
	assert.Equal(t, "started", replies[1]["status"])
	assert.Equal(t, messageID, replies[1]["message_id"])

	// 2. The engine got the parsed specification.
	require.Len(t, f.engine.specs, 1)
	assert.Equal(t, "move-ego", f.engine.specs[0].Rewards[0].Name)
	assert.InDelta(t, 2.0, f.engine.specs[0].Rewards[0].Params["move_speed"], 1e-9)
	assert.Nil(t, f.state.ActiveContext())

	// 3. Completion applies the context and reports the terminal status.
	done := &latent.Context{Values: ramp(8, 1), CacheFile: "cache/0f.ctx.br"}
	f.engine.complete(t, done, nil)

	last := f.peer.last(t)
	assert.Equal(t, "reward_computation_status", last["type"])
	assert.Equal(t, "completed", last["status"])
	assert.Equal(t, messageID, last["message_id"])

	require.NotNil(t, f.state.ActiveContext())
	assert.Equal(t, float32(1), f.state.ActiveContext().Values[0])
	spec, source := f.state.Active()
	require.NotNil(t, spec)
	assert.Equal(t, "move-ego", spec.Rewards[0].Name)
	assert.Empty(t, source)
}

func TestDispatch_SecondRequestWhileBusyIsRejected(t *testing.T) {
	f := newFixture(t)
	f.requestReward()
	f.requestReward()

	// The second command is answered immediately and starts nothing.
	assert.Equal(t, "computing_in_progress", f.peer.last(t)["type"])
	assert.Equal(t, 1, f.engine.pendingCount())

	f.engine.complete(t, &latent.Context{Values: ramp(8, 0)}, nil)
	completed := f.peer.ofType("reward_computation_status")
	statuses := make([]string, 0, len(completed))
	for _, s := range completed {
		statuses = append(statuses, s["status"].(string))
	}
	assert.Equal(t, []string{"started", "completed"}, statuses)
}

func TestDispatch_EmptyRewardRequestBehavesAsClean(t *testing.T) {
	f := newFixture(t)
	f.dispatch(map[string]interface{}{
		"type":    "request_reward",
		"rewards": []map[string]interface{}{},
	})

	assert.Equal(t, "clean_rewards", f.peer.last(t)["type"])
	assert.Equal(t, 1, f.sim.resetCount())
	require.NotNil(t, f.state.ActiveContext())
	assert.Equal(t, float32(0), f.state.ActiveContext().Values[0])
	assert.Equal(t, 0, f.engine.pendingCount())
}

func TestDispatch_CleanRewardsReportsResetFailure(t *testing.T) {
	f := newFixture(t)
	f.sim.resetErr = errors.New("environment wedged")

	f.dispatch(map[string]interface{}{"type": "clean_rewards"})

	last := f.peer.last(t)
	assert.Equal(t, "clean_rewards", last["type"])
	assert.Contains(t, last["error"], "wedged")
}

func TestDispatch_StaleCompletionIsDiscarded(t *testing.T) {
	f := newFixture(t)

	// 1. Seed a known context, then schedule a computation against it.
	f.dispatch(map[string]interface{}{
		"type":   "load_npz_context",
		"values": ramp(8, 0.5),
	})
	f.requestReward()

	// 2. Clearing with preserve_z keeps the live context but moves the
	// slot generation past the scheduled computation.
	f.dispatch(map[string]interface{}{"type": "clear_active_rewards", "preserve_z": true})
	cleared := f.peer.last(t)
	assert.Equal(t, "rewards_cleared", cleared["type"])
	assert.Equal(t, true, cleared["preserve_z"])
	assert.Equal(t, float32(0.5), f.state.ActiveContext().Values[0])

	// 3. The late result still reports completion but never lands.
	f.engine.complete(t, &latent.Context{Values: ramp(8, 9)}, nil)
	assert.Equal(t, "completed", f.peer.last(t)["status"])
	assert.Equal(t, float32(0.5), f.state.ActiveContext().Values[0])
	spec, _ := f.state.Active()
	assert.Nil(t, spec)
}

func TestDispatch_ClearWithoutPreserveRestoresDefault(t *testing.T) {
	f := newFixture(t)
	f.dispatch(map[string]interface{}{
		"type":   "load_npz_context",
		"values": ramp(8, 0.5),
	})

	f.dispatch(map[string]interface{}{"type": "clear_active_rewards"})

	last := f.peer.last(t)
	assert.Equal(t, "rewards_cleared", last["type"])
	assert.Equal(t, false, last["preserve_z"])
	assert.Equal(t, float32(0), f.state.ActiveContext().Values[0])
}

func TestDispatch_ComputationErrorKeepsFallbackAndReports(t *testing.T) {
	f := newFixture(t)
	f.requestReward()

	fallback := &latent.Context{Values: ramp(8, 0)}
	f.engine.complete(t, fallback, errors.New("sampler empty"))

	last := f.peer.last(t)
	assert.Equal(t, "reward_computation_status", last["type"])
	assert.Equal(t, "error", last["status"])
	assert.Contains(t, last["error"], "sampler empty")

	// The fallback context still landed.
	require.NotNil(t, f.state.ActiveContext())
	assert.Equal(t, float32(0), f.state.ActiveContext().Values[0])
}

func TestDispatch_UpdateRewardValidation(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "update_reward", "index": 0})
	assert.Equal(t, "update_reward_error", f.peer.last(t)["type"])
	assert.Contains(t, f.peer.last(t)["error"], "no active reward")

	// Seed an applied specification.
	f.requestReward()
	f.engine.complete(t, &latent.Context{Values: ramp(8, 1)}, nil)

	f.dispatch(map[string]interface{}{"type": "update_reward", "parameters": map[string]interface{}{"move_speed": 3.5}})
	assert.Contains(t, f.peer.last(t)["error"], "missing reward index")

	f.dispatch(map[string]interface{}{"type": "update_reward", "index": 5})
	assert.Contains(t, f.peer.last(t)["error"], "out of range")
}

func TestDispatch_UpdateRewardMergesParameters(t *testing.T) {
	f := newFixture(t)
	f.requestReward()
	f.engine.complete(t, &latent.Context{Values: ramp(8, 1)}, nil)

	f.dispatch(map[string]interface{}{
		"type":       "update_reward",
		"index":      0,
		"parameters": map[string]interface{}{"move_speed": 3.5},
	})

	ack := f.peer.ofType("reward_updated")
	require.Len(t, ack, 1)
	assert.Equal(t, true, ack[0]["is_computing"])

	// The engine recomputes the merged spec: untouched params survive.
	require.Len(t, f.engine.specs, 2)
	merged := f.engine.specs[1].Rewards[0]
	assert.InDelta(t, 3.5, merged.Params["move_speed"], 1e-9)
	assert.InDelta(t, 1.4, merged.Params["stand_height"], 1e-9)

	f.engine.complete(t, &latent.Context{Values: ramp(8, 2)}, nil)
	spec, _ := f.state.Active()
	require.NotNil(t, spec)
	assert.InDelta(t, 3.5, spec.Rewards[0].Params["move_speed"], 1e-9)
}

func TestDispatch_MixPoseRewardValidation(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "mix_pose_reward"})
	assert.Contains(t, f.peer.last(t)["error"], "missing qpos")

	qpos := make([]float64, f.sim.Rig().QposSize())
	f.dispatch(map[string]interface{}{"type": "mix_pose_reward", "qpos": qpos, "weight": 1.5})
	assert.Equal(t, "mix_pose_reward_error", f.peer.last(t)["type"])
	assert.Contains(t, f.peer.last(t)["error"], "outside [0, 1]")

	f.dispatch(map[string]interface{}{"type": "mix_pose_reward", "qpos": qpos, "strategy": "warp"})
	assert.Equal(t, "mix_pose_reward_error", f.peer.last(t)["type"])
	assert.Equal(t, 0, f.engine.pendingCount())
}

func TestDispatch_MixPoseRewardSchedulesMix(t *testing.T) {
	f := newFixture(t)
	qpos := make([]float64, f.sim.Rig().QposSize())
	qpos[2] = 1.3

	f.dispatch(map[string]interface{}{
		"type":     "mix_pose_reward",
		"qpos":     qpos,
		"weight":   0.25,
		"strategy": "slerp",
		"rewards":  []map[string]interface{}{{"name": "move-ego", "move_speed": 1.0}},
		"weights":  []float64{1},
	})

	ack := f.peer.ofType("mix_reward_only_updated")
	require.Len(t, ack, 1)

	require.Len(t, f.engine.mixes, 1)
	call := f.engine.mixes[0]
	assert.InDelta(t, 0.25, call.weight, 1e-9)
	assert.Equal(t, latent.MixSlerp, call.strategy)
	assert.InDelta(t, 1.3, call.qpos[2], 1e-9)
	assert.Equal(t, "move-ego", call.spec.Rewards[0].Name)

	f.engine.complete(t, &latent.Context{Values: ramp(8, 3)}, nil)
	spec, source := f.state.Active()
	require.NotNil(t, spec)
	assert.Equal(t, "mix", source)
}

func TestDispatch_MixPoseRewardWithoutRewardsIsPoseOnly(t *testing.T) {
	f := newFixture(t)
	f.dispatch(map[string]interface{}{
		"type": "mix_pose_reward",
		"qpos": make([]float64, f.sim.Rig().QposSize()),
	})

	require.Len(t, f.engine.mixes, 1)
	assert.InDelta(t, 0.5, f.engine.mixes[0].weight, 1e-9)
	assert.Equal(t, latent.MixLinear, f.engine.mixes[0].strategy)

	f.engine.complete(t, &latent.Context{Values: ramp(8, 3)}, nil)
	spec, source := f.state.Active()
	assert.Nil(t, spec)
	assert.Equal(t, "mix", source)
}

func TestDispatch_LoadPoseAppliesContext(t *testing.T) {
	f := newFixture(t)
	f.engine.poseCtx = &latent.Context{Values: ramp(8, 0.7)}
	qpos := make([]float64, f.sim.Rig().QposSize())
	qpos[2] = 0.9

	f.dispatch(map[string]interface{}{"type": "load_pose", "qpos": qpos, "mode": "tracking"})

	last := f.peer.last(t)
	assert.Equal(t, "pose_loaded", last["type"])
	assert.Equal(t, "tracking", last["mode"])

	require.Len(t, f.engine.poses, 1)
	assert.Equal(t, policy.ModeTracking, f.engine.poses[0].mode)
	assert.InDelta(t, 0.9, f.engine.poses[0].qpos[2], 1e-9)

	assert.Equal(t, float32(0.7), f.state.ActiveContext().Values[0])
	_, source := f.state.Active()
	assert.Equal(t, "pose:tracking", source)
}

func TestDispatch_LoadPoseRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "load_pose", "mode": "tracking"})
	assert.Contains(t, f.peer.last(t)["error"], "missing qpos")

	f.dispatch(map[string]interface{}{"type": "load_pose", "qpos": []float64{1}, "mode": "dance"})
	assert.Equal(t, "load_pose_error", f.peer.last(t)["type"])
	assert.Contains(t, f.peer.last(t)["error"], "unknown inference mode")
}

func TestDispatch_LoadPoseErrorStillAppliesFallback(t *testing.T) {
	f := newFixture(t)
	f.engine.poseCtx = &latent.Context{Values: ramp(8, 0.1)}
	f.engine.poseErr = errors.New("tracking inference failed")

	f.dispatch(map[string]interface{}{
		"type": "load_pose",
		"qpos": make([]float64, f.sim.Rig().QposSize()),
	})

	last := f.peer.last(t)
	assert.Equal(t, "load_pose_error", last["type"])
	assert.Contains(t, last["error"], "tracking inference failed")

	// The default-idle fallback is live regardless.
	require.NotNil(t, f.state.ActiveContext())
	assert.Equal(t, float32(0.1), f.state.ActiveContext().Values[0])
}

func TestDispatch_LoadPoseSMPLConvertsPose(t *testing.T) {
	f := newFixture(t)
	f.engine.poseCtx = &latent.Context{Values: ramp(8, 0.4)}
	rig := f.sim.Rig()

	pose := make([][3]float64, rig.NumJoints())
	f.dispatch(map[string]interface{}{
		"type":  "load_pose_smpl",
		"pose":  pose,
		"trans": [3]float64{0, 0, 1.3},
	})

	last := f.peer.last(t)
	assert.Equal(t, "pose_loaded", last["type"])
	assert.Equal(t, string(policy.ModeGoal), last["mode"])

	// Identity rotations become a unit quaternion over the translation.
	require.Len(t, f.engine.poses, 1)
	qpos := f.engine.poses[0].qpos
	require.Len(t, qpos, rig.QposSize())
	assert.InDelta(t, 1.3, qpos[2], 1e-9)
	assert.InDelta(t, 1.0, qpos[3], 1e-9)

	_, source := f.state.Active()
	assert.Equal(t, "smpl:goal", source)
}

func TestDispatch_LoadPoseSMPLRejectsWrongJointCount(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{
		"type": "load_pose_smpl",
		"pose": make([][3]float64, 3),
	})

	last := f.peer.last(t)
	assert.Equal(t, "load_pose_smpl_error", last["type"])
	assert.Contains(t, last["error"], "joints")
}

func TestDispatch_LoadNPZContextFromValues(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{
		"type":   "load_npz_context",
		"values": ramp(8, 0.25),
	})

	last := f.peer.last(t)
	assert.Equal(t, "npz_context_loaded", last["type"])
	assert.EqualValues(t, 8, last["dim"])

	require.NotNil(t, f.state.ActiveContext())
	assert.Equal(t, float32(0.25), f.state.ActiveContext().Values[0])
	_, source := f.state.Active()
	assert.Equal(t, "npz", source)
}

func TestDispatch_LoadNPZContextFromBlob(t *testing.T) {
	f := newFixture(t)

	blob, err := latent.EncodeBlob(&latent.Context{Values: ramp(8, 0.6)}, time.Now())
	require.NoError(t, err)

	f.dispatch(map[string]interface{}{
		"type": "load_npz_context",
		"data": base64.StdEncoding.EncodeToString(blob),
	})

	assert.Equal(t, "npz_context_loaded", f.peer.last(t)["type"])
	require.NotNil(t, f.state.ActiveContext())
	assert.Equal(t, ramp(8, 0.6), f.state.ActiveContext().Values)
}

func TestDispatch_LoadNPZContextRejectsBadPayloads(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "load_npz_context"})
	assert.Contains(t, f.peer.last(t)["error"], "missing context payload")

	f.dispatch(map[string]interface{}{"type": "load_npz_context", "data": "%%%"})
	assert.Contains(t, f.peer.last(t)["error"], "base64")

	f.dispatch(map[string]interface{}{"type": "load_npz_context", "values": ramp(5, 0.1)})
	assert.Contains(t, f.peer.last(t)["error"], "dimension")

	assert.Nil(t, f.state.ActiveContext())
}

func TestDispatch_CurrentContextReflectsSlot(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "get_current_context"})
	empty := f.peer.last(t)
	assert.Equal(t, "current_context", empty["type"])
	assert.Equal(t, false, empty["is_computing"])
	assert.NotContains(t, empty, "active_rewards")
	assert.NotContains(t, empty, "cache_file")

	f.requestReward()
	f.dispatch(map[string]interface{}{"type": "get_current_context"})
	busy := f.peer.last(t)
	assert.Equal(t, true, busy["is_computing"])

	f.engine.complete(t, &latent.Context{Values: ramp(8, 1), CacheFile: "cache/ab.ctx.br"}, nil)
	f.dispatch(map[string]interface{}{"type": "get_current_context"})
	loaded := f.peer.last(t)
	assert.Equal(t, false, loaded["is_computing"])
	assert.Equal(t, "cache/ab.ctx.br", loaded["cache_file"])
	assert.EqualValues(t, 8, loaded["dim"])
	require.Contains(t, loaded, "active_rewards")
}

func TestDispatch_UpdateParameters(t *testing.T) {
	f := newFixture(t)
	f.sim.rejects = map[string]string{"wind": "unknown parameter wind"}

	f.dispatch(map[string]interface{}{
		"type":       "update_parameters",
		"parameters": map[string]float64{"gravity": -9.81, "timestep": 0.002, "wind": 1},
	})

	last := f.peer.last(t)
	assert.Equal(t, "parameters_updated", last["type"])
	assert.Equal(t, []interface{}{"gravity", "timestep"}, last["applied"])
	failed, ok := last["failed"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, failed["wind"], "unknown parameter")
	assert.InDelta(t, -9.81, f.sim.params["gravity"], 1e-9)

	f.dispatch(map[string]interface{}{"type": "update_parameters", "parameters": map[string]float64{}})
	assert.Contains(t, f.peer.last(t)["error"], "no parameters supplied")
}

func TestDispatch_UpdateRewardComputation(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "update_reward_computation", "batch_size": 100})
	last := f.peer.last(t)
	assert.Equal(t, "reward_computation_updated", last["type"])
	assert.EqualValues(t, 100, last["batch_size"])
	assert.Equal(t, 100, f.engine.BatchSize())

	f.dispatch(map[string]interface{}{"type": "update_reward_computation", "batch_size": 7})
	assert.Equal(t, "update_reward_computation_error", f.peer.last(t)["type"])
	assert.Equal(t, 100, f.engine.BatchSize())

	f.dispatch(map[string]interface{}{"type": "update_reward_computation"})
	assert.Contains(t, f.peer.last(t)["error"], "missing batch_size")
}

func TestDispatch_TargetPositions(t *testing.T) {
	f := newFixture(t)
	f.sim.positions[0] = [3]float64{1, 2, 3}

	f.dispatch(map[string]interface{}{"type": "get_target_positions"})

	last := f.peer.last(t)
	assert.Equal(t, "target_positions", last["type"])
	names, ok := last["names"].([]interface{})
	require.True(t, ok)
	require.Len(t, names, f.sim.Rig().NumJoints())
	assert.Equal(t, "Pelvis", names[0])
	positions, ok := last["positions"].([]interface{})
	require.True(t, ok)
	require.Len(t, positions, f.sim.Rig().NumJoints())
	first, ok := positions[0].([]interface{})
	require.True(t, ok)
	assert.InDelta(t, 1.0, first[0], 1e-9)
}

func TestDispatch_CaptureFrameAndSnapshot(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "capture_frame"})
	last := f.peer.last(t)
	assert.Equal(t, "frame_captured", last["type"])
	assert.Equal(t, "/tmp/frames/current_frame.jpg", last["path"])

	f.dispatch(map[string]interface{}{"type": "make_snapshot"})
	last = f.peer.last(t)
	assert.Equal(t, "snapshot_created", last["type"])
	assert.Equal(t, "/tmp/frames/snapshot-0001.jpg", last["path"])

	f.recorder.frameErr = recording.ErrNoFrame
	f.dispatch(map[string]interface{}{"type": "capture_frame"})
	last = f.peer.last(t)
	assert.Equal(t, "capture_frame_error", last["type"])
	assert.Contains(t, last["error"], "no frame")
}

func TestDispatch_RecordingLifecycleReplies(t *testing.T) {
	f := newFixture(t)

	f.dispatch(map[string]interface{}{"type": "start_recording"})
	started := f.peer.last(t)
	assert.Equal(t, "recording_status", started["type"])
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, "rec-0001", started["recording_id"])

	f.dispatch(map[string]interface{}{"type": "stop_recording"})
	stopped := f.peer.last(t)
	assert.Equal(t, "recording_status", stopped["type"])
	assert.Equal(t, "stopped", stopped["status"])
	assert.Equal(t, "/downloads/trajectory-rec-0001.zip", stopped["downloadUrl"])
	assert.EqualValues(t, 42, stopped["frames"])
	assert.EqualValues(t, 1500, stopped["duration_ms"])

	f.recorder.startErr = recording.ErrAlreadyRecording
	f.dispatch(map[string]interface{}{"type": "start_recording"})
	failed := f.peer.last(t)
	assert.Equal(t, "error", failed["status"])
	assert.Contains(t, failed["error"], "already recording")
	assert.NotContains(t, failed, "downloadUrl")
}

func TestDispatch_VideoRecordingLifecycleReplies(t *testing.T) {
	f := newFixture(t)
	f.recorder.result = &recording.Result{
		Mode:        recording.ModePackage,
		ID:          "vid-0001",
		DownloadURL: "/downloads/package-vid-0001.zip",
		Frames:      120,
		Duration:    4 * time.Second,
		VideoFrames: 30,
	}

	f.dispatch(map[string]interface{}{"type": "start_video_recording"})
	started := f.peer.last(t)
	assert.Equal(t, "video_recording_status", started["type"])
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, "vid-0001", started["recording_id"])

	f.dispatch(map[string]interface{}{"type": "stop_video_recording"})
	stopped := f.peer.last(t)
	assert.Equal(t, "video_recording_status", stopped["type"])
	assert.Equal(t, "stopped", stopped["status"])
	assert.Equal(t, "/downloads/package-vid-0001.zip", stopped["downloadUrl"])

	f.recorder.stopErr = recording.ErrNotRecording
	f.dispatch(map[string]interface{}{"type": "stop_video_recording"})
	failed := f.peer.last(t)
	assert.Equal(t, "video_recording_status", failed["type"])
	assert.Equal(t, "error", failed["status"])
	assert.Contains(t, failed["error"], "no recording in progress")
}

func TestDispatch_DebugModelInfoDeliversLastComputationOnce(t *testing.T) {
	f := newFixture(t)
	f.requestReward()
	f.engine.complete(t, &latent.Context{Values: ramp(8, 1)}, nil)

	f.dispatch(map[string]interface{}{"type": "debug_model_info"})
	info := f.peer.last(t)
	assert.Equal(t, "model_info", info["type"])
	assert.Equal(t, false, info["is_computing"])

	last, ok := info["last_computation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", last["status"])
	assert.NotEmpty(t, last["message_id"])

	loop, ok := info["loop"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, loop["running"])
	require.Contains(t, info, "subscribers")
	require.Contains(t, info, "recording")
	assert.EqualValues(t, 0, info["media_sessions"])

	// The report is consumed on delivery.
	f.dispatch(map[string]interface{}{"type": "debug_model_info"})
	assert.Nil(t, f.peer.last(t)["last_computation"])
}

// fakeConn drives HandleConn: scripted inbound frames, captured
// outbound writes.
type fakeConn struct {
	inbound chan []byte
	mu      sync.Mutex
	frames  [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 4242}
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) deliver(t *testing.T, msg map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) typed(typ string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, frame := range c.frames {
		var m map[string]interface{}
		if json.Unmarshal(frame, &m) == nil && m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) awaitReply(t *testing.T, typ string) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	require.Eventually(t, func() bool {
		replies := c.typed(typ)
		if len(replies) == 0 {
			return false
		}
		got = replies[len(replies)-1]
		return true
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestDispatcher_HandleConnServesCommands(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.d.HandleConn(conn)
	}()

	require.Eventually(t, func() bool { return f.registry.Len() == 1 }, time.Second, 5*time.Millisecond)

	conn.deliver(t, map[string]interface{}{"type": "get_current_context"})
	reply := conn.awaitReply(t, "current_context")
	assert.Equal(t, false, reply["is_computing"])

	conn.deliver(t, map[string]interface{}{"type": "get_target_positions"})
	conn.awaitReply(t, "target_positions")

	// EOF unregisters the peer and ends the reader.
	close(conn.inbound)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleConn did not return on EOF")
	}
	assert.Equal(t, 0, f.registry.Len())
}

func TestDispatcher_HandleAutoStopBroadcasts(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn()
	f.registry.Add(conn)

	f.d.HandleAutoStop(&recording.Result{
		Mode:        recording.ModePackage,
		ID:          "vid-7",
		DownloadURL: "/downloads/package-vid-7.zip",
		Frames:      9,
		Duration:    2 * time.Second,
	})

	status := conn.awaitReply(t, "video_recording_status")
	assert.Equal(t, "stopped", status["status"])
	assert.Equal(t, "vid-7", status["recording_id"])
	assert.Equal(t, "/downloads/package-vid-7.zip", status["downloadUrl"])
}
