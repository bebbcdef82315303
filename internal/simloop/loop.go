// Package simloop drives the realtime control loop. A single goroutine
// owns the environment and policy: per tick it reads the active context,
// asks the policy for an action, steps the physics, converts the new
// state to a pose update for broadcast, renders a frame for the media
// fan-out and recorder, and services at most one queued environment
// request (pose probe, parameter update, position read). Nobody else
// touches the environment while the loop runs.
package simloop

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/marionette/internal/broadcast"
	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/policy"
	"github.com/nmxmxh/marionette/internal/utils"
)

const (
	defaultTargetFPS = 60

	// requestBacklog bounds environment requests waiting for a tick
	// slot. One is drained per tick, so anything deeper just adds
	// latency.
	requestBacklog = 4

	// errorLogEvery throttles per-tick failure logging.
	errorLogEvery = 300
)

// ContextSource supplies the active context each tick.
type ContextSource interface {
	ActiveContext() *latent.Context
}

// StateBroadcaster fans pose updates out to channel subscribers.
type StateBroadcaster interface {
	Broadcast(messageID string, msg interface{}) (broadcast.BroadcastReport, error)
}

// FrameSink receives rendered frames for the media sessions.
type FrameSink interface {
	PushFrame(frame *physics.Frame)
}

// Recorder receives every tick's pose and frame; it decides internally
// whether a recording is active.
type Recorder interface {
	RecordTick(update *physics.PoseUpdate, frame *physics.Frame)
}

// SMPLUpdate is the per-frame pose message broadcast to subscribers.
type SMPLUpdate struct {
	Type          string       `json:"type"`
	Pose          [][3]float64 `json:"pose"`
	Trans         [3]float64   `json:"trans"`
	Positions     [][3]float64 `json:"positions"`
	Qpos          []float64    `json:"qpos"`
	PositionNames []string     `json:"position_names"`
	CacheFile     string       `json:"cache_file,omitempty"`
	Quality       float64      `json:"quality"`
	Timestamp     string       `json:"timestamp"`
}

// StageTimings holds smoothed per-stage durations for one tick.
type StageTimings struct {
	Act       time.Duration `json:"act"`
	Step      time.Duration `json:"step"`
	Convert   time.Duration `json:"convert"`
	Broadcast time.Duration `json:"broadcast"`
	Render    time.Duration `json:"render"`
	Probe     time.Duration `json:"probe"`
}

// Stats is the loop diagnostics snapshot.
type Stats struct {
	Frame        uint64       `json:"frame"`
	FPS          float64      `json:"fps"`
	TargetFPS    int          `json:"target_fps"`
	Quality      float64      `json:"quality"`
	ActFailures  uint64       `json:"act_failures"`
	StepFailures uint64       `json:"step_failures"`
	Terminations uint64       `json:"terminations"`
	Running      bool         `json:"running"`
	Stages       StageTimings `json:"stages"`
}

// Config tunes the loop.
type Config struct {
	TargetFPS int `json:"target_fps"`
}

// Deps are the loop's collaborators. Env, Policy and Logger are
// required; the sinks may be nil (ticks simply skip them).
type Deps struct {
	Env      physics.Environment
	Policy   policy.Policy
	Contexts ContextSource
	States   StateBroadcaster
	Frames   FrameSink
	Recorder Recorder
	Logger   *utils.Logger
}

// envCall is one deferred environment access serviced at the tick's
// request slot: pose probes, parameter updates, position reads.
type envCall struct {
	run  func()
	done chan struct{}
}

// Loop is the simulation driver. Construct with New, then Start/Stop.
type Loop struct {
	env      physics.Environment
	policy   policy.Policy
	contexts ContextSource
	states   StateBroadcaster
	frames   FrameSink
	recorder Recorder
	logger   *utils.Logger

	rig        *physics.Rig
	tick       time.Duration
	targetFPS  int
	obs        []float32
	zeroAction []float32

	calls chan *envCall
	done  chan struct{}

	running      atomic.Bool
	stopFlag     atomic.Bool
	frameCount   atomic.Uint64
	actFailures  atomic.Uint64
	stepFailures atomic.Uint64
	terminations atomic.Uint64
	quality      atomic.Uint64 // Float64bits
	fps          atomic.Uint64 // Float64bits

	stageMu sync.Mutex
	stages  StageTimings
}

func New(deps Deps, config Config) (*Loop, error) {
	if deps.Env == nil {
		return nil, errors.New("simloop: environment is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("simloop: policy is required")
	}
	if deps.Logger == nil {
		deps.Logger = utils.DefaultLogger("simloop")
	}
	if config.TargetFPS <= 0 {
		config.TargetFPS = defaultTargetFPS
	}

	return &Loop{
		env:        deps.Env,
		policy:     deps.Policy,
		contexts:   deps.Contexts,
		states:     deps.States,
		frames:     deps.Frames,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
		rig:        deps.Env.Rig(),
		tick:       time.Second / time.Duration(config.TargetFPS),
		targetFPS:  config.TargetFPS,
		zeroAction: make([]float32, deps.Policy.ActionDim()),
		calls:      make(chan *envCall, requestBacklog),
		done:       make(chan struct{}),
	}, nil
}

// Start resets the environment and spawns the tick goroutine.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("simloop: already running")
	}

	obs, err := l.env.Reset()
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("initial reset: %w", err)
	}
	l.obs = obs

	l.logger.Info("Simulation loop started",
		utils.Int("target_fps", l.targetFPS),
		utils.Int("obs_dim", len(obs)),
		utils.Int("action_dim", len(l.zeroAction)))

	go l.run()
	return nil
}

// Stop flags the loop and waits for the current tick to finish.
func (l *Loop) Stop() {
	if !l.running.Load() {
		return
	}
	l.stopFlag.Store(true)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.running.Store(false)

	for !l.stopFlag.Load() {
		start := time.Now()
		l.runTick()

		elapsed := time.Since(start)
		if sleep := l.tick - elapsed; sleep > 0 {
			time.Sleep(sleep)
		} else {
			// Behind schedule: no sleep, but let other goroutines in.
			runtime.Gosched()
		}
		l.updateFPS(time.Since(start))
	}

	l.logger.Info("Simulation loop stopped", utils.Uint64("frames", l.frameCount.Load()))
}

func (l *Loop) runTick() {
	var timings StageTimings

	// 1. Active context. Nil is allowed before any computation lands.
	var ctxValues []float32
	var cacheFile string
	if l.contexts != nil {
		if ctx := l.contexts.ActiveContext(); ctx != nil {
			ctxValues = ctx.Values
			cacheFile = ctx.CacheFile
		}
	}

	// 2. Action. Policy failure degrades to a zero action.
	t0 := time.Now()
	action, err := l.policy.Act(l.obs, ctxValues)
	if err != nil {
		n := l.actFailures.Add(1)
		if n == 1 || n%errorLogEvery == 0 {
			l.logger.Warn("Policy act failed, holding with zero action",
				utils.Err(err), utils.Uint64("failures", n))
		}
		action = l.zeroAction
	}
	timings.Act = time.Since(t0)

	// 3. Quality score for display.
	if ctxValues != nil {
		if q, err := l.policy.Quality(l.obs, ctxValues); err == nil {
			l.quality.Store(math.Float64bits(q))
		}
	}

	// 4. Physics step. This is the one stage that must not be skipped
	// for downstream reasons; if it fails there is no new state to
	// publish, so the tick ends here.
	t0 = time.Now()
	obs, terminated, err := l.env.Step(action)
	timings.Step = time.Since(t0)
	if err != nil {
		n := l.stepFailures.Add(1)
		if n == 1 || n%errorLogEvery == 0 {
			l.logger.Error("Physics step failed", utils.Err(err), utils.Uint64("failures", n))
		}
		l.recordTimings(timings)
		return
	}
	l.obs = obs

	// 5. Pose conversion.
	t0 = time.Now()
	update := l.convertPose()
	timings.Convert = time.Since(t0)

	// 6. Broadcast. Failures are logged, never fatal to the tick.
	if update != nil && l.states != nil {
		t0 = time.Now()
		msg := SMPLUpdate{
			Type:          "smpl_update",
			Pose:          update.Pose,
			Trans:         update.Trans,
			Positions:     update.Positions,
			Qpos:          update.Qpos,
			PositionNames: update.PositionNames,
			CacheFile:     cacheFile,
			Quality:       math.Float64frombits(l.quality.Load()),
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		}
		if _, err := l.states.Broadcast("", msg); err != nil {
			l.logger.Warn("State broadcast failed", utils.Err(err))
		}
		timings.Broadcast = time.Since(t0)
	}

	// 7. Render and hand off to media plus recorder.
	t0 = time.Now()
	frame, err := l.env.Render()
	if err != nil {
		frame = nil
		l.logger.Debug("Render failed", utils.Err(err))
	}
	timings.Render = time.Since(t0)

	if frame != nil && l.frames != nil {
		l.frames.PushFrame(frame)
	}
	if l.recorder != nil && update != nil {
		l.recorder.RecordTick(update, frame)
	}

	// 8. Termination resets the episode.
	if terminated {
		l.terminations.Add(1)
		if obs, err := l.env.Reset(); err != nil {
			l.logger.Error("Environment reset failed", utils.Err(err))
		} else {
			l.obs = obs
		}
	}

	// 9. At most one queued environment request per tick.
	select {
	case call := <-l.calls:
		t0 = time.Now()
		call.run()
		close(call.done)
		timings.Probe = time.Since(t0)
	default:
	}

	l.frameCount.Add(1)
	l.recordTimings(timings)
}

func (l *Loop) convertPose() *physics.PoseUpdate {
	snap, err := l.env.Snapshot()
	if err != nil {
		l.logger.Warn("Snapshot failed", utils.Err(err))
		return nil
	}
	update, err := physics.Convert(l.rig, snap)
	if err != nil {
		l.logger.Warn("Pose conversion failed", utils.Err(err))
		return nil
	}
	return update
}

// submit runs fn inside the loop goroutine within one tick. When the
// loop is not running the call executes directly on the caller, which
// is what startup warmup and tests want.
func (l *Loop) submit(run func()) error {
	if !l.running.Load() {
		run()
		return nil
	}

	call := &envCall{run: run, done: make(chan struct{})}
	select {
	case l.calls <- call:
	default:
		return errors.New("simulation loop busy")
	}

	select {
	case <-call.done:
		return nil
	case <-l.done:
		return errors.New("simulation loop stopped")
	}
}

// ProbeState imposes a qpos long enough to read the observation and
// body positions, then restores the live state. Implements the latent
// engine's prober contract.
func (l *Loop) ProbeState(qpos []float64) (*latent.ProbeResult, error) {
	var (
		result   *latent.ProbeResult
		probeErr error
	)
	if err := l.submit(func() { result, probeErr = l.executeProbe(qpos) }); err != nil {
		return nil, err
	}
	return result, probeErr
}

// ApplyParameters forwards name→value updates to the environment inside
// one tick. It returns the names that applied, sorted, and the per-name
// failures.
func (l *Loop) ApplyParameters(params map[string]float64) ([]string, map[string]string, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := make([]string, 0, len(names))
	failed := make(map[string]string)
	err := l.submit(func() {
		for _, name := range names {
			if serr := l.env.SetParameter(name, params[name]); serr != nil {
				failed[name] = serr.Error()
				continue
			}
			applied = append(applied, name)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return applied, failed, nil
}

// ResetEnvironment schedules an episode reset inside one tick.
func (l *Loop) ResetEnvironment() error {
	var resetErr error
	err := l.submit(func() {
		obs, err := l.env.Reset()
		if err != nil {
			resetErr = err
			return
		}
		l.obs = obs
	})
	if err != nil {
		return err
	}
	return resetErr
}

// Rig describes the joint layout the environment simulates.
func (l *Loop) Rig() *physics.Rig {
	return l.rig
}

// TargetPositions reads the current world body positions inside one
// tick, ordered by the rig body list.
func (l *Loop) TargetPositions() ([][3]float64, []string, error) {
	var (
		positions [][3]float64
		names     []string
		readErr   error
	)
	err := l.submit(func() {
		positions, readErr = l.env.BodyPositions()
		names = l.rig.BodyNames()
	})
	if err != nil {
		return nil, nil, err
	}
	if readErr != nil {
		return nil, nil, readErr
	}
	return positions, names, nil
}

func (l *Loop) executeProbe(qpos []float64) (*latent.ProbeResult, error) {
	saved, err := l.env.GetPhysicsState()
	if err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	if err := l.env.SetPhysicsState(physics.State{Qpos: qpos}); err != nil {
		return nil, fmt.Errorf("impose pose: %w", err)
	}
	obs, obsErr := l.env.Observation()
	positions, posErr := l.env.BodyPositions()

	if err := l.env.SetPhysicsState(saved); err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	if obsErr != nil {
		return nil, fmt.Errorf("probe observation: %w", obsErr)
	}
	if posErr != nil {
		return nil, fmt.Errorf("probe positions: %w", posErr)
	}

	return &latent.ProbeResult{
		Observation: obs,
		Positions:   positions,
		Names:       l.rig.BodyNames(),
	}, nil
}

func (l *Loop) updateFPS(total time.Duration) {
	if total <= 0 {
		return
	}
	inst := float64(time.Second) / float64(total)
	prev := math.Float64frombits(l.fps.Load())
	if prev == 0 {
		prev = inst
	}
	l.fps.Store(math.Float64bits(prev*0.9 + inst*0.1))
}

func (l *Loop) recordTimings(t StageTimings) {
	l.stageMu.Lock()
	defer l.stageMu.Unlock()
	l.stages = StageTimings{
		Act:       ewma(l.stages.Act, t.Act),
		Step:      ewma(l.stages.Step, t.Step),
		Convert:   ewma(l.stages.Convert, t.Convert),
		Broadcast: ewma(l.stages.Broadcast, t.Broadcast),
		Render:    ewma(l.stages.Render, t.Render),
		Probe:     ewma(l.stages.Probe, t.Probe),
	}
}

func ewma(prev, next time.Duration) time.Duration {
	if prev == 0 {
		return next
	}
	return time.Duration(float64(prev)*0.9 + float64(next)*0.1)
}

// Frame returns the tick counter.
func (l *Loop) Frame() uint64 {
	return l.frameCount.Load()
}

// Quality returns the latest policy quality score.
func (l *Loop) Quality() float64 {
	return math.Float64frombits(l.quality.Load())
}

// Stats snapshots the loop diagnostics.
func (l *Loop) Stats() Stats {
	l.stageMu.Lock()
	stages := l.stages
	l.stageMu.Unlock()

	return Stats{
		Frame:        l.frameCount.Load(),
		FPS:          math.Float64frombits(l.fps.Load()),
		TargetFPS:    l.targetFPS,
		Quality:      math.Float64frombits(l.quality.Load()),
		ActFailures:  l.actFailures.Load(),
		StepFailures: l.stepFailures.Load(),
		Terminations: l.terminations.Load(),
		Running:      l.running.Load(),
		Stages:       stages,
	}
}
