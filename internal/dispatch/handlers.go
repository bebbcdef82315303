package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/policy"
	"github.com/nmxmxh/marionette/internal/reward"
	"github.com/nmxmxh/marionette/internal/utils"
)

// scheduleCompute runs the shared async-computation protocol: capture
// the slot generation, schedule, acknowledge with a message id, then
// let the completion callback decide whether the result still applies.
func (d *Dispatcher) scheduleCompute(peer replyPeer, command, ackType string, spec *reward.Spec, poseSource string, schedule func(onDone func(*latent.Context, error)) error) {
	messageID := utils.GenerateID()
	gen := d.state.Generation()

	err := schedule(func(ctx *latent.Context, computeErr error) {
		d.finishComputation(peer, messageID, gen, spec, poseSource, ctx, computeErr)
	})
	if errors.Is(err, latent.ErrComputationInFlight) {
		d.send(peer, busyReply{Type: "computing_in_progress", Timestamp: timestamp()})
		return
	}
	if err != nil {
		d.replyError(peer, command, err.Error())
		return
	}

	d.send(peer, computeAck{
		Type:        ackType,
		IsComputing: true,
		MessageID:   messageID,
		Timestamp:   timestamp(),
	})
	d.sendStatus(peer, messageID, "started", nil)
}

func (d *Dispatcher) finishComputation(peer replyPeer, messageID string, gen uint64, spec *reward.Spec, poseSource string, ctx *latent.Context, err error) {
	if err != nil {
		// The engine may still hand back the default-idle fallback.
		if ctx != nil {
			d.state.ApplyIfCurrent(gen, ctx, spec, poseSource)
		}
		d.state.RecordStatus(messageID, "error", err)
		d.sendStatus(peer, messageID, "error", err)
		return
	}

	if !d.state.ApplyIfCurrent(gen, ctx, spec, poseSource) {
		d.logger.Info("Stale computation result discarded",
			utils.String("message_id", messageID))
	}
	d.state.RecordStatus(messageID, "completed", nil)
	d.sendStatus(peer, messageID, "completed", nil)
}

func (d *Dispatcher) handleRequestReward(peer replyPeer, data []byte) {
	var spec reward.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		d.replyError(peer, "request_reward", "malformed reward specification: "+err.Error())
		return
	}

	// An empty reward list is a full reset in disguise.
	if spec.Empty() {
		d.handleCleanRewards(peer)
		return
	}
	if err := spec.Validate(); err != nil {
		d.replyError(peer, "request_reward", err.Error())
		return
	}

	applied := spec.Clone()
	d.logger.Info("Reward specification requested",
		utils.Int("rewards", len(spec.Rewards)),
		utils.String("combinator", string(spec.EffectiveCombinator())))
	d.scheduleCompute(peer, "request_reward", "reward", &applied, "",
		func(onDone func(*latent.Context, error)) error {
			return d.engine.ComputeAsync(spec, onDone)
		})
}

func (d *Dispatcher) handleUpdateReward(peer replyPeer, data []byte) {
	var cmd struct {
		Index      *int          `json:"index"`
		Parameters reward.Params `json:"parameters"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "update_reward", "malformed command: "+err.Error())
		return
	}
	if cmd.Index == nil {
		d.replyError(peer, "update_reward", "missing reward index")
		return
	}

	active, _ := d.state.Active()
	if active == nil {
		d.replyError(peer, "update_reward", "no active reward specification")
		return
	}
	i := *cmd.Index
	if i < 0 || i >= len(active.Rewards) {
		d.replyError(peer, "update_reward", fmt.Sprintf("reward index %d out of range", i))
		return
	}
	for k, v := range cmd.Parameters {
		active.Rewards[i].Params[k] = v
	}

	d.scheduleCompute(peer, "update_reward", "reward_updated", active, "",
		func(onDone func(*latent.Context, error)) error {
			return d.engine.ComputeAsync(*active, onDone)
		})
}

func (d *Dispatcher) handleClearActiveRewards(peer replyPeer, data []byte) {
	var cmd struct {
		PreserveZ bool `json:"preserve_z"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "clear_active_rewards", "malformed command: "+err.Error())
		return
	}

	d.state.Clear(cmd.PreserveZ, d.engine.DefaultContext())
	d.logger.Info("Active rewards cleared", utils.Bool("preserve_z", cmd.PreserveZ))
	d.send(peer, rewardsCleared{
		Type:      "rewards_cleared",
		PreserveZ: cmd.PreserveZ,
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleCleanRewards(peer replyPeer) {
	d.state.Clear(false, d.engine.DefaultContext())

	reply := cleanRewardsReply{Type: "clean_rewards", Timestamp: timestamp()}
	if err := d.sim.ResetEnvironment(); err != nil {
		d.logger.Warn("Environment reset failed", utils.Err(err))
		reply.Error = err.Error()
	}
	d.logger.Info("Rewards cleaned, environment reset")
	d.send(peer, reply)
}

func (d *Dispatcher) handleMixPoseReward(peer replyPeer, data []byte) {
	var cmd struct {
		Qpos     []float64 `json:"qpos"`
		Weight   *float64  `json:"weight"`
		Strategy string    `json:"strategy"`
		reward.Spec
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "mix_pose_reward", "malformed command: "+err.Error())
		return
	}
	if len(cmd.Qpos) == 0 {
		d.replyError(peer, "mix_pose_reward", "missing qpos")
		return
	}

	weight := 0.5
	if cmd.Weight != nil {
		weight = *cmd.Weight
	}
	if weight < 0 || weight > 1 {
		d.replyError(peer, "mix_pose_reward", fmt.Sprintf("weight %v outside [0, 1]", weight))
		return
	}
	strategy, err := latent.ParseMixStrategy(cmd.Strategy)
	if err != nil {
		d.replyError(peer, "mix_pose_reward", err.Error())
		return
	}

	spec := cmd.Spec
	var applied *reward.Spec
	if !spec.Empty() {
		if err := spec.Validate(); err != nil {
			d.replyError(peer, "mix_pose_reward", err.Error())
			return
		}
		clone := spec.Clone()
		applied = &clone
	}

	d.scheduleCompute(peer, "mix_pose_reward", "mix_reward_only_updated", applied, "mix",
		func(onDone func(*latent.Context, error)) error {
			return d.engine.MixPoseRewardAsync(cmd.Qpos, spec, weight, strategy, onDone)
		})
}

func parseInferenceMode(s string) (policy.InferenceMode, error) {
	switch s {
	case "", string(policy.ModeGoal):
		return policy.ModeGoal, nil
	case string(policy.ModeTracking):
		return policy.ModeTracking, nil
	case string(policy.ModeEmbedding):
		return policy.ModeEmbedding, nil
	}
	return "", fmt.Errorf("unknown inference mode %q", s)
}

// loadPoseContext runs the synchronous pose pathway shared by load_pose
// and load_pose_smpl.
func (d *Dispatcher) loadPoseContext(peer replyPeer, command string, qpos []float64, mode policy.InferenceMode, source string) {
	ctx, err := d.engine.PoseContext(qpos, mode)
	if err != nil {
		// A fallback context still applies; the client hears the error.
		if ctx != nil {
			d.state.Apply(ctx, nil, source)
		}
		d.replyError(peer, command, err.Error())
		return
	}

	d.state.Apply(ctx, nil, source)
	d.logger.Info("Pose context loaded",
		utils.String("source", source), utils.String("mode", string(mode)))
	d.send(peer, poseLoaded{
		Type:      "pose_loaded",
		Mode:      string(mode),
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleLoadPose(peer replyPeer, data []byte) {
	var cmd struct {
		Qpos []float64 `json:"qpos"`
		Mode string    `json:"mode"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "load_pose", "malformed command: "+err.Error())
		return
	}
	if len(cmd.Qpos) == 0 {
		d.replyError(peer, "load_pose", "missing qpos")
		return
	}
	mode, err := parseInferenceMode(cmd.Mode)
	if err != nil {
		d.replyError(peer, "load_pose", err.Error())
		return
	}

	d.loadPoseContext(peer, "load_pose", cmd.Qpos, mode, "pose:"+string(mode))
}

func (d *Dispatcher) handleLoadPoseSMPL(peer replyPeer, data []byte) {
	var cmd struct {
		Pose  [][3]float64 `json:"pose"`
		Trans [3]float64   `json:"trans"`
		Mode  string       `json:"mode"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "load_pose_smpl", "malformed command: "+err.Error())
		return
	}
	if len(cmd.Pose) == 0 {
		d.replyError(peer, "load_pose_smpl", "missing pose")
		return
	}
	mode, err := parseInferenceMode(cmd.Mode)
	if err != nil {
		d.replyError(peer, "load_pose_smpl", err.Error())
		return
	}

	qpos, err := physics.PoseToQpos(d.sim.Rig(), cmd.Pose, cmd.Trans)
	if err != nil {
		d.replyError(peer, "load_pose_smpl", err.Error())
		return
	}

	d.loadPoseContext(peer, "load_pose_smpl", qpos, mode, "smpl:"+string(mode))
}

func (d *Dispatcher) handleLoadNPZContext(peer replyPeer, data []byte) {
	var cmd struct {
		Data   string    `json:"data"`
		Values []float32 `json:"values"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "load_npz_context", "malformed command: "+err.Error())
		return
	}

	var ctx *latent.Context
	switch {
	case cmd.Data != "":
		raw, err := base64.StdEncoding.DecodeString(cmd.Data)
		if err != nil {
			d.replyError(peer, "load_npz_context", "context blob is not valid base64")
			return
		}
		ctx, err = latent.DecodeBlob(raw)
		if err != nil {
			d.replyError(peer, "load_npz_context", err.Error())
			return
		}
	case len(cmd.Values) > 0:
		ctx = &latent.Context{Values: append([]float32(nil), cmd.Values...)}
	default:
		d.replyError(peer, "load_npz_context", "missing context payload")
		return
	}

	if dim := d.engine.ContextDim(); dim > 0 && ctx.Dim() != dim {
		d.replyError(peer, "load_npz_context",
			fmt.Sprintf("context dimension %d, model wants %d", ctx.Dim(), dim))
		return
	}

	d.state.Apply(ctx, nil, "npz")
	d.logger.Info("Context loaded from blob", utils.Int("dim", ctx.Dim()))
	d.send(peer, npzContextLoaded{
		Type:      "npz_context_loaded",
		Dim:       ctx.Dim(),
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleGetCurrentContext(peer replyPeer) {
	spec, poseSource := d.state.Active()
	reply := currentContext{
		Type:        "current_context",
		Rewards:     spec,
		PoseSource:  poseSource,
		IsComputing: d.engine.Busy(),
		Timestamp:   timestamp(),
	}
	if ctx := d.state.ActiveContext(); ctx != nil {
		reply.CacheFile = ctx.CacheFile
		reply.Dim = ctx.Dim()
	}
	d.send(peer, reply)
}

func (d *Dispatcher) handleUpdateParameters(peer replyPeer, data []byte) {
	var cmd struct {
		Parameters map[string]float64 `json:"parameters"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "update_parameters", "malformed command: "+err.Error())
		return
	}
	if len(cmd.Parameters) == 0 {
		d.replyError(peer, "update_parameters", "no parameters supplied")
		return
	}

	applied, failed, err := d.sim.ApplyParameters(cmd.Parameters)
	if err != nil {
		d.replyError(peer, "update_parameters", err.Error())
		return
	}
	d.send(peer, parametersUpdated{
		Type:      "parameters_updated",
		Applied:   applied,
		Failed:    failed,
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleUpdateRewardComputation(peer replyPeer, data []byte) {
	var cmd struct {
		BatchSize *int `json:"batch_size"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.replyError(peer, "update_reward_computation", "malformed command: "+err.Error())
		return
	}
	if cmd.BatchSize == nil {
		d.replyError(peer, "update_reward_computation", "missing batch_size")
		return
	}
	if err := d.engine.SetBatchSize(*cmd.BatchSize); err != nil {
		d.replyError(peer, "update_reward_computation", err.Error())
		return
	}

	d.logger.Info("Reward computation reconfigured", utils.Int("batch_size", d.engine.BatchSize()))
	d.send(peer, rewardComputationUpdated{
		Type:      "reward_computation_updated",
		BatchSize: d.engine.BatchSize(),
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleGetTargetPositions(peer replyPeer) {
	positions, names, err := d.sim.TargetPositions()
	if err != nil {
		d.replyError(peer, "get_target_positions", err.Error())
		return
	}
	d.send(peer, targetPositions{
		Type:      "target_positions",
		Positions: positions,
		Names:     names,
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleCaptureFrame(peer replyPeer) {
	path, err := d.recorder.CaptureFrame()
	if err != nil {
		d.replyError(peer, "capture_frame", err.Error())
		return
	}
	d.send(peer, frameCaptured{Type: "frame_captured", Path: path, Timestamp: timestamp()})
}

func (d *Dispatcher) handleMakeSnapshot(peer replyPeer) {
	path, err := d.recorder.MakeSnapshot()
	if err != nil {
		d.replyError(peer, "make_snapshot", err.Error())
		return
	}
	d.send(peer, frameCaptured{Type: "snapshot_created", Path: path, Timestamp: timestamp()})
}

func (d *Dispatcher) handleStartRecording(peer replyPeer) {
	id, err := d.recorder.StartTrajectory()
	if err != nil {
		d.send(peer, recordingStatus{
			Type: "recording_status", Status: "error",
			Error: err.Error(), Timestamp: timestamp(),
		})
		return
	}
	d.send(peer, recordingStatus{
		Type: "recording_status", Status: "started",
		RecordingID: id, Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleStopRecording(peer replyPeer) {
	result, err := d.recorder.StopTrajectory()
	if err != nil {
		d.send(peer, recordingStatus{
			Type: "recording_status", Status: "error",
			Error: err.Error(), Timestamp: timestamp(),
		})
		return
	}
	d.send(peer, stoppedStatus("recording_status", result))
}

func (d *Dispatcher) handleStartVideoRecording(peer replyPeer) {
	id, err := d.recorder.StartVideo()
	if err != nil {
		d.send(peer, recordingStatus{
			Type: "video_recording_status", Status: "error",
			Error: err.Error(), Timestamp: timestamp(),
		})
		return
	}
	d.send(peer, recordingStatus{
		Type: "video_recording_status", Status: "started",
		RecordingID: id, Timestamp: timestamp(),
	})
}

func (d *Dispatcher) handleStopVideoRecording(peer replyPeer) {
	result, err := d.recorder.StopVideo()
	if err != nil {
		d.send(peer, recordingStatus{
			Type: "video_recording_status", Status: "error",
			Error: err.Error(), Timestamp: timestamp(),
		})
		return
	}
	d.send(peer, stoppedStatus("video_recording_status", result))
}

func (d *Dispatcher) handleDebugModelInfo(peer replyPeer) {
	sessions := 0
	if d.sessions != nil {
		sessions = d.sessions.Len()
	}
	d.send(peer, modelInfo{
		Type:            "model_info",
		Subscribers:     d.registry.Stats(),
		IsComputing:     d.engine.Busy(),
		LastComputation: d.state.TakeLastStatus(),
		Loop:            d.sim.Stats(),
		Recording:       d.recorder.Stats(),
		MediaSessions:   sessions,
		Timestamp:       timestamp(),
	})
}
