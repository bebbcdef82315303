// Package dispatch turns client commands into engine, loop and recorder
// calls. One reader goroutine per connection applies commands in receive
// order; replies and broadcasts go out through the subscriber registry.
package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/nmxmxh/marionette/internal/broadcast"
	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/policy"
	"github.com/nmxmxh/marionette/internal/recording"
	"github.com/nmxmxh/marionette/internal/reward"
	"github.com/nmxmxh/marionette/internal/simloop"
	"github.com/nmxmxh/marionette/internal/utils"
)

// ContextEngine is the latent-engine surface the dispatcher drives.
type ContextEngine interface {
	Busy() bool
	BatchSize() int
	SetBatchSize(n int) error
	ContextDim() int
	DefaultContext() *latent.Context
	ComputeAsync(spec reward.Spec, onDone func(*latent.Context, error)) error
	MixPoseRewardAsync(qpos []float64, spec reward.Spec, w float64, strategy latent.MixStrategy, onDone func(*latent.Context, error)) error
	PoseContext(qpos []float64, mode policy.InferenceMode) (*latent.Context, error)
}

// Simulation is the loop surface: deferred environment access plus
// diagnostics.
type Simulation interface {
	ApplyParameters(params map[string]float64) ([]string, map[string]string, error)
	TargetPositions() ([][3]float64, []string, error)
	ResetEnvironment() error
	Rig() *physics.Rig
	Stats() simloop.Stats
}

// Recorder is the recording-manager surface.
type Recorder interface {
	StartTrajectory() (string, error)
	StopTrajectory() (*recording.Result, error)
	StartVideo() (string, error)
	StopVideo() (*recording.Result, error)
	CaptureFrame() (string, error)
	MakeSnapshot() (string, error)
	Stats() recording.Stats
}

// SessionCounter exposes how many media sessions are live. Optional.
type SessionCounter interface {
	Len() int
}

// CommandConn is the websocket surface of one command client: written
// through the registry peer, read by the dispatcher.
type CommandConn interface {
	broadcast.Conn
	ReadMessage() (messageType int, data []byte, err error)
}

// replyPeer is where command replies go. *broadcast.Peer satisfies it.
type replyPeer interface {
	ID() string
	Send(v interface{}) error
}

// Deps wires the dispatcher. Engine, Registry, Recorder, Sim and State
// are required; Sessions is optional.
type Deps struct {
	Engine   ContextEngine
	Registry *broadcast.Registry
	Recorder Recorder
	Sim      Simulation
	Sessions SessionCounter
	State    *State
	Logger   *utils.Logger
}

// Dispatcher coordinates client intent. It owns the active-context
// state and serializes each client's commands through one reader.
type Dispatcher struct {
	engine   ContextEngine
	registry *broadcast.Registry
	recorder Recorder
	sim      Simulation
	sessions SessionCounter
	state    *State
	logger   *utils.Logger
}

func New(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("dispatch: engine is required")
	case deps.Registry == nil:
		return nil, errors.New("dispatch: registry is required")
	case deps.Recorder == nil:
		return nil, errors.New("dispatch: recorder is required")
	case deps.Sim == nil:
		return nil, errors.New("dispatch: simulation is required")
	case deps.State == nil:
		return nil, errors.New("dispatch: state is required")
	}
	if deps.Logger == nil {
		deps.Logger = utils.DefaultLogger("dispatch")
	}
	return &Dispatcher{
		engine:   deps.Engine,
		registry: deps.Registry,
		recorder: deps.Recorder,
		sim:      deps.Sim,
		sessions: deps.Sessions,
		state:    deps.State,
		logger:   deps.Logger,
	}, nil
}

// State exposes the context slot for wiring into the simulation loop.
func (d *Dispatcher) State() *State {
	return d.state
}

// HandleConn owns one client connection until it closes: registers the
// peer for broadcasts, then reads and applies commands in order.
func (d *Dispatcher) HandleConn(conn CommandConn) {
	peer := d.registry.Add(conn)
	defer d.registry.Remove(peer.ID())

	d.logger.Info("Command client connected", utils.String("peer", peer.ID()))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			d.logger.Info("Command client disconnected",
				utils.String("peer", peer.ID()), utils.Err(err))
			return
		}
		d.Dispatch(peer, data)
	}
}

// Dispatch validates one raw message and routes it to its handler.
func (d *Dispatcher) Dispatch(peer replyPeer, data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
		d.replyError(peer, "message", "malformed command: missing type")
		return
	}

	switch envelope.Type {
	case "request_reward":
		d.handleRequestReward(peer, data)
	case "update_reward":
		d.handleUpdateReward(peer, data)
	case "clear_active_rewards":
		d.handleClearActiveRewards(peer, data)
	case "clean_rewards":
		d.handleCleanRewards(peer)
	case "mix_pose_reward":
		d.handleMixPoseReward(peer, data)
	case "load_pose":
		d.handleLoadPose(peer, data)
	case "load_pose_smpl":
		d.handleLoadPoseSMPL(peer, data)
	case "load_npz_context":
		d.handleLoadNPZContext(peer, data)
	case "get_current_context":
		d.handleGetCurrentContext(peer)
	case "update_parameters":
		d.handleUpdateParameters(peer, data)
	case "update_reward_computation":
		d.handleUpdateRewardComputation(peer, data)
	case "get_target_positions":
		d.handleGetTargetPositions(peer)
	case "capture_frame":
		d.handleCaptureFrame(peer)
	case "make_snapshot":
		d.handleMakeSnapshot(peer)
	case "start_recording":
		d.handleStartRecording(peer)
	case "stop_recording":
		d.handleStopRecording(peer)
	case "start_video_recording":
		d.handleStartVideoRecording(peer)
	case "stop_video_recording":
		d.handleStopVideoRecording(peer)
	case "debug_model_info":
		d.handleDebugModelInfo(peer)
	default:
		d.logger.Warn("Unknown command", utils.String("type", envelope.Type))
		d.replyError(peer, envelope.Type, "unknown command type")
	}
}

// HandleAutoStop broadcasts the status of a recording the timer closed,
// since there is no initiating peer to answer.
func (d *Dispatcher) HandleAutoStop(result *recording.Result) {
	replyType := "recording_status"
	if result.Mode == recording.ModePackage {
		replyType = "video_recording_status"
	}
	status := stoppedStatus(replyType, result)
	if _, err := d.registry.Broadcast("", status); err != nil {
		d.logger.Warn("Auto-stop broadcast failed", utils.Err(err))
	}
}

func (d *Dispatcher) send(peer replyPeer, v interface{}) {
	if err := peer.Send(v); err != nil {
		d.logger.Debug("Reply dropped", utils.String("peer", peer.ID()), utils.Err(err))
	}
}

func (d *Dispatcher) replyError(peer replyPeer, command, message string) {
	d.send(peer, errorReply{
		Type:      command + "_error",
		Error:     message,
		Timestamp: timestamp(),
	})
}

func (d *Dispatcher) sendStatus(peer replyPeer, messageID, status string, err error) {
	reply := computationStatus{
		Type:      "reward_computation_status",
		Status:    status,
		MessageID: messageID,
		Timestamp: timestamp(),
	}
	if err != nil {
		reply.Error = err.Error()
	}
	d.send(peer, reply)
}
