package dispatch

import (
	"time"

	"github.com/nmxmxh/marionette/internal/broadcast"
	"github.com/nmxmxh/marionette/internal/recording"
	"github.com/nmxmxh/marionette/internal/reward"
	"github.com/nmxmxh/marionette/internal/simloop"
)

// timestamp is the ISO-8601 instant attached to every reply.
func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// errorReply answers a failed or unknown command. Its type is the
// command name with an "_error" suffix.
type errorReply struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// computeAck acknowledges a scheduled computation (reward,
// reward_updated, mix_reward_only_updated).
type computeAck struct {
	Type        string `json:"type"`
	IsComputing bool   `json:"is_computing"`
	MessageID   string `json:"message_id"`
	Timestamp   string `json:"timestamp"`
}

// busyReply rejects a computation while another is in flight.
type busyReply struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// computationStatus is the terminal report sent to the initiating peer.
type computationStatus struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type rewardsCleared struct {
	Type      string `json:"type"`
	PreserveZ bool   `json:"preserve_z"`
	Timestamp string `json:"timestamp"`
}

type cleanRewardsReply struct {
	Type      string `json:"type"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type poseLoaded struct {
	Type      string `json:"type"`
	Mode      string `json:"mode"`
	Timestamp string `json:"timestamp"`
}

type npzContextLoaded struct {
	Type      string `json:"type"`
	Dim       int    `json:"dim"`
	Timestamp string `json:"timestamp"`
}

type currentContext struct {
	Type        string       `json:"type"`
	Rewards     *reward.Spec `json:"active_rewards,omitempty"`
	PoseSource  string       `json:"pose_source,omitempty"`
	IsComputing bool         `json:"is_computing"`
	CacheFile   string       `json:"cache_file,omitempty"`
	Dim         int          `json:"dim,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type parametersUpdated struct {
	Type      string            `json:"type"`
	Applied   []string          `json:"applied"`
	Failed    map[string]string `json:"failed,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type rewardComputationUpdated struct {
	Type      string `json:"type"`
	BatchSize int    `json:"batch_size"`
	Timestamp string `json:"timestamp"`
}

type targetPositions struct {
	Type      string       `json:"type"`
	Positions [][3]float64 `json:"positions"`
	Names     []string     `json:"names"`
	Timestamp string       `json:"timestamp"`
}

type frameCaptured struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// recordingStatus reports both recording lifecycles. DownloadURL keeps
// the camelCase key clients already parse.
type recordingStatus struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	RecordingID string `json:"recording_id,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Frames      int    `json:"frames,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type modelInfo struct {
	Type            string                  `json:"type"`
	Subscribers     broadcast.RegistryStats `json:"subscribers"`
	IsComputing     bool                    `json:"is_computing"`
	LastComputation *ComputationStatus      `json:"last_computation"`
	Loop            simloop.Stats           `json:"loop"`
	Recording       recording.Stats         `json:"recording"`
	MediaSessions   int                     `json:"media_sessions"`
	Timestamp       string                  `json:"timestamp"`
}

// stoppedStatus converts a finished recording into its reply.
func stoppedStatus(replyType string, result *recording.Result) recordingStatus {
	return recordingStatus{
		Type:        replyType,
		Status:      "stopped",
		RecordingID: result.ID,
		DownloadURL: result.DownloadURL,
		Frames:      result.Frames,
		DurationMs:  result.Duration.Milliseconds(),
		Timestamp:   timestamp(),
	}
}
