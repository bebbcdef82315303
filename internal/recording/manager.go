// Package recording captures live simulation output: pose trajectories
// serialized as Cap'n Proto documents, MP4 video with per-frame images,
// and single-shot JPEG captures. Recordings finalize into zip archives
// under a downloads directory so the HTTP layer can serve them directly.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/utils"
)

var (
	// ErrAlreadyRecording means the requested mode is already running.
	ErrAlreadyRecording = errors.New("recording: already recording")
	// ErrModeConflict means the other recording mode holds the slot.
	ErrModeConflict = errors.New("recording: another recording mode is active")
	// ErrNotRecording means a stop arrived with nothing running.
	ErrNotRecording = errors.New("recording: no recording in progress")
	// ErrNoFrame means no rendered frame exists to capture yet.
	ErrNoFrame = errors.New("recording: no frame rendered yet")
)

// Mode identifies which of the two mutually exclusive recordings runs.
type Mode string

const (
	// ModeTrajectory records poses only and archives a trajectory document.
	ModeTrajectory Mode = "trajectory"
	// ModePackage records poses plus video and per-frame images.
	ModePackage Mode = "package"
)

const (
	defaultVideoDivisor = 4
	defaultAutoStop     = 10 * time.Minute
)

// Result describes a finished recording and where its archive landed.
type Result struct {
	Mode         Mode          `json:"mode"`
	ID           string        `json:"id"`
	ArchivePath  string        `json:"archive_path"`
	DownloadURL  string        `json:"download_url"`
	Frames       int           `json:"frames"`
	Duration     time.Duration `json:"duration"`
	VideoFrames  uint64        `json:"video_frames,omitempty"`
	VideoDropped uint64        `json:"video_dropped,omitempty"`
}

// Stats is a point-in-time view of the recorder for status messages.
type Stats struct {
	Recording bool   `json:"recording"`
	Mode      Mode   `json:"mode,omitempty"`
	ID        string `json:"id,omitempty"`
	Ticks     uint64 `json:"ticks,omitempty"`
}

// ManagerConfig holds recorder settings. Zero values pick defaults.
type ManagerConfig struct {
	// DownloadsDir receives finished archives.
	DownloadsDir string
	// FramesDir receives single-shot captures and snapshots.
	FramesDir string
	// CaptureWidth scales single-shot captures; zero keeps 640.
	CaptureWidth int
	// TargetFPS is the tick rate recorded into trajectory documents.
	TargetFPS int
	// VideoDivisor records every Nth tick to video, default 4.
	VideoDivisor int
	// AutoStop force-stops a forgotten recording, default 10 minutes.
	AutoStop time.Duration
	// NewVideoWriter builds the video encoder for a package recording.
	// A start-time error here aborts the recording before any tick is
	// captured, so the caller can report a missing encoder up front.
	NewVideoWriter func(outPath string) (VideoWriter, error)
	// OnAutoStop is invoked after an auto-stop finalizes, if set.
	OnAutoStop func(*Result)
}

// session is one active recording. Entries accumulate under mu while
// the simulation loop keeps ticking.
type session struct {
	mode      Mode
	id        string
	startedAt time.Time
	timer     *time.Timer

	mu      sync.Mutex
	names   []string
	entries []poseEntry
	ticks   uint64

	// package mode only
	workDir    string
	videoEvery uint64
	capture    *packageCapture
}

// Manager owns the recording slot. It is the loop's tick sink and the
// command layer's start/stop surface; only one recording runs at a time.
type Manager struct {
	config ManagerConfig
	store  *FrameStore
	logger *utils.Logger

	lastFrame atomic.Pointer[physics.Frame]

	mu     sync.Mutex
	active *session
}

// NewManager builds a recorder writing archives under config.DownloadsDir.
func NewManager(config ManagerConfig, logger *utils.Logger) *Manager {
	if config.TargetFPS <= 0 {
		config.TargetFPS = 60
	}
	if config.VideoDivisor <= 0 {
		config.VideoDivisor = defaultVideoDivisor
	}
	if config.AutoStop <= 0 {
		config.AutoStop = defaultAutoStop
	}
	if config.NewVideoWriter == nil {
		config.NewVideoWriter = defaultVideoWriter
	}
	return &Manager{
		config: config,
		store:  NewFrameStore(config.FramesDir, config.CaptureWidth, logger),
		logger: logger,
	}
}

// defaultVideoWriter probes for ffmpeg at start so a missing encoder
// fails the start command instead of the first frame.
func defaultVideoWriter(outPath string) (VideoWriter, error) {
	if err := probeFFmpeg(); err != nil {
		return nil, err
	}
	return NewFFmpegWriter(outPath), nil
}

// RecordTick feeds one simulation tick into the recorder. The frame is
// kept for single-shot captures even when no recording is active.
func (m *Manager) RecordTick(update *physics.PoseUpdate, frame *physics.Frame) {
	if frame != nil {
		m.lastFrame.Store(frame)
	}
	if update == nil {
		return
	}

	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.record(update, frame)
}

func (s *session) record(update *physics.PoseUpdate, frame *physics.Frame) {
	s.mu.Lock()
	if s.names == nil && len(update.PositionNames) > 0 {
		s.names = append([]string(nil), update.PositionNames...)
	}
	index := s.ticks
	s.entries = append(s.entries, entryFromUpdate(update, index))
	s.ticks++
	s.mu.Unlock()

	if s.capture != nil && frame != nil && index%s.videoEvery == 0 {
		s.capture.push(frame, index)
	}
}

// StartTrajectory begins a pose-only recording and returns its id.
func (m *Manager) StartTrajectory() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.slotFree(ModeTrajectory); err != nil {
		return "", err
	}

	s := &session{
		mode:      ModeTrajectory,
		id:        utils.GenerateShortID(),
		startedAt: time.Now(),
	}
	s.timer = time.AfterFunc(m.config.AutoStop, func() { m.fireAutoStop(s) })
	m.active = s

	m.logger.Info("Trajectory recording started", utils.String("id", s.id))
	return s.id, nil
}

// StartVideo begins a package recording (video + images + trajectory)
// and returns its id. Fails up front when no video encoder is available.
func (m *Manager) StartVideo() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.slotFree(ModePackage); err != nil {
		return "", err
	}

	id := utils.GenerateShortID()
	workDir := filepath.Join(m.config.DownloadsDir, "pkg-"+id)
	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return "", fmt.Errorf("create recording workspace: %w", err)
	}

	writer, err := m.config.NewVideoWriter(filepath.Join(workDir, "video.mp4"))
	if err != nil {
		_ = os.RemoveAll(workDir)
		return "", err
	}

	videoFPS := m.config.TargetFPS / m.config.VideoDivisor
	if videoFPS < 1 {
		videoFPS = 1
	}
	s := &session{
		mode:       ModePackage,
		id:         id,
		startedAt:  time.Now(),
		workDir:    workDir,
		videoEvery: uint64(m.config.VideoDivisor),
		capture:    newPackageCapture(writer, framesDir, videoFPS),
	}
	s.timer = time.AfterFunc(m.config.AutoStop, func() { m.fireAutoStop(s) })
	m.active = s

	m.logger.Info("Video recording started",
		utils.String("id", s.id), utils.Int("video_fps", videoFPS))
	return s.id, nil
}

func (m *Manager) slotFree(want Mode) error {
	if m.active == nil {
		return nil
	}
	if m.active.mode == want {
		return ErrAlreadyRecording
	}
	return ErrModeConflict
}

// StopTrajectory finalizes an active trajectory recording.
func (m *Manager) StopTrajectory() (*Result, error) {
	return m.stop(ModeTrajectory)
}

// StopVideo finalizes an active package recording.
func (m *Manager) StopVideo() (*Result, error) {
	return m.stop(ModePackage)
}

func (m *Manager) stop(want Mode) (*Result, error) {
	m.mu.Lock()
	s := m.active
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNotRecording
	}
	if s.mode != want {
		m.mu.Unlock()
		return nil, ErrModeConflict
	}
	m.active = nil
	m.mu.Unlock()

	s.timer.Stop()
	return m.finalize(s)
}

// fireAutoStop is the timer path: only acts when the session is still
// the active one, so a normal stop that raced the timer wins.
func (m *Manager) fireAutoStop(s *session) {
	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.mu.Unlock()

	m.logger.Warn("Recording auto-stopped",
		utils.String("id", s.id),
		utils.String("mode", string(s.mode)),
		utils.Duration("after", m.config.AutoStop))

	result, err := m.finalize(s)
	if err != nil {
		m.logger.Error("Auto-stop finalize failed", utils.Err(err))
		return
	}
	if m.config.OnAutoStop != nil {
		m.config.OnAutoStop(result)
	}
}

// finalize builds the trajectory document and the archive. The session
// is already detached, so at most one late tick can still be appending;
// the snapshot under s.mu settles what the archive contains.
func (m *Manager) finalize(s *session) (*Result, error) {
	s.mu.Lock()
	entries := s.entries
	names := s.names
	ticks := s.ticks
	s.mu.Unlock()

	result := &Result{
		Mode:     s.mode,
		ID:       s.id,
		Frames:   len(entries),
		Duration: time.Since(s.startedAt).Round(time.Millisecond),
	}

	doc, err := buildTrajectoryDoc(s.id, float64(m.config.TargetFPS), names, entries)
	if err != nil {
		m.discardWorkspace(s)
		return nil, fmt.Errorf("build trajectory document: %w", err)
	}

	if err := os.MkdirAll(m.config.DownloadsDir, 0o755); err != nil {
		m.discardWorkspace(s)
		return nil, fmt.Errorf("create downloads dir: %w", err)
	}

	archive := []archiveEntry{{name: "trajectory.bin", data: doc}}
	var archiveName string

	switch s.mode {
	case ModeTrajectory:
		archiveName = fmt.Sprintf("trajectory-%s.zip", s.id)

	case ModePackage:
		if err := s.capture.close(); err != nil {
			// Keep the trajectory even when the video side broke.
			m.logger.Warn("Video capture finished with error", utils.Err(err))
		}
		result.VideoFrames = s.capture.written.Load()
		result.VideoDropped = s.capture.dropped.Load()

		videoPath := filepath.Join(s.workDir, "video.mp4")
		if info, err := os.Stat(videoPath); err == nil && info.Size() > 0 {
			archive = append(archive, archiveEntry{name: "video.mp4", path: videoPath})
		}
		framesDir := filepath.Join(s.workDir, "frames")
		if info, err := os.Stat(framesDir); err == nil && info.IsDir() {
			archive = append(archive, archiveEntry{name: "frames", path: framesDir})
		}
		archiveName = fmt.Sprintf("package-%s.zip", s.id)
	}

	archivePath := filepath.Join(m.config.DownloadsDir, archiveName)
	if err := writeArchive(archivePath, archive); err != nil {
		m.discardWorkspace(s)
		return nil, fmt.Errorf("write archive: %w", err)
	}
	m.discardWorkspace(s)

	result.ArchivePath = archivePath
	result.DownloadURL = "/downloads/" + archiveName

	m.logger.Info("Recording finished",
		utils.String("id", s.id),
		utils.String("mode", string(s.mode)),
		utils.Uint64("ticks", ticks),
		utils.String("archive", archivePath))
	return result, nil
}

func (m *Manager) discardWorkspace(s *session) {
	if s.workDir != "" {
		_ = os.RemoveAll(s.workDir)
	}
}

// CaptureFrame writes the newest rendered frame as the shared current
// image and returns its path.
func (m *Manager) CaptureFrame() (string, error) {
	frame := m.lastFrame.Load()
	if frame == nil {
		return "", ErrNoFrame
	}
	return m.store.WriteCurrent(frame)
}

// MakeSnapshot writes the newest rendered frame as a timestamped
// snapshot and returns the snapshot path.
func (m *Manager) MakeSnapshot() (string, error) {
	frame := m.lastFrame.Load()
	if frame == nil {
		return "", ErrNoFrame
	}
	return m.store.WriteSnapshot(frame)
}

// Stats reports whether a recording runs and how far it has gotten.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()

	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	ticks := s.ticks
	s.mu.Unlock()
	return Stats{Recording: true, Mode: s.mode, ID: s.id, Ticks: ticks}
}

// Close finalizes any active recording so its data is not lost on
// shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()
	if s == nil {
		return
	}

	s.timer.Stop()
	if _, err := m.finalize(s); err != nil {
		m.logger.Warn("Recording discarded on shutdown", utils.Err(err))
	}
}
