package media

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/utils"
)

// EncoderFactory builds the per-session encoder for a preset.
type EncoderFactory func(Preset) (Encoder, error)

// CandidateFunc receives locally gathered ICE candidates for a session.
type CandidateFunc func(sessionID string, candidate webrtc.ICECandidateInit)

// ManagerConfig tunes the session manager.
type ManagerConfig struct {
	STUNServers []string       `json:"stun_servers"`
	Encoders    EncoderFactory `json:"-"`
}

// DefaultManagerConfig returns production defaults: public STUN and the
// ffmpeg pipe encoder.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:global.stun.twilio.com:3478",
		},
		Encoders: func(p Preset) (Encoder, error) { return NewH264PipeEncoder(p) },
	}
}

// ManagerStats aggregates per-session counters.
type ManagerStats struct {
	Sessions []SessionStats `json:"sessions"`
	Created  uint64         `json:"created"`
	Closed   uint64         `json:"closed"`
}

// SessionManager owns every viewer session: one H.264-capable WebRTC
// API shared by all peer connections, offer/answer negotiation, and the
// frame fan-out from the simulation loop.
type SessionManager struct {
	logger       *slog.Logger
	api          *webrtc.API
	webrtcConfig webrtc.Configuration
	encoders     EncoderFactory

	mu       sync.RWMutex
	sessions map[string]*Session

	created atomic.Uint64
	closed  atomic.Uint64
}

// NewSessionManager registers H.264 with a dedicated media engine and
// prepares the shared WebRTC API.
func NewSessionManager(config ManagerConfig, logger *slog.Logger) (*SessionManager, error) {
	defaults := DefaultManagerConfig()
	if config.Encoders == nil {
		config.Encoders = defaults.Encoders
	}
	if len(config.STUNServers) == 0 {
		config.STUNServers = defaults.STUNServers
	}

	engine := &webrtc.MediaEngine{}
	err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("register h264 codec: %w", err)
	}

	var iceServers []webrtc.ICEServer
	for _, server := range config.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	return &SessionManager{
		logger: logger.With("component", "media"),
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(engine)),
		webrtcConfig: webrtc.Configuration{
			ICEServers:    iceServers,
			BundlePolicy:  webrtc.BundlePolicyMaxCompat,
			RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
		},
		encoders: config.Encoders,
		sessions: make(map[string]*Session),
	}, nil
}

// CreateSession negotiates one viewer: build the encoder and track,
// answer the remote offer, and start the frame pump. Gathered local
// candidates flow through onCandidate as trickle ICE.
func (m *SessionManager) CreateSession(offer webrtc.SessionDescription, quality string, onCandidate CandidateFunc) (*Session, webrtc.SessionDescription, error) {
	preset := PresetFor(quality)

	encoder, err := m.encoders(preset)
	if err != nil {
		return nil, webrtc.SessionDescription{}, fmt.Errorf("build encoder: %w", err)
	}

	pc, err := m.api.NewPeerConnection(m.webrtcConfig)
	if err != nil {
		closeEncoder(encoder)
		return nil, webrtc.SessionDescription{}, fmt.Errorf("create peer connection: %w", err)
	}

	fail := func(stage string, err error) (*Session, webrtc.SessionDescription, error) {
		_ = pc.Close()
		closeEncoder(encoder)
		return nil, webrtc.SessionDescription{}, fmt.Errorf("%s: %w", stage, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "marionette",
	)
	if err != nil {
		return fail("create track", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return fail("add track", err)
	}
	go drainRTCP(sender)

	bucket, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     int64(preset.FPS),
			Duration: time.Second,
			Burst:    int64(preset.FPS),
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return fail("create limiter", err)
	}

	id := utils.GenerateID()
	session := newSession(id, preset, track, encoder, bucket, m.logger)
	session.pc = pc

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || onCandidate == nil {
			return
		}
		onCandidate(id, candidate.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debug("peer connection state changed", "session", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			m.Remove(id)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()
	m.created.Add(1)

	go session.pump()

	m.logger.Info("media session created",
		"session", id,
		"preset", preset.Name,
		"width", preset.Width,
		"height", preset.Height,
		"fps", preset.FPS)
	return session, answer, nil
}

// Negotiate answers a remote offer and returns the new session id. It
// is the signaling-facing wrapper around CreateSession for callers that
// never touch the session itself.
func (m *SessionManager) Negotiate(offer webrtc.SessionDescription, quality string, onCandidate CandidateFunc) (string, webrtc.SessionDescription, error) {
	session, answer, err := m.CreateSession(offer, quality, onCandidate)
	if err != nil {
		return "", webrtc.SessionDescription{}, err
	}
	return session.ID(), answer, nil
}

// AddCandidate applies a remote trickle-ICE candidate.
func (m *SessionManager) AddCandidate(sessionID string, candidate webrtc.ICECandidateInit) error {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown media session %q", sessionID)
	}
	return session.pc.AddICECandidate(candidate)
}

// PushFrame fans one rendered frame out to every session. Letterboxing
// runs per session, so the fan-out is parallel like the state broadcast.
func (m *SessionManager) PushFrame(frame *physics.Frame) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		snapshot = append(snapshot, session)
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, session := range snapshot {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.PushFrame(frame)
		}(session)
	}
	wg.Wait()
}

// Remove tears one session down. Unknown IDs are a no-op so the state
// callback and explicit disconnects can race safely.
func (m *SessionManager) Remove(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	session.Close()
	m.closed.Add(1)
	m.logger.Info("media session closed", "session", sessionID)
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats snapshots every session plus lifetime counters.
func (m *SessionManager) Stats() ManagerStats {
	m.mu.RLock()
	sessions := make([]SessionStats, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session.Stats())
	}
	m.mu.RUnlock()

	return ManagerStats{
		Sessions: sessions,
		Created:  m.created.Load(),
		Closed:   m.closed.Load(),
	}
}

// Close drops every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, session := range sessions {
		session.Close()
		m.closed.Add(1)
		m.logger.Debug("media session closed during shutdown", "session", id)
	}
	m.logger.Info("media manager closed", "sessions", len(sessions))
}

func closeEncoder(encoder Encoder) {
	if closer, ok := encoder.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// drainRTCP keeps the sender's report stream read so interceptors run.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
