package media

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/nmxmxh/marionette/internal/physics"
)

const (
	// throttleBacklog is the ring pressure above which pushes throttle.
	throttleBacklog = 10
	// throttleFactor is the push-rate cut applied under sustained backlog.
	throttleFactor = 5
)

// frameLimiter paces frame pushes. The token-bucket limiter satisfies it.
type frameLimiter interface {
	Allow(key string) bool
}

// SessionStats is the per-viewer snapshot exposed by the manager.
type SessionStats struct {
	ID          string        `json:"id"`
	Preset      string        `json:"preset"`
	Pushed      uint64        `json:"pushed"`
	RateLimited uint64        `json:"rate_limited"`
	Throttled   uint64        `json:"throttled"`
	RingDrops   uint64        `json:"ring_drops"`
	Written     uint64        `json:"written"`
	Skipped     uint64        `json:"skipped"`
	PTS         time.Duration `json:"pts"`
}

// Session is one viewer's stream: letterbox into the preset geometry,
// ring-buffer to the pump, encode, write onto the sample track. The
// simulation loop pushes frames; the pump paces them at the preset FPS.
type Session struct {
	id     string
	preset Preset
	logger *slog.Logger

	pc        *webrtc.PeerConnection
	letterbox *Letterbox
	ring      *frameRing
	track     *sampleTrack
	limiter   frameLimiter

	pushSeq     atomic.Uint64
	pushed      atomic.Uint64
	rateLimited atomic.Uint64
	throttled   atomic.Uint64

	stop    chan struct{}
	stopped sync.Once
}

// newSession wires the frame pipeline. The peer connection is attached
// by the manager; pipeline tests run without one.
func newSession(id string, preset Preset, writer sampleWriter, encoder Encoder, limiter frameLimiter, logger *slog.Logger) *Session {
	return &Session{
		id:        id,
		preset:    preset,
		logger:    logger,
		letterbox: NewLetterbox(preset.Width, preset.Height),
		ring:      newFrameRing(preset.Width * preset.Height * 3),
		track:     newSampleTrack(writer, encoder),
		limiter:   limiter,
		stop:      make(chan struct{}),
	}
}

// ID returns the session key used in signaling messages.
func (s *Session) ID() string {
	return s.id
}

// PushFrame offers one rendered frame. Never blocks: the token bucket
// paces pushes to the preset rate, and sustained ring pressure cuts the
// admitted rate by up to throttleFactor until the pump catches up.
func (s *Session) PushFrame(frame *physics.Frame) {
	if !s.limiter.Allow(s.id) {
		s.rateLimited.Add(1)
		return
	}
	if s.ring.Pressure() > throttleBacklog && s.pushSeq.Add(1)%throttleFactor != 0 {
		s.throttled.Add(1)
		return
	}

	s.ring.Push(s.letterbox.Transform(frame))
	s.pushed.Add(1)
}

// pump drains the ring at the preset FPS. An empty ring re-serves the
// last-good frame; the track's hash check keeps that free.
func (s *Session) pump() {
	ticker := time.NewTicker(time.Second / time.Duration(s.preset.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			frame, _ := s.ring.Pull()
			if err := s.track.writeFrame(frame); err != nil {
				s.logger.Debug("frame write failed", "session", s.id, "error", err)
			}
		}
	}
}

// Close stops the pump and tears down the peer connection. Safe to call
// more than once.
func (s *Session) Close() {
	s.stopped.Do(func() {
		close(s.stop)
		if closer, ok := s.track.encoder.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		if s.pc != nil {
			_ = s.pc.Close()
		}
	})
}

// Stats snapshots the pipeline counters.
func (s *Session) Stats() SessionStats {
	written, skipped := s.track.counts()
	return SessionStats{
		ID:          s.id,
		Preset:      s.preset.Name,
		Pushed:      s.pushed.Load(),
		RateLimited: s.rateLimited.Load(),
		Throttled:   s.throttled.Load(),
		RingDrops:   s.ring.Drops(),
		Written:     written,
		Skipped:     skipped,
		PTS:         s.track.PTS(),
	}
}
