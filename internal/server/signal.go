package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/nmxmxh/marionette/internal/media"
)

// signalWriteDeadline bounds one signaling write.
const signalWriteDeadline = 5 * time.Second

// signalEnvelope is one inbound signaling message.
type signalEnvelope struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp"`
	Quality       string  `json:"quality"`
	SessionID     string  `json:"session_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index"`
}

type signalAnswer struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	SDP       string `json:"sdp"`
	Timestamp string `json:"timestamp"`
}

type signalCandidate struct {
	Type          string  `json:"type"`
	SessionID     string  `json:"session_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

type signalError struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// signalSession speaks the media signaling protocol over one websocket:
// webrtc_offer in, webrtc_answer out, ice_candidate both ways. Each
// socket carries at most one viewer session; a fresh offer replaces it.
type signalSession struct {
	conn   *websocket.Conn
	media  MediaNegotiator
	logger *slog.Logger

	writeMu   sync.Mutex
	sessionID string
}

func (s *signalSession) run() {
	defer func() {
		if s.sessionID != "" {
			s.media.Remove(s.sessionID)
		}
		_ = s.conn.Close()
	}()

	s.logger.Info("signaling client connected", "remote", s.conn.RemoteAddr().String())
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("signaling client disconnected", "error", err)
			return
		}
		s.handle(data)
	}
}

func (s *signalSession) handle(data []byte) {
	var env signalEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		s.sendError("message", "malformed signal: missing type")
		return
	}

	switch env.Type {
	case "webrtc_offer":
		s.handleOffer(env)
	case "ice_candidate":
		s.handleCandidate(env)
	default:
		s.sendError(env.Type, "unknown signal type")
	}
}

func (s *signalSession) handleOffer(env signalEnvelope) {
	if env.SDP == "" {
		s.sendError("webrtc_offer", "missing sdp")
		return
	}

	// A new offer on a live socket replaces the previous viewer.
	if s.sessionID != "" {
		s.media.Remove(s.sessionID)
		s.sessionID = ""
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: env.SDP}
	id, answer, err := s.media.Negotiate(offer, env.Quality, s.trickle)
	if err != nil {
		s.logger.Warn("offer rejected", "error", err)
		s.sendError("webrtc_offer", err.Error())
		return
	}
	s.sessionID = id

	s.send(signalAnswer{
		Type:      "webrtc_answer",
		SessionID: id,
		SDP:       answer.SDP,
		Timestamp: signalTimestamp(),
	})
}

// trickle forwards locally gathered candidates to the client. Pion
// invokes it from its own goroutines, so writes stay behind writeMu.
func (s *signalSession) trickle(sessionID string, candidate webrtc.ICECandidateInit) {
	s.send(signalCandidate{
		Type:          "ice_candidate",
		SessionID:     sessionID,
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
		Timestamp:     signalTimestamp(),
	})
}

func (s *signalSession) handleCandidate(env signalEnvelope) {
	if env.Candidate == "" {
		s.sendError("ice_candidate", "missing candidate")
		return
	}
	if s.sessionID == "" {
		s.sendError("ice_candidate", "no active media session")
		return
	}
	if env.SessionID != "" && env.SessionID != s.sessionID {
		s.sendError("ice_candidate", "unknown session "+env.SessionID)
		return
	}
	if _, err := media.ParseICECandidate(env.Candidate); err != nil {
		s.sendError("ice_candidate", err.Error())
		return
	}

	err := s.media.AddCandidate(s.sessionID, webrtc.ICECandidateInit{
		Candidate:     env.Candidate,
		SDPMid:        env.SDPMid,
		SDPMLineIndex: env.SDPMLineIndex,
	})
	if err != nil {
		s.sendError("ice_candidate", err.Error())
	}
}

func (s *signalSession) send(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(signalWriteDeadline))
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug("signal write failed", "error", err)
	}
}

func (s *signalSession) sendError(kind, message string) {
	s.send(signalError{
		Type:      kind + "_error",
		Error:     message,
		Timestamp: signalTimestamp(),
	})
}

func signalTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
