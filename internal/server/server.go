// Package server binds the HTTP surface: the command websocket, media
// signaling, archive downloads and a health probe. It owns the two
// listeners and nothing else; the handlers hand connections straight to
// the dispatcher and the media session manager.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"golang.org/x/net/netutil"

	"github.com/nmxmxh/marionette/internal/dispatch"
	"github.com/nmxmxh/marionette/internal/media"
	"github.com/nmxmxh/marionette/internal/recording"
	"github.com/nmxmxh/marionette/internal/simloop"
)

// defaultMaxConnections caps concurrent connections per listener.
const defaultMaxConnections = 256

// CommandHandler owns one command websocket for its lifetime.
type CommandHandler interface {
	HandleConn(conn dispatch.CommandConn)
}

// MediaNegotiator is the session-manager surface signaling drives.
type MediaNegotiator interface {
	Negotiate(offer webrtc.SessionDescription, quality string, onCandidate media.CandidateFunc) (string, webrtc.SessionDescription, error)
	AddCandidate(sessionID string, candidate webrtc.ICECandidateInit) error
	Remove(sessionID string)
	Len() int
}

// LoopSource feeds loop diagnostics into the health probe.
type LoopSource interface {
	Stats() simloop.Stats
}

// RecorderSource feeds recording diagnostics into the health probe.
type RecorderSource interface {
	Stats() recording.Stats
}

// PeerCounter reports connected command subscribers.
type PeerCounter interface {
	Len() int
}

// Config carries the listen surface.
type Config struct {
	ChannelAddr    string
	MediaAddr      string
	DownloadsDir   string
	MaxConnections int
}

// Deps are the server's collaborators. Commands and Media are required;
// the health sources may be nil.
type Deps struct {
	Commands CommandHandler
	Media    MediaNegotiator
	Loop     LoopSource
	Recorder RecorderSource
	Peers    PeerCounter
	Logger   *slog.Logger
}

// Server owns the channel and media listeners.
type Server struct {
	config Config
	deps   Deps
	logger *slog.Logger

	upgrader websocket.Upgrader

	channel *http.Server
	media   *http.Server

	channelLn net.Listener
	mediaLn   net.Listener
}

func New(config Config, deps Deps) (*Server, error) {
	switch {
	case deps.Commands == nil:
		return nil, errors.New("server: command handler is required")
	case deps.Media == nil:
		return nil, errors.New("server: media negotiator is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = defaultMaxConnections
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Viewers connect from file:// pages and dev hosts alike.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	channelMux := http.NewServeMux()
	channelMux.HandleFunc("/ws", s.handleCommandSocket)
	channelMux.HandleFunc("/healthz", s.handleHealthz)
	channelMux.Handle("/downloads/", http.StripPrefix("/downloads/",
		http.FileServer(http.Dir(config.DownloadsDir))))

	mediaMux := http.NewServeMux()
	mediaMux.HandleFunc("/media", s.handleMediaSocket)

	s.channel = &http.Server{Handler: channelMux}
	s.media = &http.Server{Handler: mediaMux}
	return s, nil
}

// Start binds both listeners and serves in the background. A bind
// failure on either address is reported before anything accepts.
func (s *Server) Start() error {
	channelLn, err := net.Listen("tcp", s.config.ChannelAddr)
	if err != nil {
		return fmt.Errorf("bind channel listener: %w", err)
	}
	mediaLn, err := net.Listen("tcp", s.config.MediaAddr)
	if err != nil {
		_ = channelLn.Close()
		return fmt.Errorf("bind media listener: %w", err)
	}

	s.channelLn = netutil.LimitListener(channelLn, s.config.MaxConnections)
	s.mediaLn = netutil.LimitListener(mediaLn, s.config.MaxConnections)

	go s.serve(s.channel, s.channelLn, "channel")
	go s.serve(s.media, s.mediaLn, "media")

	s.logger.Info("listeners up",
		"channel", channelLn.Addr().String(),
		"media", mediaLn.Addr().String(),
		"max_connections", s.config.MaxConnections)
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("listener failed", "listener", name, "error", err)
	}
}

// ChannelAddr returns the bound channel address, nil before Start.
func (s *Server) ChannelAddr() net.Addr {
	if s.channelLn == nil {
		return nil
	}
	return s.channelLn.Addr()
}

// MediaAddr returns the bound media address, nil before Start.
func (s *Server) MediaAddr() net.Addr {
	if s.mediaLn == nil {
		return nil
	}
	return s.mediaLn.Addr()
}

// Shutdown stops accepting and drains the HTTP side. Live websockets
// are owned by the registry and the session manager and close with
// those.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, srv := range []*http.Server{s.channel, s.media} {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleCommandSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("command upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.deps.Commands.HandleConn(conn)
	_ = conn.Close()
}

func (s *Server) handleMediaSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("media upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := &signalSession{
		conn:   conn,
		media:  s.deps.Media,
		logger: s.logger,
	}
	sess.run()
}

// healthStatus is the /healthz payload.
type healthStatus struct {
	Status        string          `json:"status"`
	Subscribers   int             `json:"subscribers"`
	MediaSessions int             `json:"media_sessions"`
	Loop          simloop.Stats   `json:"loop"`
	Recording     recording.Stats `json:"recording"`
	Timestamp     string          `json:"timestamp"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{
		Status:        "ok",
		MediaSessions: s.deps.Media.Len(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.deps.Peers != nil {
		status.Subscribers = s.deps.Peers.Len()
	}
	if s.deps.Loop != nil {
		status.Loop = s.deps.Loop.Stats()
	}
	if s.deps.Recorder != nil {
		status.Recording = s.deps.Recorder.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug("health encode failed", "error", err)
	}
}
