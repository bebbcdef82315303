// Package broadcast maintains the set of command-channel subscribers and
// fans state updates out to them without letting one slow client stall
// the rest.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// peerQueueDepth bounds the per-peer send queue. Overflow evicts the
	// oldest pending message so a stalled client sees recent state, not a
	// growing backlog of stale updates.
	peerQueueDepth = 8

	// peerWriteDeadline bounds a single websocket write.
	peerWriteDeadline = 1500 * time.Millisecond
)

// ErrPeerClosed is returned when sending to a peer that has been marked
// stale or shut down.
var ErrPeerClosed = errors.New("peer closed")

// Conn is the websocket surface a peer writes through. *websocket.Conn
// satisfies it; tests inject fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// PeerStats is a point-in-time counter snapshot for one subscriber.
type PeerStats struct {
	ID      string `json:"id"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Stale   bool   `json:"stale"`
}

// Peer owns the write side of one subscriber connection. All writes go
// through a single goroutine; producers enqueue and never block.
type Peer struct {
	id     string
	conn   Conn
	logger *slog.Logger

	sendCh   chan []byte
	shutdown chan struct{}
	closed   sync.Once

	stale  atomic.Bool
	onFail func(*Peer)

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newPeer(conn Conn, logger *slog.Logger, onFail func(*Peer)) *Peer {
	return &Peer{
		id:       fmt.Sprintf("%s-%d", conn.RemoteAddr(), time.Now().UnixNano()),
		conn:     conn,
		logger:   logger,
		sendCh:   make(chan []byte, peerQueueDepth),
		shutdown: make(chan struct{}),
		onFail:   onFail,
	}
}

// ID returns the registry key: remote address plus connect-time nanos.
func (p *Peer) ID() string {
	return p.id
}

// Send marshals v and enqueues it for this peer only.
func (p *Peer) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal peer message: %w", err)
	}
	if !p.enqueue(data) {
		return ErrPeerClosed
	}
	return nil
}

// enqueue offers data to the writer, evicting the oldest pending message
// when the queue is full. Reports whether data was accepted.
func (p *Peer) enqueue(data []byte) bool {
	if p.stale.Load() {
		return false
	}

	select {
	case p.sendCh <- data:
		return true
	default:
	}

	// Queue full: drop the oldest entry, then retry once.
	select {
	case <-p.sendCh:
		p.dropped.Add(1)
	default:
	}
	select {
	case p.sendCh <- data:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// writeLoop is the single writer goroutine. A failed or timed-out write
// marks the peer stale and hands it back to the registry for removal.
func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.shutdown:
			return
		case data := <-p.sendCh:
			_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteDeadline))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.failed.Add(1)
				p.stale.Store(true)
				p.logger.Warn("peer write failed", "peer", p.id, "error", err)
				if p.onFail != nil {
					go p.onFail(p)
				}
				return
			}
			p.sent.Add(1)
		}
	}
}

// Close stops the writer and closes the underlying connection. Safe to
// call more than once.
func (p *Peer) Close() {
	p.closed.Do(func() {
		p.stale.Store(true)
		close(p.shutdown)
		_ = p.conn.Close()
	})
}

// Stats snapshots the per-peer counters.
func (p *Peer) Stats() PeerStats {
	return PeerStats{
		ID:      p.id,
		Sent:    p.sent.Load(),
		Dropped: p.dropped.Load(),
		Failed:  p.failed.Load(),
		Stale:   p.stale.Load(),
	}
}
