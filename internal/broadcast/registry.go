package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// Dedupe window sizing: ids inserted per generation before rotation.
	dedupeCapacity = 4096
	dedupeFPRate   = 0.001
	dedupeRotation = 512
)

// BroadcastReport summarizes one fan-out.
type BroadcastReport struct {
	Recipients int  // peers the message was enqueued to
	Dropped    int  // peers whose queue rejected it
	Stale      int  // peers already marked for removal
	Duplicate  bool // suppressed by the dedupe window
}

// RegistryStats is the snapshot exposed through debug_model_info.
type RegistryStats struct {
	Peers      int         `json:"peers"`
	Broadcasts uint64      `json:"broadcasts"`
	Duplicates uint64      `json:"duplicates"`
	PeerStats  []PeerStats `json:"peer_stats"`
}

// Registry tracks connected subscribers and broadcasts to all of them.
// Message ids are deduplicated through a pair of bloom filter generations:
// inserts go to the current generation, lookups consult both, and every
// 512 insertions the current generation becomes the previous one. The
// effective window is therefore at least 512 recent ids.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer

	seenMu     sync.Mutex
	seen       *bloom.BloomFilter
	prevSeen   *bloom.BloomFilter
	insertions int

	broadcasts atomic.Uint64
	duplicates atomic.Uint64
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger.With("component", "broadcast"),
		peers:    make(map[string]*Peer),
		seen:     bloom.NewWithEstimates(dedupeCapacity, dedupeFPRate),
		prevSeen: bloom.NewWithEstimates(dedupeCapacity, dedupeFPRate),
	}
}

// Add registers a connection and starts its writer goroutine.
func (r *Registry) Add(conn Conn) *Peer {
	peer := newPeer(conn, r.logger, r.removeFailed)

	r.mu.Lock()
	r.peers[peer.id] = peer
	count := len(r.peers)
	r.mu.Unlock()

	go peer.writeLoop()
	r.logger.Info("peer registered", "peer", peer.id, "peers", count)
	return peer
}

// Remove closes the peer and forgets it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	peer, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	count := len(r.peers)
	r.mu.Unlock()

	if !ok {
		return
	}
	peer.Close()
	r.logger.Info("peer removed", "peer", id, "peers", count)
}

func (r *Registry) removeFailed(p *Peer) {
	r.Remove(p.id)
}

// Broadcast marshals msg once and fans it out to every peer. A non-empty
// messageID is checked against the dedupe window first; repeats are
// suppressed entirely.
func (r *Registry) Broadcast(messageID string, msg interface{}) (BroadcastReport, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return BroadcastReport{}, fmt.Errorf("marshal broadcast: %w", err)
	}
	return r.BroadcastRaw(messageID, data), nil
}

// BroadcastRaw fans pre-serialized bytes out to every peer.
func (r *Registry) BroadcastRaw(messageID string, data []byte) BroadcastReport {
	if messageID != "" && r.isDuplicate(messageID) {
		r.duplicates.Add(1)
		r.logger.Debug("duplicate broadcast suppressed", "message_id", messageID)
		return BroadcastReport{Duplicate: true}
	}
	r.broadcasts.Add(1)

	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	// enqueue never blocks, so the fan-out is a straight loop.
	var report BroadcastReport
	for _, p := range peers {
		switch {
		case p.stale.Load():
			report.Stale++
		case p.enqueue(data):
			report.Recipients++
		default:
			report.Dropped++
		}
	}
	return report
}

// isDuplicate tests both filter generations and records the id.
func (r *Registry) isDuplicate(id string) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()

	key := []byte(id)
	if r.seen.Test(key) || r.prevSeen.Test(key) {
		return true
	}

	r.seen.Add(key)
	r.insertions++
	if r.insertions >= dedupeRotation {
		r.prevSeen = r.seen
		r.seen = bloom.NewWithEstimates(dedupeCapacity, dedupeFPRate)
		r.insertions = 0
	}
	return false
}

// Len returns the current subscriber count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Stats snapshots the registry and every peer.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	stats := RegistryStats{
		Peers:      len(r.peers),
		Broadcasts: r.broadcasts.Load(),
		Duplicates: r.duplicates.Load(),
		PeerStats:  make([]PeerStats, 0, len(r.peers)),
	}
	for _, p := range r.peers {
		stats.PeerStats = append(stats.PeerStats, p.Stats())
	}
	r.mu.RUnlock()
	return stats
}

// Close removes every peer. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	r.logger.Info("registry closed", "peers", len(peers))
}
