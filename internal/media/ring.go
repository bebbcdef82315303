package media

import "sync"

// ringDepth bounds frames waiting between the push side (simulation
// tick) and the pump (encode + send). Video only needs the latest few
// frames; anything older is better dropped than sent late.
const ringDepth = 3

// frameRing is the bounded FIFO between producer and pump. A full push
// evicts the oldest frame. An empty pull returns the last frame served,
// or an all-black frame before any push arrives, so the pump always has
// something to keep the stream alive.
type frameRing struct {
	mu       sync.Mutex
	buf      [][]byte
	last     []byte
	blank    []byte
	drops    uint64
	pressure int // pushes dropped since the pump last kept up
}

func newFrameRing(frameBytes int) *frameRing {
	return &frameRing{blank: make([]byte, frameBytes)}
}

// Push appends a frame, evicting the oldest when full. Reports whether
// an eviction happened.
func (r *frameRing) Push(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if len(r.buf) >= ringDepth {
		r.buf = r.buf[1:]
		r.drops++
		r.pressure++
		evicted = true
	}
	r.buf = append(r.buf, frame)
	return evicted
}

// Pull returns the next frame and whether it is fresh. An empty ring
// serves the last-good frame (blank before the first push).
func (r *frameRing) Pull() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) == 0 {
		if r.last == nil {
			return r.blank, false
		}
		return r.last, false
	}

	frame := r.buf[0]
	r.buf = r.buf[1:]
	r.last = frame
	r.pressure = 0
	return frame, true
}

// Pressure reports evictions since the last successful pull.
func (r *frameRing) Pressure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pressure
}

// Drops reports total evictions.
func (r *frameRing) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// Len reports queued frames.
func (r *frameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
