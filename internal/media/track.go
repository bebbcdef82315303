package media

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// Encoder compresses one packed RGB frame into a track payload and
// reports the duration the sample covers. Implementations live outside
// this package; tests pass frames through unchanged.
type Encoder interface {
	Encode(frame []byte) (payload []byte, release time.Duration, err error)
}

// sampleWriter is the track surface the pump writes to.
// *webrtc.TrackLocalStaticSample satisfies it.
type sampleWriter interface {
	WriteSample(s pionmedia.Sample) error
}

// sampleTrack feeds encoded frames onto a WebRTC sample track. PTS is a
// monotonic sum of sample durations. A frame whose FNV-64a content hash
// matches the previous write is skipped, so re-served last-good frames
// cost nothing.
type sampleTrack struct {
	writer  sampleWriter
	encoder Encoder

	mu       sync.Mutex
	pts      time.Duration
	lastHash uint64
	hasHash  bool
	written  uint64
	skipped  uint64
}

func newSampleTrack(writer sampleWriter, encoder Encoder) *sampleTrack {
	return &sampleTrack{writer: writer, encoder: encoder}
}

func frameHash(frame []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(frame)
	return h.Sum64()
}

// writeFrame encodes and sends one frame. Duplicate frames are counted
// and dropped without touching the encoder.
func (t *sampleTrack) writeFrame(frame []byte) error {
	hash := frameHash(frame)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasHash && hash == t.lastHash {
		t.skipped++
		return nil
	}

	payload, release, err := t.encoder.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	// The encoder consumed the frame either way, so the duplicate check
	// tracks it even when output is still buffering.
	t.lastHash = hash
	t.hasHash = true

	if len(payload) == 0 {
		return nil
	}
	if release <= 0 {
		return fmt.Errorf("encoder returned non-positive duration %v", release)
	}

	if err := t.writer.WriteSample(pionmedia.Sample{Data: payload, Duration: release}); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	t.pts += release
	t.written++
	return nil
}

// PTS returns the cumulative presentation timestamp.
func (t *sampleTrack) PTS() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pts
}

func (t *sampleTrack) counts() (written, skipped uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written, t.skipped
}
