package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/reward"
)

// ComputationStatus is the last terminal computation report, kept for
// debug_model_info and cleared once delivered.
type ComputationStatus struct {
	MessageID  string `json:"message_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	FinishedAt string `json:"finished_at"`
}

// State is the dispatcher's shared slice of truth: the active context
// slot the simulation loop reads every tick, the reward specification
// and pose source that produced it, and a generation counter. Every
// write bumps the generation, so an async computation scheduled against
// an older generation can detect that the slot moved on and discard its
// result.
type State struct {
	active     atomic.Pointer[latent.Context]
	generation atomic.Uint64

	mu         sync.Mutex
	spec       *reward.Spec
	poseSource string
	lastStatus *ComputationStatus
}

// NewState builds an empty slot. The server applies the warm default
// context before any client connects.
func NewState() *State {
	return &State{}
}

// ActiveContext returns the live context. Implements the simulation
// loop's context source; contexts are treated as immutable once stored.
func (s *State) ActiveContext() *latent.Context {
	return s.active.Load()
}

// Generation returns the current slot generation. Capture it before
// scheduling a computation, pass it back to ApplyIfCurrent.
func (s *State) Generation() uint64 {
	return s.generation.Load()
}

// Apply unconditionally installs a context with the spec or pose source
// that produced it.
func (s *State) Apply(ctx *latent.Context, spec *reward.Spec, poseSource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(ctx, spec, poseSource)
}

// ApplyIfCurrent installs the context only when the slot generation
// still matches gen. Reports whether the result was taken.
func (s *State) ApplyIfCurrent(gen uint64, ctx *latent.Context, spec *reward.Spec, poseSource string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation.Load() != gen {
		return false
	}
	s.applyLocked(ctx, spec, poseSource)
	return true
}

func (s *State) applyLocked(ctx *latent.Context, spec *reward.Spec, poseSource string) {
	if ctx != nil {
		s.active.Store(ctx)
	}
	s.spec = spec
	s.poseSource = poseSource
	s.generation.Add(1)
}

// Clear drops the active specification and pose source. With preserve
// false the context slot is reset to fallback; with preserve true the
// current context stays live. Either way the generation moves, so any
// in-flight computation result is discarded on arrival.
func (s *State) Clear(preserve bool, fallback *latent.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !preserve && fallback != nil {
		s.active.Store(fallback)
	}
	s.spec = nil
	s.poseSource = ""
	s.generation.Add(1)
}

// Active returns a copy of the applied specification (nil when none)
// and the pose source tag.
func (s *State) Active() (*reward.Spec, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spec == nil {
		return nil, s.poseSource
	}
	spec := s.spec.Clone()
	return &spec, s.poseSource
}

// RecordStatus remembers the terminal state of a computation for the
// next debug_model_info.
func (s *State) RecordStatus(messageID, status string, err error) {
	rec := &ComputationStatus{
		MessageID:  messageID,
		Status:     status,
		FinishedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.mu.Lock()
	s.lastStatus = rec
	s.mu.Unlock()
}

// TakeLastStatus returns the last computation report and clears it.
func (s *State) TakeLastStatus() *ComputationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.lastStatus
	s.lastStatus = nil
	return status
}
