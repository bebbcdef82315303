package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/reward"
)

func ctxOf(v float32) *latent.Context {
	return &latent.Context{Values: []float32{v, v, v}}
}

func specOf(name string) *reward.Spec {
	return &reward.Spec{
		Rewards: []reward.PrimitiveSpec{{Name: name, Params: reward.Params{}}},
		Weights: []float64{1},
	}
}

func TestState_ApplyBumpsGeneration(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.ActiveContext())
	assert.Zero(t, s.Generation())

	s.Apply(ctxOf(1), specOf("move-ego"), "")

	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, float32(1), s.ActiveContext().Values[0])
	spec, source := s.Active()
	require.NotNil(t, spec)
	assert.Equal(t, "move-ego", spec.Rewards[0].Name)
	assert.Empty(t, source)
}

func TestState_ApplyIfCurrentRejectsStaleGeneration(t *testing.T) {
	s := NewState()
	s.Apply(ctxOf(1), nil, "npz")

	// 1. A computation scheduled now would capture this generation.
	gen := s.Generation()

	// 2. Anything writing the slot moves the generation on.
	s.Apply(ctxOf(2), nil, "npz")

	// 3. The stale completion is rejected and changes nothing.
	assert.False(t, s.ApplyIfCurrent(gen, ctxOf(9), specOf("late"), ""))
	assert.Equal(t, float32(2), s.ActiveContext().Values[0])
	spec, _ := s.Active()
	assert.Nil(t, spec)

	// 4. A fresh capture applies.
	gen = s.Generation()
	assert.True(t, s.ApplyIfCurrent(gen, ctxOf(3), specOf("fresh"), ""))
	assert.Equal(t, float32(3), s.ActiveContext().Values[0])
}

func TestState_ClearPreservesOrResets(t *testing.T) {
	s := NewState()
	fallback := ctxOf(0)
	s.Apply(ctxOf(5), specOf("move-ego"), "")

	// 1. preserve keeps the live context but drops the spec and blocks
	// any in-flight result.
	gen := s.Generation()
	s.Clear(true, fallback)
	assert.Equal(t, float32(5), s.ActiveContext().Values[0])
	spec, source := s.Active()
	assert.Nil(t, spec)
	assert.Empty(t, source)
	assert.False(t, s.ApplyIfCurrent(gen, ctxOf(9), nil, ""))

	// 2. Without preserve the slot resets to the fallback.
	s.Clear(false, fallback)
	assert.Equal(t, float32(0), s.ActiveContext().Values[0])
}

func TestState_ActiveReturnsAClone(t *testing.T) {
	s := NewState()
	s.Apply(ctxOf(1), specOf("move-ego"), "")

	spec, _ := s.Active()
	spec.Rewards[0].Params["move_speed"] = 99.0

	again, _ := s.Active()
	assert.NotContains(t, again.Rewards[0].Params, "move_speed")
}

func TestState_TakeLastStatusClears(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.TakeLastStatus())

	s.RecordStatus("msg-1", "error", errors.New("sampler empty"))

	status := s.TakeLastStatus()
	require.NotNil(t, status)
	assert.Equal(t, "msg-1", status.MessageID)
	assert.Equal(t, "error", status.Status)
	assert.Contains(t, status.Error, "sampler empty")
	assert.NotEmpty(t, status.FinishedAt)

	assert.Nil(t, s.TakeLastStatus())
}
