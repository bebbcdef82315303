package testutil

import (
	"fmt"
	"sync"
)

// FakePolicy is a deterministic stand-in for the pretrained model. Each
// inference entry point derives its output from its inputs, so distinct
// requests produce distinct contexts.
type FakePolicy struct {
	mu sync.Mutex

	ActionSize  int
	ContextSize int

	ActCalls    int
	InferCalls  int
	LastRewards []float32

	ActErr   error
	InferErr error

	QualityValue float64
}

func NewFakePolicy() *FakePolicy {
	return &FakePolicy{ActionSize: 69, ContextSize: 256, QualityValue: 80}
}

func (p *FakePolicy) ActionDim() int  { return p.ActionSize }
func (p *FakePolicy) ContextDim() int { return p.ContextSize }

func (p *FakePolicy) Act(obs, ctx []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ActErr != nil {
		return nil, p.ActErr
	}
	p.ActCalls++
	out := make([]float32, p.ActionSize)
	var seed float32
	for _, v := range obs {
		seed += v
	}
	for _, v := range ctx {
		seed += v
	}
	for i := range out {
		out[i] = seed * 1e-4
	}
	return out, nil
}

// contextFrom spreads a scalar seed across the context dimensions.
func (p *FakePolicy) contextFrom(seed float32) []float32 {
	out := make([]float32, p.ContextSize)
	for i := range out {
		out[i] = seed + float32(i)*1e-3
	}
	return out
}

func (p *FakePolicy) RewardWeightedInference(obsBatch [][]float32, rewards []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InferErr != nil {
		return nil, p.InferErr
	}
	if len(obsBatch) != len(rewards) {
		return nil, fmt.Errorf("batch %d with %d rewards", len(obsBatch), len(rewards))
	}
	p.InferCalls++
	p.LastRewards = append([]float32(nil), rewards...)

	var mean float32
	for _, r := range rewards {
		mean += r
	}
	if len(rewards) > 0 {
		mean /= float32(len(rewards))
	}
	return p.contextFrom(mean), nil
}

func (p *FakePolicy) poseInference(obs []float32, tag float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InferErr != nil {
		return nil, p.InferErr
	}
	p.InferCalls++
	var sum float32
	for _, v := range obs {
		sum += v
	}
	return p.contextFrom(sum*1e-3 + tag), nil
}

func (p *FakePolicy) GoalInference(obs []float32) ([]float32, error) {
	return p.poseInference(obs, 1)
}

func (p *FakePolicy) TrackingInference(obs []float32) ([]float32, error) {
	return p.poseInference(obs, 2)
}

func (p *FakePolicy) EmbeddingInference(obs []float32) ([]float32, error) {
	return p.poseInference(obs, 3)
}

func (p *FakePolicy) Quality(obs, ctx []float32) (float64, error) {
	return p.QualityValue, nil
}
