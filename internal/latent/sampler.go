package latent

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/cdipaolo/goml/cluster"
)

// Sampler draws batch indices into the reward buffer. Draws may happen
// concurrently (mixing runs two computations at once).
type Sampler interface {
	Draw(n int) []int
}

// NewSampler builds the configured sampler kind over the buffer.
func NewSampler(kind string, buffer *RewardBuffer, seed int64) (Sampler, error) {
	switch kind {
	case "", "uniform":
		return NewUniformSampler(buffer.Len(), seed), nil
	case "stratified":
		return NewStratifiedSampler(buffer, seed)
	default:
		return nil, fmt.Errorf("unknown sampler kind %q", kind)
	}
}

// UniformSampler draws without replacement from the whole buffer.
type UniformSampler struct {
	mu   sync.Mutex
	rng  *rand.Rand
	size int
}

func NewUniformSampler(size int, seed int64) *UniformSampler {
	return &UniformSampler{rng: rand.New(rand.NewSource(seed)), size: size}
}

// Draw implements Sampler. Asking for the whole buffer or more returns
// every index.
func (s *UniformSampler) Draw(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n >= s.size {
		out := make([]int, s.size)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return s.rng.Perm(s.size)[:n]
}

const (
	stratifiedClusters = 16
	kmeansIterations   = 10
)

// StratifiedSampler clusters buffer observations once with KMeans and draws
// proportionally per cluster, so small behavioral modes keep representation
// in every batch.
type StratifiedSampler struct {
	mu       sync.Mutex
	rng      *rand.Rand
	clusters [][]int
	size     int
}

func NewStratifiedSampler(buffer *RewardBuffer, seed int64) (*StratifiedSampler, error) {
	obs := buffer.Observations()
	if len(obs) < stratifiedClusters {
		return nil, fmt.Errorf("buffer too small to stratify: %d samples", len(obs))
	}

	training := make([][]float64, len(obs))
	for i, row := range obs {
		training[i] = make([]float64, len(row))
		for j, v := range row {
			training[i][j] = float64(v)
		}
	}

	model := cluster.NewKMeans(stratifiedClusters, kmeansIterations, training)
	if err := model.Learn(); err != nil {
		return nil, fmt.Errorf("fit stratified sampler: %w", err)
	}

	// Predict returns the cluster index wrapped in a one-element vector.
	groups := make([][]int, stratifiedClusters)
	for i, row := range training {
		pred, err := model.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("assign sample %d: %w", i, err)
		}
		if len(pred) == 0 {
			return nil, fmt.Errorf("assign sample %d: empty prediction", i)
		}
		k := int(pred[0])
		if k < 0 || k >= stratifiedClusters {
			return nil, fmt.Errorf("assign sample %d: cluster %d out of range", i, k)
		}
		groups[k] = append(groups[k], i)
	}

	return &StratifiedSampler{
		rng:      rand.New(rand.NewSource(seed)),
		clusters: groups,
		size:     len(obs),
	}, nil
}

// Draw implements Sampler: proportional allocation per cluster, remainder
// assigned to the clusters with the most unused members.
func (s *StratifiedSampler) Draw(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n >= s.size {
		out := make([]int, s.size)
		for i := range out {
			out[i] = i
		}
		return out
	}

	take := make([]int, len(s.clusters))
	allocated := 0
	for i, members := range s.clusters {
		take[i] = n * len(members) / s.size
		if take[i] > len(members) {
			take[i] = len(members)
		}
		allocated += take[i]
	}
	for allocated < n {
		best, bestFree := -1, 0
		for i, members := range s.clusters {
			if free := len(members) - take[i]; free > bestFree {
				best, bestFree = i, free
			}
		}
		if best < 0 {
			break
		}
		take[best]++
		allocated++
	}

	out := make([]int, 0, n)
	for i, members := range s.clusters {
		if take[i] == 0 {
			continue
		}
		perm := s.rng.Perm(len(members))
		for _, j := range perm[:take[i]] {
			out = append(out, members[j])
		}
	}
	return out
}
