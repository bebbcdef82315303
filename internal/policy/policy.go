package policy

// Policy is the contract with the pretrained humanoid-control model. The
// model is a black box behind a fixed set of inference entry points; the
// server never trains or introspects it.
//
// All vectors are float32, matching the model's native precision. Context
// vectors have length ContextDim, observations whatever the environment
// emits, actions length ActionDim.
type Policy interface {
	// Act produces one control action for an observation under a context.
	Act(obs, ctx []float32) ([]float32, error)

	// RewardWeightedInference maps a batch of observations plus their
	// per-sample folded reward values to a context vector.
	RewardWeightedInference(obsBatch [][]float32, rewards []float32) ([]float32, error)

	// GoalInference, TrackingInference and EmbeddingInference map a single
	// target-pose observation to a context vector.
	GoalInference(obs []float32) ([]float32, error)
	TrackingInference(obs []float32) ([]float32, error)
	EmbeddingInference(obs []float32) ([]float32, error)

	// Quality scores how well an observation matches a context, 0 to 100.
	Quality(obs, ctx []float32) (float64, error)

	ActionDim() int
	ContextDim() int
}

// InferenceMode selects a pose-derived inference entry point.
type InferenceMode string

const (
	ModeGoal      InferenceMode = "goal"
	ModeTracking  InferenceMode = "tracking"
	ModeEmbedding InferenceMode = "embedding"
)

// Infer dispatches one pose observation to the named entry point.
func Infer(p Policy, mode InferenceMode, obs []float32) ([]float32, error) {
	switch mode {
	case ModeTracking:
		return p.TrackingInference(obs)
	case ModeEmbedding:
		return p.EmbeddingInference(obs)
	default:
		return p.GoalInference(obs)
	}
}
