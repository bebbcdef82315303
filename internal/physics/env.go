package physics

// Environment is the contract with the physics simulator. Implementations
// are stateful and not safe for concurrent use: the simulation loop is the
// sole caller once the server is running, and ad-hoc reads (pose probes)
// are funneled through it.
type Environment interface {
	// Reset restores the initial pose and returns the first observation.
	Reset() ([]float32, error)

	// Step advances one physics step under the given control vector and
	// returns the next observation plus a termination flag.
	Step(action []float32) ([]float32, bool, error)

	// Observation returns the observation for the current state without
	// stepping.
	Observation() ([]float32, error)

	// Render draws the current state into an RGB frame.
	Render() (*Frame, error)

	// GetPhysicsState and SetPhysicsState capture and restore the full
	// simulator state. SetPhysicsState with a short Qvel zero-fills
	// velocities, which is what pose probes want.
	GetPhysicsState() (State, error)
	SetPhysicsState(State) error

	// Snapshot assembles the read-only view for reward evaluation and
	// pose conversion.
	Snapshot() (*Snapshot, error)

	// BodyPositions returns world positions ordered by the rig body list.
	BodyPositions() ([][3]float64, error)

	// SetParameter forwards a named runtime parameter (gravity, timestep,
	// actuator gains) to the simulator.
	SetParameter(name string, value float64) error

	// Rig describes the joint layout the environment simulates.
	Rig() *Rig
}
