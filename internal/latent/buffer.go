package latent

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	capnp "zombiezen.com/go/capnproto2"

	motionv1 "github.com/nmxmxh/marionette/gen/motion/v1"
	"github.com/nmxmxh/marionette/internal/physics"
)

// bufferVersion is the RewardBufferTable format this build reads.
const bufferVersion = 1

// Sample is one precomputed reference state: the snapshot reward
// primitives read and the observation the policy consumes.
type Sample struct {
	Snapshot    *physics.Snapshot
	Observation []float32
}

// RewardBuffer is the immutable table of reference samples loaded once at
// startup. Reward specifications are evaluated against it instead of the
// live environment.
type RewardBuffer struct {
	samples   []Sample
	bodyNames []string
}

// LoadRewardBuffer reads a capnp RewardBufferTable from path. A .br suffix
// means brotli-compressed.
func LoadRewardBuffer(path string) (*RewardBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reward buffer: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".br") {
		r = brotli.NewReader(f)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read reward buffer: %w", err)
	}
	return ParseRewardBuffer(raw)
}

// ParseRewardBuffer decodes an uncompressed capnp RewardBufferTable.
func ParseRewardBuffer(raw []byte) (*RewardBuffer, error) {
	msg, err := capnp.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal reward buffer: %w", err)
	}
	table, err := motionv1.ReadRootRewardBufferTable(msg)
	if err != nil {
		return nil, fmt.Errorf("read reward buffer root: %w", err)
	}
	if v := table.Version(); v != bufferVersion {
		return nil, fmt.Errorf("reward buffer version %d, want %d", v, bufferVersion)
	}

	names, err := table.BodyNames()
	if err != nil {
		return nil, err
	}
	bodyNames := make([]string, names.Len())
	for i := range bodyNames {
		if bodyNames[i], err = names.At(i); err != nil {
			return nil, err
		}
	}

	rows, err := table.Samples()
	if err != nil {
		return nil, err
	}
	if rows.Len() == 0 {
		return nil, fmt.Errorf("reward buffer is empty")
	}

	buf := &RewardBuffer{
		samples:   make([]Sample, rows.Len()),
		bodyNames: bodyNames,
	}
	for i := 0; i < rows.Len(); i++ {
		row := rows.At(i)

		qpos, err := readF64List(row.Qpos)
		if err != nil {
			return nil, fmt.Errorf("sample %d qpos: %w", i, err)
		}
		qvel, err := readF64List(row.Qvel)
		if err != nil {
			return nil, fmt.Errorf("sample %d qvel: %w", i, err)
		}
		flat, err := readF64List(row.BodyPositions)
		if err != nil {
			return nil, fmt.Errorf("sample %d body positions: %w", i, err)
		}
		if len(flat) != 3*len(bodyNames) {
			return nil, fmt.Errorf("sample %d: %d position values for %d bodies", i, len(flat), len(bodyNames))
		}
		positions := make([][3]float64, len(bodyNames))
		for j := range positions {
			positions[j] = [3]float64{flat[3*j], flat[3*j+1], flat[3*j+2]}
		}

		obsList, err := row.Observation()
		if err != nil {
			return nil, fmt.Errorf("sample %d observation: %w", i, err)
		}
		obs := make([]float32, obsList.Len())
		for j := range obs {
			obs[j] = obsList.At(j)
		}

		buf.samples[i] = Sample{
			Snapshot: &physics.Snapshot{
				Qpos:      qpos,
				Qvel:      qvel,
				BodyPos:   positions,
				BodyNames: bodyNames,
			},
			Observation: obs,
		}
	}
	return buf, nil
}

func readF64List(get func() (capnp.Float64List, error)) ([]float64, error) {
	list, err := get()
	if err != nil {
		return nil, err
	}
	out := make([]float64, list.Len())
	for i := range out {
		out[i] = list.At(i)
	}
	return out, nil
}

// Len returns the sample count.
func (b *RewardBuffer) Len() int {
	return len(b.samples)
}

// Sample returns the i-th reference sample. The snapshot is shared; callers
// treat it as read-only.
func (b *RewardBuffer) Sample(i int) Sample {
	return b.samples[i]
}

// Observations returns every observation row, for sampler fitting.
func (b *RewardBuffer) Observations() [][]float32 {
	out := make([][]float32, len(b.samples))
	for i := range b.samples {
		out[i] = b.samples[i].Observation
	}
	return out
}
