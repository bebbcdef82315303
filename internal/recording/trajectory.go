package recording

import (
	"fmt"
	"time"

	capnp "zombiezen.com/go/capnproto2"

	motion "github.com/nmxmxh/marionette/gen/motion/v1"
	"github.com/nmxmxh/marionette/internal/physics"
)

// poseEntry is one captured tick, flattened for the trajectory document.
type poseEntry struct {
	timestampNs int64
	frameIndex  uint64
	trans       [3]float64
	pose        [][3]float64
	qpos        []float64
	positions   [][3]float64
}

func entryFromUpdate(update *physics.PoseUpdate, index uint64) poseEntry {
	return poseEntry{
		timestampNs: time.Now().UnixNano(),
		frameIndex:  index,
		trans:       update.Trans,
		pose:        update.Pose,
		qpos:        update.Qpos,
		positions:   update.Positions,
	}
}

// buildTrajectoryDoc serializes captured entries into the binary
// trajectory document, entry-for-entry compatible with smpl_update.
func buildTrajectoryDoc(id string, fps float64, names []string, entries []poseEntry) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, fmt.Errorf("new message: %w", err)
	}

	doc, err := motion.NewRootTrajectoryDoc(seg)
	if err != nil {
		return nil, fmt.Errorf("new trajectory doc: %w", err)
	}
	if err := doc.SetId(id); err != nil {
		return nil, err
	}
	doc.SetCreatedAtNs(time.Now().UnixNano())
	doc.SetFps(fps)

	nameList, err := doc.NewPositionNames(int32(len(names)))
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		if err := nameList.Set(i, name); err != nil {
			return nil, err
		}
	}

	frames, err := doc.NewFrames(int32(len(entries)))
	if err != nil {
		return nil, err
	}
	for i, entry := range entries {
		frame := frames.At(i)
		frame.SetTimestampNs(entry.timestampNs)
		frame.SetFrameIndex(entry.frameIndex)

		trans, err := frame.NewTrans(3)
		if err != nil {
			return nil, err
		}
		for j, v := range entry.trans {
			trans.Set(j, v)
		}

		pose, err := frame.NewPose(int32(3 * len(entry.pose)))
		if err != nil {
			return nil, err
		}
		for j, aa := range entry.pose {
			pose.Set(3*j, aa[0])
			pose.Set(3*j+1, aa[1])
			pose.Set(3*j+2, aa[2])
		}

		qpos, err := frame.NewQpos(int32(len(entry.qpos)))
		if err != nil {
			return nil, err
		}
		for j, v := range entry.qpos {
			qpos.Set(j, v)
		}

		positions, err := frame.NewPositions(int32(3 * len(entry.positions)))
		if err != nil {
			return nil, err
		}
		for j, p := range entry.positions {
			positions.Set(3*j, p[0])
			positions.Set(3*j+1, p[1])
			positions.Set(3*j+2, p[2])
		}
	}

	data, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal trajectory: %w", err)
	}
	return data, nil
}
