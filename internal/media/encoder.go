package media

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ErrEncoderUnavailable means no ffmpeg binary was found on PATH.
var ErrEncoderUnavailable = errors.New("media: ffmpeg not found")

const encoderUnitBacklog = 8

// H264PipeEncoder drives one ffmpeg process per session: packed RGB in
// on stdin, Annex-B H.264 out on stdout. Output is chunked on NAL
// boundaries so every payload holds complete units. The first frame or
// two may produce no payload while the encoder primes.
type H264PipeEncoder struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	units      chan []byte
	frameBytes int
	frameDur   time.Duration

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewH264PipeEncoder starts ffmpeg for the preset geometry. Returns
// ErrEncoderUnavailable when the binary is missing.
func NewH264PipeEncoder(preset Preset) (*H264PipeEncoder, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrEncoderUnavailable
	}

	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgb24",
		"-video_size", fmt.Sprintf("%dx%d", preset.Width, preset.Height),
		"-framerate", fmt.Sprintf("%d", preset.FPS),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-x264-params", "repeat-headers=1",
		"-f", "h264",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	e := &H264PipeEncoder{
		cmd:        cmd,
		stdin:      stdin,
		units:      make(chan []byte, encoderUnitBacklog),
		frameBytes: preset.Width * preset.Height * 3,
		frameDur:   time.Second / time.Duration(preset.FPS),
	}
	go e.readLoop(stdout)
	return e, nil
}

// readLoop chunks ffmpeg's byte stream on NAL start codes. Bytes after
// the last boundary stay pending until the next read completes them.
func (e *H264PipeEncoder) readLoop(stdout io.Reader) {
	defer close(e.units)

	buf := make([]byte, 64*1024)
	var pending []byte
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			if cut := lastStartCode(pending); cut > 0 {
				complete := append([]byte(nil), pending[:cut]...)
				copy(pending, pending[cut:])
				pending = pending[:len(pending)-cut]

				select {
				case e.units <- complete:
				default:
					e.mu.Lock()
					e.dropped++
					e.mu.Unlock()
				}
			}
		}
		if err != nil {
			if len(pending) > 0 {
				select {
				case e.units <- pending:
				default:
				}
			}
			return
		}
	}
}

// lastStartCode returns the index of the final NAL start code, or 0
// when no unit after the first is complete yet.
func lastStartCode(b []byte) int {
	for i := len(b) - 3; i > 0; i-- {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if b[i-1] == 0 {
				return i - 1
			}
			return i
		}
	}
	return 0
}

// Encode feeds one frame in and drains whatever complete units ffmpeg
// has produced so far.
func (e *H264PipeEncoder) Encode(frame []byte) ([]byte, time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, 0, errors.New("encoder closed")
	}
	if len(frame) != e.frameBytes {
		return nil, 0, fmt.Errorf("frame is %d bytes, want %d", len(frame), e.frameBytes)
	}
	if _, err := e.stdin.Write(frame); err != nil {
		return nil, 0, fmt.Errorf("feed encoder: %w", err)
	}

	var payload []byte
	for {
		select {
		case unit, ok := <-e.units:
			if !ok {
				return nil, 0, errors.New("encoder terminated")
			}
			payload = append(payload, unit...)
		default:
			return payload, e.frameDur, nil
		}
	}
}

// Close shuts the input pipe and reaps the process.
func (e *H264PipeEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stdin.Close()
	return e.cmd.Wait()
}
