package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/marionette/internal/physics"
)

// ErrVideoToolMissing means no encoder binary is available, reported
// when a package recording is requested.
var ErrVideoToolMissing = errors.New("recording: ffmpeg not found")

// videoQueueDepth bounds frames waiting for the encoder. The loop never
// blocks on video; overflow frames are counted and dropped.
const videoQueueDepth = 16

// VideoWriter encodes a stream of packed RGB frames into a container
// file. Open fixes the geometry; WriteFrame is called at the recording
// rate; Close flushes and finalizes the file.
type VideoWriter interface {
	Open(width, height, fps int) error
	WriteFrame(rgb []byte) error
	Close() error
}

// probeFFmpeg reports whether an encoder binary is reachable on PATH.
func probeFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return ErrVideoToolMissing
	}
	return nil
}

// FFmpegWriter drives an ffmpeg subprocess: rawvideo on stdin, H.264 in
// an MP4 with +faststart so browsers can stream the result.
type FFmpegWriter struct {
	outPath string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
}

func NewFFmpegWriter(outPath string) *FFmpegWriter {
	return &FFmpegWriter{outPath: outPath}
}

func (w *FFmpegWriter) Open(width, height, fps int) error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ErrVideoToolMissing
	}

	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgb24",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", w.outPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("video stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	return nil
}

func (w *FFmpegWriter) WriteFrame(rgb []byte) error {
	if w.stdin == nil {
		return errors.New("video writer not open")
	}
	_, err := w.stdin.Write(rgb)
	return err
}

func (w *FFmpegWriter) Close() error {
	if w.cmd == nil {
		return nil
	}
	_ = w.stdin.Close()
	err := w.cmd.Wait()
	w.cmd = nil
	w.stdin = nil
	return err
}

type capturedFrame struct {
	index  uint64
	width  int
	height int
	pixels []byte
}

// packageCapture is the async side of a package recording: one goroutine
// owns the video writer and the per-frame JPEG directory, fed through a
// bounded channel so a slow encoder cannot stall the simulation loop.
// The writer opens lazily with the first frame's geometry; later frames
// with different geometry are dropped.
type packageCapture struct {
	writer    VideoWriter
	framesDir string
	fps       int

	ch   chan capturedFrame
	done chan struct{}

	// closeMu lets in-flight pushes finish before the channel closes.
	closeMu sync.RWMutex
	closed  bool

	queued  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64

	errMu    sync.Mutex
	firstErr error

	opened        bool
	width, height int
}

func newPackageCapture(writer VideoWriter, framesDir string, fps int) *packageCapture {
	p := &packageCapture{
		writer:    writer,
		framesDir: framesDir,
		fps:       fps,
		ch:        make(chan capturedFrame, videoQueueDepth),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// push clones the frame into the queue; a full or closed queue drops it.
func (p *packageCapture) push(frame *physics.Frame, index uint64) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}

	captured := capturedFrame{
		index:  index,
		width:  frame.Width,
		height: frame.Height,
		pixels: append([]byte(nil), frame.Pixels...),
	}
	select {
	case p.ch <- captured:
		p.queued.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *packageCapture) run() {
	defer close(p.done)

	for frame := range p.ch {
		if p.failed() {
			continue
		}

		if !p.opened {
			if err := p.writer.Open(frame.width, frame.height, p.fps); err != nil {
				p.fail(fmt.Errorf("open video writer: %w", err))
				continue
			}
			p.opened = true
			p.width, p.height = frame.width, frame.height
		}
		if frame.width != p.width || frame.height != p.height {
			p.dropped.Add(1)
			continue
		}

		if err := p.writer.WriteFrame(frame.pixels); err != nil {
			p.fail(fmt.Errorf("write video frame: %w", err))
			continue
		}

		jpg, err := encodeJPEG(&physics.Frame{
			Width:  frame.width,
			Height: frame.height,
			Pixels: frame.pixels,
		}, 0)
		if err == nil {
			name := filepath.Join(p.framesDir, fmt.Sprintf("%06d.jpg", frame.index))
			err = os.WriteFile(name, jpg, 0o644)
		}
		if err != nil {
			p.fail(fmt.Errorf("write frame image: %w", err))
			continue
		}

		p.written.Add(1)
	}
}

func (p *packageCapture) fail(err error) {
	p.errMu.Lock()
	if p.firstErr == nil {
		p.firstErr = err
	}
	p.errMu.Unlock()
}

func (p *packageCapture) failed() bool {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.firstErr != nil
}

// close drains the queue, finalizes the video file and reports the first
// error seen anywhere in the pipeline.
func (p *packageCapture) close() error {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.closeMu.Unlock()
	<-p.done

	var closeErr error
	if p.opened {
		closeErr = p.writer.Close()
	}

	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.firstErr != nil {
		return p.firstErr
	}
	return closeErr
}
