package recording

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/utils"
)

const (
	defaultCaptureWidth = 640
	jpegQuality         = 85
)

// encodeJPEG converts a packed RGB frame to JPEG, resized to targetWidth
// with the aspect ratio preserved. targetWidth <= 0 keeps the native size.
func encodeJPEG(frame *physics.Frame, targetWidth int) ([]byte, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 ||
		len(frame.Pixels) < frame.Width*frame.Height*3 {
		return nil, errors.New("recording: empty frame")
	}

	w, h := frame.Width, frame.Height
	if targetWidth > 0 && targetWidth != w {
		h = frame.Height * targetWidth / frame.Width
		if h < 1 {
			h = 1
		}
		w = targetWidth
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := y * frame.Height / h
		for x := 0; x < w; x++ {
			sx := x * frame.Width / w
			si := (sy*frame.Width + sx) * 3
			di := y*img.Stride + x*4
			img.Pix[di] = frame.Pixels[si]
			img.Pix[di+1] = frame.Pixels[si+1]
			img.Pix[di+2] = frame.Pixels[si+2]
			img.Pix[di+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameStore writes captured frames into the shared directory for the
// capture_frame and make_snapshot commands. Every write refreshes
// timestamp.txt with the capture time.
type FrameStore struct {
	dir    string
	width  int
	logger *utils.Logger

	mu sync.Mutex
}

func NewFrameStore(dir string, width int, logger *utils.Logger) *FrameStore {
	if width <= 0 {
		width = defaultCaptureWidth
	}
	if logger == nil {
		logger = utils.DefaultLogger("frames")
	}
	return &FrameStore{dir: dir, width: width, logger: logger}
}

// WriteCurrent captures the frame as current_frame.jpg.
func (s *FrameStore) WriteCurrent(frame *physics.Frame) (string, error) {
	return s.write(frame, "")
}

// WriteSnapshot captures the frame and also keeps a timestamped copy for
// downstream tools.
func (s *FrameStore) WriteSnapshot(frame *physics.Frame) (string, error) {
	stamped := fmt.Sprintf("snapshot-%s.jpg", time.Now().UTC().Format("20060102T150405Z"))
	return s.write(frame, stamped)
}

func (s *FrameStore) write(frame *physics.Frame, extraName string) (string, error) {
	data, err := encodeJPEG(frame, s.width)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create frames dir: %w", err)
	}

	path := filepath.Join(s.dir, "current_frame.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	if extraName != "" {
		extra := filepath.Join(s.dir, extraName)
		if err := os.WriteFile(extra, data, 0o644); err != nil {
			return "", fmt.Errorf("write snapshot: %w", err)
		}
		path = extra
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(filepath.Join(s.dir, "timestamp.txt"), []byte(stamp), 0o644); err != nil {
		s.logger.Warn("Timestamp write failed", utils.Err(err))
	}
	return path, nil
}
