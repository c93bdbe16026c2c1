package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/kdimtricp/labelscan/internal/logging"
)

type FFmpegConfig struct {
	FFmpegPath string
	// Device is a capture device (/dev/video0) or a video file.
	Device string
	// InputFormat is passed as -f before the input, e.g. v4l2 or avfoundation.
	// Empty for files.
	InputFormat string
	Width       int
	Height      int
	// Realtime reads file input at its native frame rate.
	Realtime bool
}

// FFmpegSource decodes a live device (or a recorded video) through ffmpeg
// into raw RGBA frames and keeps the most recent one.
type FFmpegSource struct {
	config FFmpegConfig

	mu       sync.RWMutex
	frame    *image.RGBA
	readErr  error
	acquired bool
	cancel   context.CancelFunc
	cmd      *exec.Cmd
	done     chan struct{}
	stderr   syncBuffer
}

// syncBuffer collects ffmpeg's stderr, which exec copies from its own
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func NewFFmpegSource(config FFmpegConfig) *FFmpegSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.Device == "" {
		config.Device = "/dev/video0"
	}
	return &FFmpegSource{config: config}
}

func (s *FFmpegSource) args() []string {
	args := []string{"-loglevel", "error", "-nostdin"}
	if s.config.Realtime {
		args = append(args, "-re")
	}
	if s.config.InputFormat != "" {
		args = append(args,
			"-f", s.config.InputFormat,
			"-video_size", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height))
	}
	args = append(args,
		"-i", s.config.Device,
		"-vf", fmt.Sprintf("scale=%d:%d", s.config.Width, s.config.Height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	)
	return args
}

func (s *FFmpegSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return ErrAlreadyAcquired
	}

	ffmpegPath := s.config.FFmpegPath
	if ffmpegPath == "" {
		p, err := exec.LookPath("ffmpeg")
		if err != nil {
			return fmt.Errorf("%w: ffmpeg not found in PATH: %v", ErrUnavailable, err)
		}
		ffmpegPath = p
	}

	if _, err := os.Stat(s.config.Device); err != nil {
		switch {
		case os.IsPermission(err):
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if f, err := os.Open(s.config.Device); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else {
		f.Close()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, ffmpegPath, s.args()...)
	s.stderr.Reset()
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	logging.Log.Debugf("[camera] running %s %v", ffmpegPath, s.args())
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrUnavailable, err)
	}

	s.acquired = true
	s.frame = nil
	s.readErr = nil
	s.cancel = cancel
	s.cmd = cmd
	s.done = make(chan struct{})

	go s.readFrames(stdout, s.done)

	logging.Log.Infof("[camera] acquired %s (%dx%d)", s.config.Device, s.config.Width, s.config.Height)
	return nil
}

func (s *FFmpegSource) readFrames(r io.Reader, done chan struct{}) {
	defer close(done)

	size := s.config.Width * s.config.Height * 4
	for {
		img := image.NewRGBA(image.Rect(0, 0, s.config.Width, s.config.Height))
		if _, err := io.ReadFull(r, img.Pix[:size]); err != nil {
			s.mu.Lock()
			s.readErr = err
			s.frame = nil
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.frame = img
		s.mu.Unlock()
	}
}

// Release stops ffmpeg and waits for the reader before returning, so the
// device is free for the next Acquire.
func (s *FFmpegSource) Release() error {
	s.mu.Lock()
	if !s.acquired {
		s.mu.Unlock()
		return nil
	}
	cancel, cmd, done := s.cancel, s.cmd, s.done
	s.acquired = false
	s.mu.Unlock()

	cancel()
	<-done
	err := cmd.Wait()

	s.mu.Lock()
	s.frame = nil
	s.cmd = nil
	s.cancel = nil
	s.mu.Unlock()

	logging.Log.Infof("[camera] released %s", s.config.Device)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("ffmpeg did not exit cleanly: %w", err)
	}
	return nil
}

func (s *FFmpegSource) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquired && s.frame != nil
}

func (s *FFmpegSource) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.acquired {
		return nil, ErrNotAcquired
	}
	if err := s.streamErr(); err != nil {
		return nil, err
	}
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

// Err reports why the frame stream ended while acquired. The end of a clip
// counts too: either way no further frames will arrive.
func (s *FFmpegSource) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.acquired {
		return nil
	}
	return s.streamErr()
}

func (s *FFmpegSource) streamErr() error {
	if s.readErr == nil {
		return nil
	}
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return fmt.Errorf("%w: %v (%s)", ErrUnavailable, s.readErr, msg)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, s.readErr)
}
