package camera

import (
	"context"
	"image"
	"sync"
	"time"
)

// PushSource holds the latest frame uploaded by a remote client, typically
// the browser running the camera preview.
type PushSource struct {
	mu       sync.RWMutex
	acquired bool
	frame    image.Image
	pushedAt time.Time
	maxAge   time.Duration
	now      func() time.Time
}

// NewPushSource returns a source whose frames go stale after maxAge.
// A zero maxAge keeps frames until the next push.
func NewPushSource(maxAge time.Duration) *PushSource {
	return &PushSource{maxAge: maxAge, now: time.Now}
}

func (s *PushSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return ErrAlreadyAcquired
	}
	s.acquired = true
	s.frame = nil
	return nil
}

func (s *PushSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = false
	s.frame = nil
	return nil
}

// Push replaces the current frame. Frames pushed while the source is
// released are rejected.
func (s *PushSource) Push(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return ErrNotAcquired
	}
	s.frame = img
	s.pushedAt = s.now()
	return nil
}

func (s *PushSource) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquired && s.fresh()
}

func (s *PushSource) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.acquired {
		return nil, ErrNotAcquired
	}
	if !s.fresh() {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

// Err is always nil; a client that stops pushing only makes frames stale.
func (s *PushSource) Err() error {
	return nil
}

func (s *PushSource) fresh() bool {
	if s.frame == nil {
		return false
	}
	return s.maxAge <= 0 || s.now().Sub(s.pushedAt) <= s.maxAge
}
