// Package camera provides the frame sources the scanner reads from. A
// source is exclusively owned between Acquire and Release.
package camera

import (
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
)

var (
	ErrNoFrame          = errors.New("no frame available")
	ErrNotAcquired      = errors.New("frame source not acquired")
	ErrAlreadyAcquired  = errors.New("frame source already acquired")
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrUnavailable      = errors.New("camera unavailable")
)

type FrameSource interface {
	Acquire(ctx context.Context) error
	Release() error
	// Ready reports whether Frame can currently return a picture.
	Ready() bool
	Frame() (image.Image, error)
	// Err reports a failure that ended the frame stream after Acquire.
	// Sources that cannot fail that way return nil.
	Err() error
}

// DecodeFrame decodes a JPEG or PNG still.
func DecodeFrame(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return img, nil
}
