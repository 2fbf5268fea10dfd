// Package capture owns the camera device lifecycle and turns a live video
// frame into a still Artifact plus an external head count.
package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

// Constraints describe the requested video stream.
type Constraints struct {
	FacingMode string
	Width      int
	Height     int
}

// DefaultConstraints asks for the rear camera at 1280x720.
func DefaultConstraints() Constraints {
	return Constraints{FacingMode: FacingEnvironment, Width: 1280, Height: 720}
}

// Camera is the platform video capability.
type Camera interface {
	// Open acquires an exclusive video stream.
	Open(ctx context.Context, c Constraints) (VideoStream, error)
}

// VideoStream is an acquired camera. Frame may return an image with empty
// bounds while the device is still warming up.
type VideoStream interface {
	Frame(ctx context.Context) (image.Image, error)
	Stop() error
}

// Artifact is one encoded still taken from the live stream.
type Artifact struct {
	Data       []byte    `json:"-"`
	MimeType   string    `json:"mimeType"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"capturedAt"`
}

// HeadcountService estimates how many people are visible in a still.
type HeadcountService interface {
	GetHeadcount(ctx context.Context, a Artifact) (int, error)
}

var (
	errNoCamera  = errors.New("no camera configured")
	errNoCounter = errors.New("no headcount service configured")
	errStopped   = errors.New("video stream stopped")
)
