package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

const maxSnapshotBytes = 20 << 20

// SnapshotCamera reads stills from a network camera's JPEG snapshot URL
// (most IP cameras expose one). Facing mode is fixed by where the camera is
// mounted; requested dimensions are applied by downscaling.
type SnapshotCamera struct {
	URL    string
	Client *http.Client
}

func NewSnapshotCamera(url string) *SnapshotCamera {
	return &SnapshotCamera{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *SnapshotCamera) Open(ctx context.Context, cons Constraints) (VideoStream, error) {
	if c.URL == "" {
		return nil, errNoCamera
	}
	s := &snapshotStream{cam: c, cons: cons}
	// probe once so an unreachable camera fails at acquisition, not at capture
	if _, err := s.fetch(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type snapshotStream struct {
	cam  *SnapshotCamera
	cons Constraints

	mu      sync.Mutex
	stopped bool
}

func (s *snapshotStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, errStopped
	}

	img, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.cons.Width > 0 && img.Bounds().Dx() > s.cons.Width {
		img = imaging.Resize(img, s.cons.Width, 0, imaging.Lanczos)
	}
	return img, nil
}

func (s *snapshotStream) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cam.URL, nil)
	if err != nil {
		return nil, err
	}
	client := s.cam.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned %s", resp.Status)
	}
	return imaging.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
}

func (s *snapshotStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
