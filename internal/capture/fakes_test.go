package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
)

func solidFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 200, A: 255})
		}
	}
	return img
}

type fakeStream struct {
	mu      sync.Mutex
	frames  []image.Image // served in order; the last one repeats
	calls   int
	stopped int
	err     error
}

func (s *fakeStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.frames) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0)), nil
	}
	f := s.frames[0]
	if len(s.frames) > 1 {
		s.frames = s.frames[1:]
	}
	return f, nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCamera struct {
	mu      sync.Mutex
	streams []*fakeStream
	next    func() *fakeStream
	err     error
	opened  []Constraints
}

func (c *fakeCamera) Open(ctx context.Context, cons Constraints) (VideoStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, cons)
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeStream{frames: []image.Image{solidFrame(64, 48)}}
	if c.next != nil {
		s = c.next()
	}
	c.streams = append(c.streams, s)
	return s, nil
}

type fakeCounter struct {
	mu      sync.Mutex
	count   int
	err     error
	calls   int
	gotMime string
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeCounter) GetHeadcount(ctx context.Context, a Artifact) (int, error) {
	f.mu.Lock()
	f.calls++
	f.gotMime = a.MimeType
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.err
}

func (f *fakeCounter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errDenied = errors.New("permission denied")
