package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/utils"
)

type State int

const (
	StateUninitialized State = iota
	StateStreaming
	StateCaptured
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCaptured:
		return "captured"
	default:
		return "uninitialized"
	}
}

const defaultRetryDelay = 100 * time.Millisecond

type Options struct {
	Constraints Constraints
	// RetryDelay is the wait before the single retry of a zero-dimension frame.
	RetryDelay time.Duration
	Encoder    Encoder
	Logger     *logrus.Logger
}

// Result is a successful capture: the still and its head count.
type Result struct {
	Artifact Artifact
	Count    int
}

// Controller owns one camera stream at a time.
type Controller struct {
	camera  Camera
	counter HeadcountService
	opts    Options
	log     *logrus.Logger

	mu     sync.Mutex
	stream VideoStream
	state  State
	busy   bool
	// gen is bumped on every release so a capture that outlives its stream
	// cannot report into the next one.
	gen uint64
}

func NewController(camera Camera, counter HeadcountService, opts Options) *Controller {
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = DefaultConstraints()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Encoder == nil {
		opts.Encoder = JPEGEncoder{Quality: defaultQuality}
	}
	return &Controller{
		camera:  camera,
		counter: counter,
		opts:    opts,
		log:     logger.OrDiscard(opts.Logger),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a capture (and its head-count call) is outstanding.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Start acquires the camera, tearing down any stream this controller already holds.
func (c *Controller) Start(ctx context.Context) error {
	const op = "Controller.Start"

	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()

	if c.camera == nil {
		return utils.E(utils.CodeDeviceUnavailable, op, "cannot access camera", errNoCamera)
	}
	s, err := c.camera.Open(ctx, c.opts.Constraints)
	if err != nil {
		c.log.WithError(err).Warn("camera open failed")
		return utils.E(utils.CodeDeviceUnavailable, op, "cannot access camera", err)
	}
	c.stream = s
	c.state = StateStreaming
	c.log.WithFields(logrus.Fields{
		"facing": c.opts.Constraints.FacingMode,
		"width":  c.opts.Constraints.Width,
		"height": c.opts.Constraints.Height,
	}).Debug("camera streaming")
	return nil
}

// Capture snapshots the live frame and asks the head-count service about it.
// On a service failure the stream stays up so the operator can retry.
func (c *Controller) Capture(ctx context.Context) (*Result, error) {
	const op = "Controller.Capture"

	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return nil, utils.E(utils.CodeFailedPrecondition, op, "camera is not streaming", nil)
	}
	if c.busy {
		c.mu.Unlock()
		return nil, utils.E(utils.CodeConflict, op, "capture already in progress", nil)
	}
	c.busy = true
	stream, gen := c.stream, c.gen
	c.mu.Unlock()

	res, err := c.capture(ctx, stream)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil, utils.E(utils.CodeClosed, op, "camera released during capture", nil)
	}
	c.busy = false
	if err != nil {
		return nil, err
	}
	c.state = StateCaptured
	return res, nil
}

func (c *Controller) capture(ctx context.Context, stream VideoStream) (*Result, error) {
	const op = "Controller.Capture"

	img, err := c.snapshot(ctx, stream)
	if err != nil {
		return nil, err
	}

	data, mime, err := c.opts.Encoder.Encode(img)
	if err != nil {
		return nil, utils.E(utils.CodeCaptureFailed, op, "failed to encode still", err)
	}
	b := img.Bounds()
	art := Artifact{
		Data:       data,
		MimeType:   mime,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now().UTC(),
	}

	if c.counter == nil {
		return nil, utils.E(utils.CodeCaptureFailed, op, "capture failed", errNoCounter)
	}
	count, err := c.counter.GetHeadcount(ctx, art)
	if err != nil {
		c.log.WithError(err).Warn("headcount failed")
		return nil, utils.E(utils.CodeCaptureFailed, op, "capture failed", err)
	}
	if count < 0 {
		count = 0
	}
	c.log.WithFields(logrus.Fields{
		"width":  art.Width,
		"height": art.Height,
		"bytes":  len(art.Data),
		"count":  count,
	}).Info("still captured")
	return &Result{Artifact: art, Count: count}, nil
}

// snapshot reads one frame, retrying once after RetryDelay when the device
// has not produced real dimensions yet.
func (c *Controller) snapshot(ctx context.Context, stream VideoStream) (image.Image, error) {
	const op = "Controller.Capture"

	for attempt := 0; ; attempt++ {
		img, err := stream.Frame(ctx)
		if err != nil {
			return nil, utils.E(utils.CodeCaptureFailed, op, "failed to read video frame", err)
		}
		if img != nil && !img.Bounds().Empty() {
			return img, nil
		}
		if attempt > 0 {
			return nil, utils.E(utils.CodeCaptureFailed, op, "video frame has zero dimensions", nil)
		}

		c.log.WithField("retry_in", c.opts.RetryDelay.String()).Warn("video dimensions are 0, retrying")
		t := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, utils.E(utils.CodeCaptureFailed, op, "capture cancelled", ctx.Err())
		case <-t.C:
		}
	}
}

// Release stops the device unconditionally. Safe to call repeatedly.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

func (c *Controller) releaseLocked() {
	if c.stream != nil {
		if err := c.stream.Stop(); err != nil {
			c.log.WithError(err).Warn("camera stop failed")
		}
	}
	c.stream = nil
	c.state = StateUninitialized
	c.busy = false
	c.gen++
}
