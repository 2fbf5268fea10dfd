package engine

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/voice"
)

var errDenied = errors.New("permission denied")

type fakeRoster struct {
	students []models.Student
	err      error
}

func (f *fakeRoster) GetStudentsBySemester(ctx context.Context, semesterID string) ([]models.Student, error) {
	return f.students, f.err
}

type fakeVideo struct {
	mu    sync.Mutex
	stops int
}

func (v *fakeVideo) Frame(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 6)), nil
}

func (v *fakeVideo) Stop() error {
	v.mu.Lock()
	v.stops++
	v.mu.Unlock()
	return nil
}

func (v *fakeVideo) Stops() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stops
}

type fakeCamera struct {
	mu      sync.Mutex
	err     error
	streams []*fakeVideo
}

func (c *fakeCamera) Open(ctx context.Context, cons capture.Constraints) (capture.VideoStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	v := &fakeVideo{}
	c.streams = append(c.streams, v)
	return v, nil
}

func (c *fakeCamera) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeCamera) opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *fakeCamera) last() *fakeVideo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[len(c.streams)-1]
}

type fakeCounter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (f *fakeCounter) GetHeadcount(ctx context.Context, a capture.Artifact) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.err
}

func (f *fakeCounter) set(count int, err error) {
	f.mu.Lock()
	f.count, f.err = count, err
	f.mu.Unlock()
}

type fakeAudio struct {
	mu     sync.Mutex
	onData func([]byte)
	stops  int
}

func (a *fakeAudio) Format() voice.AudioFormat {
	return voice.AudioFormat{MimeType: voice.MimePCM, SampleRate: 16000, Channels: 1, BitDepth: 16}
}

func (a *fakeAudio) Start(onData func([]byte)) error {
	a.mu.Lock()
	a.onData = onData
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) Stop() error {
	a.mu.Lock()
	a.stops++
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) push(b []byte) {
	a.mu.Lock()
	fn := a.onData
	a.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (a *fakeAudio) Stops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

type fakeMic struct {
	mu      sync.Mutex
	streams []*fakeAudio
}

func (m *fakeMic) Open(ctx context.Context) (voice.AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &fakeAudio{}
	m.streams = append(m.streams, a)
	return a, nil
}

func (m *fakeMic) last() *fakeAudio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

type fakeSession struct {
	ev voice.SessionEvents
}

func (f *fakeSession) Start() error  { return nil }
func (f *fakeSession) Write([]byte) {}
func (f *fakeSession) Stop() error   { return nil }

type fakeLocal struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (l *fakeLocal) NewSession(format voice.AudioFormat, language string, ev voice.SessionEvents) (voice.LocalSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &fakeSession{ev: ev}
	l.sessions = append(l.sessions, s)
	return s, nil
}

func (l *fakeLocal) last() *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[len(l.sessions)-1]
}

type fakeTranscriber struct {
	mu      sync.Mutex
	result  *voice.RollCallResult
	err     error
	calls   int
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeTranscriber) ProcessRollCall(ctx context.Context, a voice.AudioBlob) (*voice.RollCallResult, error) {
	f.mu.Lock()
	f.calls++
	block, entered := f.block, f.entered
	res, err := f.result, f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchiver struct {
	mu    sync.Mutex
	blobs []voice.AudioBlob
}

func (f *fakeArchiver) Archive(ctx context.Context, a voice.AudioBlob) {
	f.mu.Lock()
	f.blobs = append(f.blobs, a)
	f.mu.Unlock()
}

func (f *fakeArchiver) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

type fakeCommitter struct {
	mu      sync.Mutex
	reqs    []services.CommitRequest
	errs    []error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeCommitter) Commit(ctx context.Context, req services.CommitRequest) (string, error) {
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "att-1", nil
}

func (f *fakeCommitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeCommitter) last() services.CommitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}
