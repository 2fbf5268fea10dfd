package voice

import (
	"context"
	"errors"
	"sync"
)

var errDenied = errors.New("permission denied")

type fakeAudio struct {
	mu      sync.Mutex
	format  AudioFormat
	onData  func([]byte)
	stopped int
}

func (a *fakeAudio) Format() AudioFormat { return a.format }

func (a *fakeAudio) Start(onData func([]byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onData = onData
	return nil
}

func (a *fakeAudio) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped++
	return nil
}

func (a *fakeAudio) push(chunk []byte) {
	a.mu.Lock()
	fn := a.onData
	a.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (a *fakeAudio) Stopped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	streams []*fakeAudio
}

func (m *fakeMic) Open(ctx context.Context) (AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeAudio{format: AudioFormat{MimeType: MimePCM, SampleRate: 16000, Channels: 1, BitDepth: 16}}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMic) last() *fakeAudio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

// fakeSession emits OnEnd synchronously from Stop, as browsers and most
// streaming clients do.
type fakeSession struct {
	ev SessionEvents

	mu       sync.Mutex
	starts   int
	stops    int
	written  int
	startErr error
}

func (s *fakeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	return nil
}

func (s *fakeSession) Write(chunk []byte) {
	s.mu.Lock()
	s.written += len(chunk)
	s.mu.Unlock()
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.ev.OnEnd()
	return nil
}

func (s *fakeSession) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *fakeSession) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *fakeSession) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

type fakeLocal struct {
	mu       sync.Mutex
	sessions []*fakeSession
	startErr error
	err      error
}

func (l *fakeLocal) NewSession(format AudioFormat, language string, ev SessionEvents) (LocalSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	s := &fakeSession{ev: ev, startErr: l.startErr}
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
	results []*RollCallResult
	errs    []error
	blobs   []AudioBlob
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeTranscriber) ProcessRollCall(ctx context.Context, audio AudioBlob) (*RollCallResult, error) {
	f.mu.Lock()
	f.blobs = append(f.blobs, audio)
	n := len(f.blobs) - 1
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
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	if n < len(f.results) {
		return f.results[n], nil
	}
	return &RollCallResult{}, nil
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

type fakeArchiver struct {
	mu    sync.Mutex
	blobs []AudioBlob
}

func (a *fakeArchiver) Archive(ctx context.Context, audio AudioBlob) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs = append(a.blobs, audio)
}

func (a *fakeArchiver) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blobs)
}
