package stt

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/voice"
)

type recvItem struct {
	resp *speechpb.StreamingRecognizeResponse
	err  error
}

type fakeStream struct {
	grpc.ClientStream

	mu         sync.Mutex
	sent       []*speechpb.StreamingRecognizeRequest
	closedSend chan struct{}
	once       sync.Once
	recv       chan recvItem
}

func newFakeStream() *fakeStream {
	return &fakeStream{closedSend: make(chan struct{}), recv: make(chan recvItem, 16)}
}

func (f *fakeStream) Send(r *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.once.Do(func() { close(f.closedSend) })
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	it, ok := <-f.recv
	if !ok {
		return nil, io.EOF
	}
	return it.resp, it.err
}

func (f *fakeStream) audioBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.sent {
		n += len(r.GetAudioContent())
	}
	return n
}

func result(text string, final bool) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
			IsFinal:      final,
		}},
	}
}

type recorder struct {
	mu      sync.Mutex
	results [][]string
	errs    []string
	starts  int
	ends    chan struct{}
}

func newRecorder() *recorder { return &recorder{ends: make(chan struct{}, 4)} }

func (r *recorder) events() voice.SessionEvents {
	return voice.SessionEvents{
		OnStart: func() { r.mu.Lock(); r.starts++; r.mu.Unlock() },
		OnResult: func(seg []string) {
			r.mu.Lock()
			r.results = append(r.results, seg)
			r.mu.Unlock()
		},
		OnError: func(code string) { r.mu.Lock(); r.errs = append(r.errs, code); r.mu.Unlock() },
		OnEnd:   func() { r.ends <- struct{}{} },
	}
}

func (r *recorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return nil
	}
	return r.results[len(r.results)-1]
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errs...)
}

func newTestSession(t *testing.T, streams ...*fakeStream) (voice.LocalSession, *recorder) {
	t.Helper()
	i := 0
	g := &GoogleStreaming{open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		s := streams[i]
		i++
		return s, nil
	}, log: logger.Discard()}
	rec := newRecorder()
	sess, err := g.NewSession(voice.AudioFormat{MimeType: voice.MimePCM, SampleRate: 16000, Channels: 1, BitDepth: 16}, "en-US", rec.events())
	require.NoError(t, err)
	return sess, rec
}

func TestStreaming_ResultsReplaceWithFinalsCarried(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeStream()
	sess, rec := newTestSession(t, fs)
	require.NoError(t, sess.Start())

	sess.Write([]byte{1, 2, 3, 4})
	fs.recv <- recvItem{resp: result("one", false)}
	fs.recv <- recvItem{resp: result("one two", false)}
	fs.recv <- recvItem{resp: result("one two three", true)}
	fs.recv <- recvItem{resp: result("four", false)}

	require.Eventually(t, func() bool { return len(rec.last()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one two three", "four"}, rec.last())
	assert.Eventually(t, func() bool { return fs.audioBytes() == 4 }, time.Second, 5*time.Millisecond)

	go func() {
		<-fs.closedSend
		fs.recv <- recvItem{resp: result("four five", true)}
		close(fs.recv)
	}()
	require.NoError(t, sess.Stop())

	// the final result lands before Stop returns
	assert.Equal(t, []string{"one two three", "four five"}, rec.last())
	<-rec.ends
	assert.Empty(t, rec.errors())

	first := fs.sent[0].GetStreamingConfig()
	require.NotNil(t, first)
	assert.Equal(t, int32(16000), first.GetConfig().GetSampleRateHertz())
	assert.True(t, first.GetInterimResults())
}

func TestStreaming_NetworkError(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeStream()
	sess, rec := newTestSession(t, fs)
	require.NoError(t, sess.Start())

	fs.recv <- recvItem{err: status.Error(codes.Unavailable, "connection reset")}
	<-rec.ends
	assert.Equal(t, []string{voice.ErrCodeNetwork}, rec.errors())
	require.NoError(t, sess.Stop())
}

func TestStreaming_NoSpeechThenRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	first, second := newFakeStream(), newFakeStream()
	sess, rec := newTestSession(t, first, second)
	require.NoError(t, sess.Start())

	// server duration cap with nothing heard
	first.recv <- recvItem{err: status.Error(codes.OutOfRange, "exceeded maximum allowed stream duration")}
	<-rec.ends
	assert.Equal(t, []string{voice.ErrCodeNoSpeech}, rec.errors())

	require.NoError(t, sess.Start())
	second.recv <- recvItem{resp: result("seven", true)}
	require.Eventually(t, func() bool { return len(rec.last()) == 1 }, time.Second, 5*time.Millisecond)

	close(second.recv)
	require.NoError(t, sess.Stop())
	<-rec.ends
}

func TestStreaming_OtherErrorCode(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeStream()
	sess, rec := newTestSession(t, fs)
	require.NoError(t, sess.Start())

	fs.recv <- recvItem{err: status.Error(codes.PermissionDenied, "nope")}
	<-rec.ends
	assert.Equal(t, []string{"permissiondenied"}, rec.errors())
	require.NoError(t, sess.Stop())
}

func TestStreaming_RejectsNonPCM(t *testing.T) {
	_, err := NewGoogleStreaming(nil, nil).NewSession(voice.AudioFormat{MimeType: "audio/webm"}, "", voice.SessionEvents{})
	assert.ErrorIs(t, err, errUnsupportedFormat)
}
