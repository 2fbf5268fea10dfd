package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/voice"
)

const (
	audioQueue = 64
	stopGrace  = 2 * time.Second
)

var errUnsupportedFormat = errors.New("streaming recognition needs 16 bit PCM")

type openFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// GoogleStreaming is continuous recognition over the Speech streaming API.
// Streams are capped server-side at a few minutes, after which the session
// ends and the recognizer restarts it.
type GoogleStreaming struct {
	open openFunc
	log  *logrus.Logger
}

func NewGoogleStreaming(c *speech.Client, log *logrus.Logger) *GoogleStreaming {
	return &GoogleStreaming{
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return c.StreamingRecognize(ctx)
		},
		log: logger.OrDiscard(log),
	}
}

func (g *GoogleStreaming) NewSession(format voice.AudioFormat, language string, ev voice.SessionEvents) (voice.LocalSession, error) {
	if format.MimeType != voice.MimePCM || (format.BitDepth != 0 && format.BitDepth != 16) {
		return nil, errUnsupportedFormat
	}
	if language == "" {
		language = "en-US"
	}
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	return &streamSession{
		open: g.open,
		log:  g.log.WithField("language", language),
		ev:   ev,
		cfg: &speechpb.StreamingRecognitionConfig{
			Config: &speechpb.RecognitionConfig{
				Encoding:                   speechpb.RecognitionConfig_LINEAR16,
				SampleRateHertz:            int32(format.SampleRate),
				AudioChannelCount:          int32(channels),
				LanguageCode:               language,
				EnableAutomaticPunctuation: true,
				SpeechContexts:             []*speechpb.SpeechContext{{Phrases: rollCallPhrases}},
			},
			InterimResults: true,
		},
	}, nil
}

type streamSession struct {
	open openFunc
	log  *logrus.Entry
	ev   voice.SessionEvents
	cfg  *speechpb.StreamingRecognitionConfig

	// dispatching is set while an event callback runs on the receive loop;
	// Stop called from there must not wait for that loop.
	dispatching atomic.Bool

	mu     sync.Mutex
	run    *streamRun
	finals []string // carried across restarts of the same recording
}

type streamRun struct {
	cancel    context.CancelFunc
	audio     chan []byte
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func (r *streamRun) close() { r.closeOnce.Do(func() { close(r.closing) }) }

func (r *streamRun) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

func (s *streamSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		select {
		case <-s.run.done:
		default:
			return nil // already running
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := s.open(ctx)
	if err != nil {
		cancel()
		return err
	}
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{StreamingConfig: s.cfg},
	})
	if err != nil {
		cancel()
		return err
	}

	run := &streamRun{
		cancel:  cancel,
		audio:   make(chan []byte, audioQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.run = run

	go s.send(ctx, run, stream)
	go s.receive(run, stream)
	return nil
}

func (s *streamSession) send(ctx context.Context, run *streamRun, stream speechpb.Speech_StreamingRecognizeClient) {
	push := func(chunk []byte) bool {
		err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
		})
		return err == nil
	}
	for {
		select {
		case chunk := <-run.audio:
			if !push(chunk) {
				return
			}
		case <-run.closing:
			for {
				select {
				case chunk := <-run.audio:
					if !push(chunk) {
						return
					}
				default:
					_ = stream.CloseSend()
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *streamSession) dispatch(fn func()) {
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	fn()
}

func (s *streamSession) receive(run *streamRun, stream speechpb.Speech_StreamingRecognizeClient) {
	defer func() {
		run.cancel()
		close(run.done)
		if s.ev.OnEnd != nil {
			s.dispatch(s.ev.OnEnd)
		}
	}()

	if s.ev.OnStart != nil {
		s.dispatch(s.ev.OnStart)
	}

	heard := false
	for {
		resp, err := stream.Recv()
		if err != nil {
			s.finish(run, err, heard)
			return
		}
		if st := resp.GetError(); st != nil && codes.Code(st.GetCode()) != codes.OK {
			s.finish(run, status.ErrorProto(st), heard)
			return
		}

		var interim []string
		changed := false
		s.mu.Lock()
		for _, res := range resp.GetResults() {
			alts := res.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			text := strings.TrimSpace(alts[0].GetTranscript())
			if text == "" {
				continue
			}
			changed = true
			if res.GetIsFinal() {
				s.finals = append(s.finals, text)
			} else {
				interim = append(interim, text)
			}
		}
		segments := append(append([]string(nil), s.finals...), interim...)
		s.mu.Unlock()

		if changed {
			heard = true
			if s.ev.OnResult != nil {
				s.dispatch(func() { s.ev.OnResult(segments) })
			}
		}
	}
}

// finish maps how a stream ended onto session events. Normal endings and
// the server's duration cap only end the session.
func (s *streamSession) finish(run *streamRun, err error, heard bool) {
	code := status.Code(err)
	switch {
	case errors.Is(err, io.EOF), code == codes.OutOfRange:
		if !heard && !run.isClosing() && s.ev.OnError != nil {
			s.dispatch(func() { s.ev.OnError(voice.ErrCodeNoSpeech) })
		}
	case code == codes.Canceled || errors.Is(err, context.Canceled):
	case code == codes.Unavailable || code == codes.DeadlineExceeded:
		s.log.WithError(err).Warn("streaming recognition lost the network")
		if s.ev.OnError != nil {
			s.dispatch(func() { s.ev.OnError(voice.ErrCodeNetwork) })
		}
	default:
		s.log.WithError(err).Warn("streaming recognition failed")
		if s.ev.OnError != nil {
			name := strings.ToLower(code.String())
			s.dispatch(func() { s.ev.OnError(name) })
		}
	}
}

func (s *streamSession) Write(chunk []byte) {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil || run.isClosing() {
		return
	}
	select {
	case run.audio <- chunk:
	case <-run.done:
	default:
		s.log.Debug("recognition queue full, dropping audio chunk")
	}
}

// Stop half-closes the stream so pending results still arrive, then waits
// for the final result unless called from inside an event callback.
func (s *streamSession) Stop() error {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return nil
	}
	run.close()

	if s.dispatching.Load() {
		return nil
	}
	t := time.NewTimer(stopGrace)
	defer t.Stop()
	select {
	case <-run.done:
	case <-t.C:
		run.cancel()
		<-run.done
	}
	return nil
}
