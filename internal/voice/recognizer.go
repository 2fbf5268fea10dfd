package voice

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/rollcall"
	"github.com/yoockh/smartattend/internal/utils"
)

type Options struct {
	Language string
	Logger   *logrus.Logger
	// OnStatus is called after every status change, outside internal locks.
	OnStatus func(Status)
}

// cancelToken guards restarts of one local session. Cancel waits for a
// restart already inside Start, so no Start begins after Cancel returns.
type cancelToken struct {
	mu        sync.Mutex
	cancelled atomic.Bool
}

func (t *cancelToken) Cancel() {
	t.mu.Lock()
	t.cancelled.Store(true)
	t.mu.Unlock()
}

func (t *cancelToken) Cancelled() bool { return t.cancelled.Load() }

// live is the local recognition session of one recording.
type live struct {
	session LocalSession
	token   cancelToken
	// noRestart detaches the end-of-session restart after a network error.
	noRestart atomic.Bool
	netErr    atomic.Bool
}

func (l *live) restartable() bool {
	return !l.token.Cancelled() && !l.noRestart.Load()
}

// Recognizer owns the microphone and at most one local recognition session.
type Recognizer struct {
	mic         Microphone
	local       LocalRecognizer
	transcriber Transcriber
	archiver    Archiver
	opts        Options
	log         *logrus.Logger

	// ctrl serializes StartRecording, StopRecording and Release.
	ctrl sync.Mutex

	mu         sync.Mutex
	status     Status
	lastErr    string
	transcript string
	engaged    bool // a local session was created for the current recording
	recording  bool
	busy       bool // a server transcription call is outstanding
	stream     AudioStream
	format     AudioFormat
	audio      bytes.Buffer
	live       *live
	lastBlob   *AudioBlob
	gen        uint64
}

func NewRecognizer(mic Microphone, local LocalRecognizer, transcriber Transcriber, archiver Archiver, opts Options) *Recognizer {
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	return &Recognizer{
		mic:         mic,
		local:       local,
		transcriber: transcriber,
		archiver:    archiver,
		opts:        opts,
		log:         logger.OrDiscard(opts.Logger),
		status:      StatusIdle,
	}
}

func (r *Recognizer) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Transcript returns the latest live transcript; ok is false when the live
// path was never engaged.
func (r *Recognizer) Transcript() (text string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript, r.engaged
}

// LastError is the latest non-fatal recognition message for the operator.
func (r *Recognizer) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Recognizer) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recognizer) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

func (r *Recognizer) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
	r.notify(s)
}

func (r *Recognizer) notify(s Status) {
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(s)
	}
}

// StartRecording acquires the microphone and, when the platform has one,
// starts a local recognition session alongside it.
func (r *Recognizer) StartRecording(ctx context.Context) error {
	const op = "Recognizer.StartRecording"

	r.ctrl.Lock()
	defer r.ctrl.Unlock()

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "already recording", nil)
	}
	if r.busy {
		r.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "transcription in progress", nil)
	}
	r.mu.Unlock()

	// only one microphone stream may exist at a time
	r.teardown()

	r.mu.Lock()
	r.transcript, r.engaged, r.lastErr = "", false, ""
	r.audio.Reset()
	r.lastBlob = nil
	gen := r.gen
	r.mu.Unlock()

	if r.mic == nil {
		r.setStatus(StatusError)
		return utils.E(utils.CodeDeviceUnavailable, op, "cannot access microphone", errNoMicrophone)
	}
	stream, err := r.mic.Open(ctx)
	if err != nil {
		r.log.WithError(err).Warn("microphone open failed")
		r.setStatus(StatusError)
		return utils.E(utils.CodeDeviceUnavailable, op, "cannot access microphone", err)
	}
	format := stream.Format()

	// capability is checked once per recording
	var l *live
	if r.local != nil {
		l = &live{}
		sess, err := r.local.NewSession(format, r.opts.Language, r.events(l))
		if err != nil {
			r.log.WithError(err).Warn("local recognition unavailable, server fallback will be used")
			l = nil
		} else {
			l.session = sess
		}
	}

	r.mu.Lock()
	r.stream = stream
	r.format = format
	r.live = l
	r.engaged = l != nil
	r.recording = true
	r.mu.Unlock()

	if err := stream.Start(r.onData(gen, l)); err != nil {
		r.log.WithError(err).Warn("microphone start failed")
		r.teardown()
		r.setStatus(StatusError)
		return utils.E(utils.CodeDeviceUnavailable, op, "cannot access microphone", err)
	}

	if l == nil {
		r.setStatus(StatusListening)
		return nil
	}

	r.setStatus(StatusStarting)
	if err := l.session.Start(); err != nil {
		// the recording continues and falls back to the server on stop
		r.log.WithError(err).Warn("local recognition failed to start")
		l.noRestart.Store(true)
		r.mu.Lock()
		if r.live == l {
			r.live = nil
		}
		r.mu.Unlock()
		r.setStatus(StatusListening)
	}
	return nil
}

func (r *Recognizer) onData(gen uint64, l *live) func([]byte) {
	return func(chunk []byte) {
		c := append([]byte(nil), chunk...)

		r.mu.Lock()
		if r.gen != gen || !r.recording {
			r.mu.Unlock()
			return
		}
		r.audio.Write(c)
		r.mu.Unlock()

		if l != nil && !l.netErr.Load() && !l.token.Cancelled() {
			l.session.Write(c)
		}
	}
}

func (r *Recognizer) events(l *live) SessionEvents {
	current := func() bool {
		return r.live == l && r.recording
	}
	return SessionEvents{
		OnStart: func() {
			r.mu.Lock()
			if !current() {
				r.mu.Unlock()
				return
			}
			r.status = StatusListening
			r.mu.Unlock()
			r.log.Debug("local recognition started")
			r.notify(StatusListening)
		},
		OnResult: func(segments []string) {
			// every event replays the whole utterance, so overwrite
			full := strings.Join(strings.Fields(strings.Join(segments, " ")), " ")

			r.mu.Lock()
			if r.live != l {
				r.mu.Unlock()
				return
			}
			r.transcript = full
			changed := r.recording && (r.status == StatusNoSpeech || r.status == StatusStarting)
			if changed {
				r.status = StatusListening
			}
			r.mu.Unlock()

			r.log.WithField("transcript", full).Debug("local transcript")
			if changed {
				r.notify(StatusListening)
			}
		},
		OnError: func(code string) {
			r.mu.Lock()
			if !current() {
				r.mu.Unlock()
				return
			}
			var s Status
			switch code {
			case ErrCodeNetwork:
				s = StatusNetworkError
			case ErrCodeNoSpeech:
				s = StatusNoSpeech
			default:
				s = StatusError
				r.lastErr = "Voice Recognition Error: " + code
			}
			r.status = s
			r.mu.Unlock()

			r.log.WithField("code", code).Warn("local recognition error")
			if code == ErrCodeNetwork {
				// detach first so the stop below cannot trigger a restart
				l.netErr.Store(true)
				l.noRestart.Store(true)
				if err := l.session.Stop(); err != nil {
					r.log.WithError(err).Debug("stop after network error")
				}
			}
			r.notify(s)
		},
		OnEnd: func() {
			if !l.restartable() {
				return
			}
			r.mu.Lock()
			ok := current()
			r.mu.Unlock()
			if !ok {
				return
			}
			go r.restart(l)
		},
	}
}

// restart brings an ended local session back while recording is active;
// some platforms time out continuous recognition.
func (r *Recognizer) restart(l *live) {
	l.token.mu.Lock()
	defer l.token.mu.Unlock()

	if !l.restartable() {
		return
	}
	r.mu.Lock()
	ok := r.live == l && r.recording
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := l.session.Start(); err != nil {
		r.log.WithError(err).Warn("failed to restart local recognition")
		return
	}
	r.log.Debug("local recognition restarted")
}

// StopRecording ends the recording and resolves the present-set. A live
// transcript is used when the local session survived without a network error
// and heard something; otherwise the audio goes to the backend.
func (r *Recognizer) StopRecording(ctx context.Context) (*Outcome, error) {
	const op = "Recognizer.StopRecording"

	// detach restarts before anything else
	r.mu.Lock()
	if l := r.live; l != nil {
		r.mu.Unlock()
		l.token.Cancel()
	} else {
		r.mu.Unlock()
	}

	r.ctrl.Lock()
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		r.ctrl.Unlock()
		return nil, utils.E(utils.CodeFailedPrecondition, op, "not recording", nil)
	}
	l := r.live
	if l != nil {
		l.token.cancelled.Store(true)
	}
	stream := r.stream
	r.recording = false
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			r.log.WithError(err).Warn("microphone stop failed")
		}
	}
	if l != nil {
		if err := l.session.Stop(); err != nil {
			r.log.WithError(err).Debug("local recognition stop failed")
		}
	}
	r.ctrl.Unlock()

	r.mu.Lock()
	blob, ferr := finalize(r.audio.Bytes(), r.format)
	r.audio.Reset()
	transcript := r.transcript // latest value, read exactly once
	if r.live == l {
		r.live = nil
	}
	reason := ""
	switch {
	case l == nil:
		reason = FallbackUnsupported
	case l.netErr.Load():
		reason = FallbackNetworkError
	case strings.TrimSpace(transcript) == "":
		reason = FallbackEmptyTranscript
	}
	if ferr == nil {
		r.lastBlob = &blob
	}
	if reason == "" {
		r.status = StatusProcessing
	} else {
		r.status = StatusServerProcessing
	}
	status := r.status
	r.mu.Unlock()
	r.notify(status)

	log := r.log.WithFields(logrus.Fields{"bytes": len(blob.Data), "mime": blob.MimeType})

	if reason == "" {
		log.Info("using live transcript")
		if ferr == nil && r.archiver != nil {
			r.archiver.Archive(context.WithoutCancel(ctx), blob)
		}
		out := &Outcome{
			RollNumbers: rollcall.Extract(transcript),
			Source:      SourceLocal,
			Transcript:  transcript,
		}
		if ferr == nil {
			out.Audio = &blob
		}
		return out, nil
	}

	log.WithField("reason", reason).Info("falling back to backend transcription")
	if ferr != nil {
		r.setStatus(StatusError)
		return nil, utils.E(utils.CodeInternal, op, "failed to finalize audio", ferr)
	}
	return r.transcribe(ctx, blob, reason)
}

// RetryTranscription resends the retained audio after a failed backend call.
func (r *Recognizer) RetryTranscription(ctx context.Context) (*Outcome, error) {
	const op = "Recognizer.RetryTranscription"

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil, utils.E(utils.CodeFailedPrecondition, op, "still recording", nil)
	}
	if r.lastBlob == nil {
		r.mu.Unlock()
		return nil, utils.E(utils.CodeFailedPrecondition, op, "no recorded audio to process", nil)
	}
	blob := *r.lastBlob
	r.status = StatusServerProcessing
	r.mu.Unlock()
	r.notify(StatusServerProcessing)

	return r.transcribe(ctx, blob, "retry")
}

func (r *Recognizer) transcribe(ctx context.Context, blob AudioBlob, reason string) (*Outcome, error) {
	const op = "Recognizer.Transcribe"

	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return nil, utils.E(utils.CodeConflict, op, "transcription in progress", nil)
	}
	r.busy = true
	gen := r.gen
	r.mu.Unlock()

	var (
		res *RollCallResult
		err error
	)
	if r.transcriber == nil {
		err = errNoTranscriber
	} else {
		res, err = r.transcriber.ProcessRollCall(ctx, blob)
	}

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return nil, utils.E(utils.CodeClosed, op, "recognizer released during transcription", nil)
	}
	r.busy = false
	if err != nil {
		r.status = StatusError
		r.lastErr = "Speech recognition failed: " + err.Error()
		r.mu.Unlock()
		r.notify(StatusError)
		r.log.WithError(err).Warn("backend transcription failed")
		return nil, utils.E(utils.CodeTranscriptionFailed, op, "speech recognition failed", err)
	}
	r.mu.Unlock()

	set := rollcall.NewSet()
	for _, n := range res.RollNumbers {
		if n = strings.TrimSpace(n); n != "" {
			set.Add(n)
		}
	}
	r.log.WithFields(logrus.Fields{"text": res.Text, "found": len(set)}).Info("backend transcription done")
	return &Outcome{
		RollNumbers:    set,
		Source:         SourceServer,
		Transcript:     res.Text,
		FallbackReason: reason,
		Audio:          &blob,
	}, nil
}

// ProcessManual parses typed roll numbers, bypassing both recognition paths.
// An active recording is discarded.
func (r *Recognizer) ProcessManual(text string) (*Outcome, error) {
	const op = "Recognizer.ProcessManual"

	set := rollcall.Extract(text)
	if set.Len() == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "no valid roll numbers found in text", nil)
	}

	r.mu.Lock()
	busy := r.busy
	r.mu.Unlock()
	if busy {
		return nil, utils.E(utils.CodeConflict, op, "transcription in progress", nil)
	}

	r.ctrl.Lock()
	r.teardown()
	r.ctrl.Unlock()

	r.setStatus(StatusProcessing)
	return &Outcome{RollNumbers: set, Source: SourceManual, Transcript: text}, nil
}

// Release stops the microphone and detaches the local session. Results of
// calls still in flight are discarded.
func (r *Recognizer) Release() {
	r.ctrl.Lock()
	defer r.ctrl.Unlock()

	r.teardown()
	r.mu.Lock()
	r.gen++
	r.busy = false
	r.mu.Unlock()
}

// Reset releases devices and returns every field to its initial value.
func (r *Recognizer) Reset() {
	r.Release()

	r.mu.Lock()
	r.status = StatusIdle
	r.transcript, r.engaged, r.lastErr = "", false, ""
	r.audio.Reset()
	r.lastBlob = nil
	r.mu.Unlock()
	r.notify(StatusIdle)
}

// teardown must run under ctrl.
func (r *Recognizer) teardown() {
	r.mu.Lock()
	l, stream := r.live, r.stream
	r.live, r.stream = nil, nil
	r.recording = false
	r.mu.Unlock()

	if l != nil {
		l.token.Cancel()
		l.noRestart.Store(true)
		if err := l.session.Stop(); err != nil {
			r.log.WithError(err).Debug("local recognition stop failed")
		}
	}
	if stream != nil {
		if err := stream.Stop(); err != nil {
			r.log.WithError(err).Warn("microphone stop failed")
		}
	}
}
