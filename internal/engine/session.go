package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/reconcile"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/utils"
	"github.com/yoockh/smartattend/internal/voice"
)

var errNoCommitter = errors.New("no attendance store configured")

// Session is one attendance-taking run for a course period. All methods are
// safe for concurrent use; external calls run outside the session lock and
// their results are dropped if the session was reset or closed meanwhile.
type Session struct {
	id         string
	course     models.Course
	operatorID string
	deps       Deps
	notifier   Notifier
	log        *logrus.Entry
	now        func() time.Time
	onDone     func(id string)
	doneOnce   sync.Once

	camera     *capture.Controller
	recognizer *voice.Recognizer
	recon      *reconcile.Engine

	mu    sync.Mutex
	step  Step
	epoch uint64 // bumped whenever in-flight results must be discarded

	artifact    *capture.Artifact
	headcount   int
	outcome     *voice.Outcome
	lastErr     *PhaseError
	committedID string
	saving      bool
}

// Open loads the roster and starts the camera. A camera failure does not fail
// Open; it is kept as the session's capture error so the operator can retry.
func Open(ctx context.Context, deps Deps, course models.Course, operatorID string) (*Session, error) {
	return open(ctx, deps, uuid.NewString(), course, operatorID, nil)
}

func open(ctx context.Context, deps Deps, id string, course models.Course, operatorID string, onDone func(string)) (*Session, error) {
	const op = "engine.Open"

	if course.SubjectID == "" || course.SemesterID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "subject and semester are required", nil)
	}
	if operatorID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "operator is required", nil)
	}
	if deps.Roster == nil {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "no roster source configured", nil)
	}

	roster, err := deps.Roster.GetStudentsBySemester(ctx, course.SemesterID)
	if err != nil {
		code := utils.CodeOf(err)
		if code == utils.CodeInternal {
			code = utils.CodeUnavailable
		}
		return nil, utils.E(code, op, "failed to load students", err)
	}

	if deps.Mode == "" {
		deps.Mode = models.ModeSmart
	}
	log := logger.OrDiscard(deps.Logger)

	s := &Session{
		id:         id,
		course:     course,
		operatorID: operatorID,
		deps:       deps,
		notifier:   deps.Notifier,
		log: log.WithFields(logrus.Fields{
			"session_id": id,
			"subject_id": course.SubjectID,
		}),
		now:    time.Now,
		onDone: onDone,
		recon:  reconcile.New(roster),
		step:   StepCamera,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}

	capOpts := deps.Capture
	if capOpts.Logger == nil {
		capOpts.Logger = log
	}
	s.camera = capture.NewController(deps.Camera, deps.Counter, capOpts)

	archiver := deps.Archiver
	if sa, ok := archiver.(sessionArchiver); ok {
		archiver = sa.ForSession(id)
	}
	s.recognizer = voice.NewRecognizer(deps.Microphone, deps.Local, deps.Transcriber, archiver, voice.Options{
		Language: deps.Language,
		Logger:   log,
		OnStatus: s.onRecognitionStatus,
	})

	deps.Metrics.SessionOpened()
	s.log.WithFields(logrus.Fields{
		"semester_id": course.SemesterID,
		"students":    len(roster),
	}).Info("attendance session opened")

	_ = s.StartCamera(ctx)
	return s, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Course() models.Course { return s.course }
func (s *Session) OperatorID() string    { return s.operatorID }

// Artifact returns the captured still, if any.
func (s *Session) Artifact() (capture.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return capture.Artifact{}, false
	}
	return *s.artifact, true
}

// StartCamera (re)acquires the camera on the camera step.
func (s *Session) StartCamera(ctx context.Context) error {
	const op = "Session.StartCamera"

	s.mu.Lock()
	if s.step != StepCamera {
		s.mu.Unlock()
		return utils.E(utils.CodeFailedPrecondition, op, "camera is only used before capture", nil)
	}
	s.mu.Unlock()

	err := s.camera.Start(ctx)

	s.mu.Lock()
	closed := s.step.terminal()
	s.mu.Unlock()
	if closed {
		s.camera.Release()
		return utils.E(utils.CodeClosed, op, "session closed", err)
	}
	if err != nil {
		return s.fail(PhaseCapture, err)
	}
	s.clearError(PhaseCapture)
	s.changed()
	return nil
}

// Capture snapshots the live frame and gets the head count. The camera is
// released once a still has been taken.
func (s *Session) Capture(ctx context.Context) (*capture.Result, error) {
	const op = "Session.Capture"

	s.mu.Lock()
	if s.step != StepCamera {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeFailedPrecondition, op, "capture is only available on the camera step", nil)
	}
	epoch := s.epoch
	s.mu.Unlock()

	start := time.Now()
	res, err := s.camera.Capture(ctx)
	s.deps.Metrics.RecordCapture(time.Since(start).Seconds(), err)

	s.mu.Lock()
	if s.epoch != epoch || s.step != StepCamera {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeClosed, op, "session changed during capture", err)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(PhaseCapture, err)
	}
	art := res.Artifact
	s.artifact = &art
	s.headcount = res.Count
	s.step = StepHeadcount
	s.lastErr = nil
	s.mu.Unlock()

	s.camera.Release()
	s.log.WithField("headcount", res.Count).Info("headcount ready")
	s.changed()
	return res, nil
}

// BeginRollCall moves from the head-count review to the roll call.
func (s *Session) BeginRollCall() error {
	const op = "Session.BeginRollCall"

	s.mu.Lock()
	if s.step != StepHeadcount {
		s.mu.Unlock()
		return utils.E(utils.CodeFailedPrecondition, op, "capture the class first", nil)
	}
	s.step = StepVoice
	s.mu.Unlock()
	s.changed()
	return nil
}

func (s *Session) StartRecording(ctx context.Context) error {
	const op = "Session.StartRecording"

	s.mu.Lock()
	if s.step != StepVoice {
		s.mu.Unlock()
		return utils.E(utils.CodeFailedPrecondition, op, "roll call is only available on the voice step", nil)
	}
	s.mu.Unlock()

	err := s.recognizer.StartRecording(ctx)

	s.mu.Lock()
	closed := s.step.terminal()
	s.mu.Unlock()
	if closed {
		s.recognizer.Release()
		return utils.E(utils.CodeClosed, op, "session closed", err)
	}
	if err != nil {
		return s.fail(PhaseRecognition, err)
	}
	s.clearError(PhaseRecognition)
	s.changed()
	return nil
}

// StopRecording resolves the roll call and reconciles it with the roster.
func (s *Session) StopRecording(ctx context.Context) (*reconcile.Result, error) {
	return s.recognize(ctx, "Session.StopRecording", s.recognizer.StopRecording)
}

// RetryTranscription resends the retained recording after a failed backend call.
func (s *Session) RetryTranscription(ctx context.Context) (*reconcile.Result, error) {
	return s.recognize(ctx, "Session.RetryTranscription", s.recognizer.RetryTranscription)
}

// SubmitManual reconciles typed roll numbers instead of a recording.
func (s *Session) SubmitManual(ctx context.Context, text string) (*reconcile.Result, error) {
	return s.recognize(ctx, "Session.SubmitManual", func(context.Context) (*voice.Outcome, error) {
		return s.recognizer.ProcessManual(text)
	})
}

func (s *Session) recognize(ctx context.Context, op string, fn func(context.Context) (*voice.Outcome, error)) (*reconcile.Result, error) {
	s.mu.Lock()
	if s.step != StepVoice {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeFailedPrecondition, op, "roll call is only available on the voice step", nil)
	}
	epoch := s.epoch
	s.mu.Unlock()

	start := time.Now()
	out, err := fn(ctx)

	s.mu.Lock()
	if s.epoch != epoch || s.step != StepVoice {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeClosed, op, "session changed during recognition", err)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(PhaseRecognition, err)
	}
	res := s.recon.Apply(out.RollNumbers, s.headcount)
	s.outcome = out
	s.step = StepPreview
	s.lastErr = nil
	s.mu.Unlock()

	s.deps.Metrics.RecordRecognition(string(out.Source), out.FallbackReason, time.Since(start).Seconds())
	if res.Mismatch {
		s.deps.Metrics.RecordMismatch()
	}
	s.log.WithFields(logrus.Fields{
		"source":    out.Source,
		"fallback":  out.FallbackReason,
		"heard":     out.RollNumbers.Len(),
		"matched":   res.Matched,
		"present":   res.PresentCount,
		"headcount": res.Headcount,
		"mismatch":  res.Mismatch,
	}).Info("roll call reconciled")
	s.changed()
	return &res, nil
}

// Toggle flips one student's status. It works on every open step.
func (s *Session) Toggle(studentID string) (reconcile.Status, error) {
	const op = "Session.Toggle"

	s.mu.Lock()
	if s.step.terminal() {
		s.mu.Unlock()
		return "", utils.E(utils.CodeFailedPrecondition, op, "session is "+string(s.step), nil)
	}
	if s.saving {
		s.mu.Unlock()
		return "", utils.E(utils.CodeConflict, op, "save in progress", nil)
	}
	st, err := s.recon.Toggle(studentID)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	s.changed()
	return st, nil
}

// Resolve applies the operator's answer to a head-count mismatch.
func (s *Session) Resolve(ctx context.Context, res reconcile.Resolution) error {
	const op = "Session.Resolve"

	s.mu.Lock()
	if s.step != StepPreview {
		s.mu.Unlock()
		return utils.E(utils.CodeFailedPrecondition, op, "nothing to resolve before the roll call", nil)
	}
	if s.saving {
		s.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "save in progress", nil)
	}

	switch res {
	case reconcile.ResolveRetake:
		s.mu.Unlock()
		s.deps.Metrics.RecordResolution(res.String())
		return s.Reset(ctx)

	case reconcile.ResolveRedoVoice:
		_ = s.recon.Resolve(res)
		s.epoch++
		s.outcome = nil
		s.lastErr = nil
		s.step = StepVoice
		s.mu.Unlock()
		s.recognizer.Reset()

	case reconcile.ResolveOverride:
		_ = s.recon.Resolve(res)
		s.mu.Unlock()

	default:
		s.mu.Unlock()
		return s.recon.Resolve(res)
	}

	s.deps.Metrics.RecordResolution(res.String())
	s.log.WithField("resolution", res.String()).Info("mismatch resolved")
	s.changed()
	return nil
}

// Reset returns every mutable field to its initial value, keeps the roster
// and restarts the camera.
func (s *Session) Reset(ctx context.Context) error {
	const op = "Session.Reset"

	s.mu.Lock()
	if s.step.terminal() {
		s.mu.Unlock()
		return utils.E(utils.CodeFailedPrecondition, op, "session is "+string(s.step), nil)
	}
	if s.saving {
		s.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "save in progress", nil)
	}
	s.epoch++
	s.recon.Reset()
	s.artifact, s.outcome, s.lastErr = nil, nil, nil
	s.headcount = 0
	s.step = StepCamera
	s.mu.Unlock()

	s.camera.Release()
	s.recognizer.Reset()
	s.log.Info("session reset")
	s.changed()
	return s.StartCamera(ctx)
}

// Save commits the reviewed attendance. On failure the session keeps its
// state so the operator can retry.
func (s *Session) Save(ctx context.Context) (string, error) {
	const op = "Session.Save"

	s.mu.Lock()
	switch {
	case s.step == StepCommitted:
		s.mu.Unlock()
		return "", utils.E(utils.CodeConflict, op, "attendance already saved", nil)
	case s.step != StepPreview:
		s.mu.Unlock()
		return "", utils.E(utils.CodeFailedPrecondition, op, "nothing to save before the roll call", nil)
	case s.saving:
		s.mu.Unlock()
		return "", utils.E(utils.CodeConflict, op, "save in progress", nil)
	}
	s.saving = true
	req := s.commitRequestLocked()
	s.mu.Unlock()

	var (
		id  string
		err error
	)
	if s.deps.Committer == nil {
		err = errNoCommitter
	} else {
		id, err = s.deps.Committer.Commit(ctx, req)
	}
	s.deps.Metrics.RecordCommit(err)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.mu.Unlock()
		if !utils.IsCode(err, utils.CodeSaveFailed) {
			err = utils.E(utils.CodeSaveFailed, op, "failed to save attendance", err)
		}
		return "", s.fail(PhaseSave, err)
	}
	committed := s.step == StepPreview
	if committed {
		s.step = StepCommitted
		s.committedID = id
		s.lastErr = nil
		s.artifact = nil
	}
	s.mu.Unlock()

	if committed {
		s.camera.Release()
		s.recognizer.Reset()
	}
	s.log.WithFields(logrus.Fields{
		"attendance_id": id,
		"present":       len(req.PresentStudentIDs),
		"headcount":     req.Headcount,
	}).Info("attendance saved")
	s.changed()
	return id, nil
}

func (s *Session) commitRequestLocked() services.CommitRequest {
	meta := map[string]any{"session_ref": s.id}
	if o := s.outcome; o != nil {
		meta["recognition_source"] = string(o.Source)
		meta["transcript"] = o.Transcript
		meta["roll_numbers"] = o.RollNumbers.Slice()
		if o.FallbackReason != "" {
			meta["fallback_reason"] = o.FallbackReason
		}
	}
	if a := s.artifact; a != nil {
		meta["artifact_mime"] = a.MimeType
		meta["artifact_width"] = a.Width
		meta["artifact_height"] = a.Height
	}
	return services.CommitRequest{
		Course:            s.course,
		PresentStudentIDs: s.recon.PresentIDs(),
		Headcount:         s.headcount,
		RecognizedCount:   s.recon.PresentCount(),
		Date:              s.now(),
		Mode:              s.deps.Mode,
		OperatorID:        s.operatorID,
		Metadata:          meta,
	}
}

// Close releases the camera and microphone before returning. Calls still in
// flight may finish but their results are discarded. Safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	if s.step == StepClosed {
		s.mu.Unlock()
		return
	}
	s.step = StepClosed
	s.epoch++
	s.artifact, s.outcome = nil, nil
	s.mu.Unlock()

	s.camera.Release()
	s.recognizer.Release()
	s.log.Info("attendance session closed")
	s.changed()

	s.doneOnce.Do(func() {
		s.deps.Metrics.SessionClosed()
		if s.onDone != nil {
			s.onDone(s.id)
		}
	})
}

func (s *Session) fail(phase Phase, err error) error {
	if !reportable(err) {
		return err
	}
	pe := newPhaseError(phase, err)

	s.mu.Lock()
	if s.step.terminal() {
		s.mu.Unlock()
		return err
	}
	s.lastErr = pe
	s.mu.Unlock()

	s.log.WithError(err).WithField("phase", phase).Warn("session phase failed")
	s.changed()
	return err
}

func (s *Session) clearError(phase Phase) {
	s.mu.Lock()
	if s.lastErr != nil && s.lastErr.Phase == phase {
		s.lastErr = nil
	}
	s.mu.Unlock()
}

func (s *Session) onRecognitionStatus(st voice.Status) {
	s.mu.Lock()
	closed := s.step == StepClosed
	s.mu.Unlock()
	if closed {
		return
	}
	s.notifier.Publish(context.Background(), Event{Type: EventRecognition, SessionID: s.id, Status: st})
}

func (s *Session) changed() {
	v := s.View()
	s.notifier.Publish(context.Background(), Event{
		Type:      EventState,
		SessionID: s.id,
		Step:      v.Step,
		Error:     v.Error,
		View:      &v,
	})
}
