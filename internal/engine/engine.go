// Package engine runs one attendance session end to end: camera capture and
// head count, spoken roll call, reconciliation against the roster, operator
// review and commit.
package engine

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/metrics"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/utils"
	"github.com/yoockh/smartattend/internal/voice"
)

// Step is where the operator is in the session flow.
type Step string

const (
	StepCamera    Step = "camera"
	StepHeadcount Step = "headcount"
	StepVoice     Step = "voice"
	StepPreview   Step = "preview"
	StepCommitted Step = "committed"
	StepClosed    Step = "closed"
)

func (s Step) terminal() bool { return s == StepCommitted || s == StepClosed }

// Phase names the part of the flow an operator-facing error belongs to.
type Phase string

const (
	PhaseRoster      Phase = "roster"
	PhaseCapture     Phase = "capture"
	PhaseRecognition Phase = "recognition"
	PhaseSave        Phase = "save"
)

// PhaseError is the explicit error state rendered by the UI shell.
type PhaseError struct {
	Phase   Phase      `json:"phase"`
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
	Cause   string     `json:"cause,omitempty"`
}

func newPhaseError(phase Phase, err error) *PhaseError {
	pe := &PhaseError{Phase: phase, Code: utils.CodeOf(err), Cause: utils.Cause(err)}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		pe.Message = ae.Message
	} else {
		pe.Message = err.Error()
	}
	if pe.Cause == pe.Message {
		pe.Cause = ""
	}
	return pe
}

// reportable lists the codes that need an operator decision and so are kept
// as session error state. Everything else is only returned.
func reportable(err error) bool {
	switch utils.CodeOf(err) {
	case utils.CodeDeviceUnavailable, utils.CodeCaptureFailed, utils.CodeTranscriptionFailed,
		utils.CodeSaveFailed, utils.CodeUnavailable:
		return true
	}
	return false
}

// RosterSource is getStudentsBySemester.
type RosterSource interface {
	GetStudentsBySemester(ctx context.Context, semesterID string) ([]models.Student, error)
}

// Committer is saveAttendanceSession.
type Committer interface {
	Commit(ctx context.Context, req services.CommitRequest) (string, error)
}

// sessionArchiver is implemented by archivers that can tag entries with the
// session they came from.
type sessionArchiver interface {
	ForSession(sessionID string) voice.Archiver
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Roster    RosterSource
	Committer Committer

	Camera  capture.Camera
	Counter capture.HeadcountService
	// Capture configures constraints, retry delay and encoder.
	Capture capture.Options

	Microphone  voice.Microphone
	Local       voice.LocalRecognizer // nil when the platform has none
	Transcriber voice.Transcriber
	Archiver    voice.Archiver
	Language    string

	Mode     models.AttendanceMode
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *logrus.Logger
}
