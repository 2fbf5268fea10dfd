package engine

import (
	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/reconcile"
	"github.com/yoockh/smartattend/internal/voice"
)

type StudentView struct {
	ID     string           `json:"id"`
	RegNo  string           `json:"regNo"`
	Name   string           `json:"name,omitempty"`
	Status reconcile.Status `json:"status"`
}

type CaptureView struct {
	State     string            `json:"state"`
	Busy      bool              `json:"busy"`
	Artifact  *capture.Artifact `json:"artifact,omitempty"`
	Headcount *int              `json:"headcount,omitempty"`
}

type RecognitionView struct {
	Status      voice.Status `json:"status"`
	Recording   bool         `json:"recording"`
	Busy        bool         `json:"busy"`
	LiveEngaged bool         `json:"liveEngaged"`
	Transcript  string       `json:"transcript,omitempty"`
	Source      voice.Source `json:"source,omitempty"`
	Fallback    string       `json:"fallbackReason,omitempty"`
	RollNumbers []string     `json:"rollNumbers,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// View is a consistent snapshot of a session for the UI shell.
type View struct {
	ID           string          `json:"id"`
	Course       models.Course   `json:"course"`
	OperatorID   string          `json:"operatorId"`
	Step         Step            `json:"step"`
	Capture      CaptureView     `json:"capture"`
	Recognition  RecognitionView `json:"recognition"`
	Students     []StudentView   `json:"students"`
	PresentCount int             `json:"presentCount"`
	Mismatch     bool            `json:"mismatch"`
	Saving       bool            `json:"saving"`
	CommittedID  string          `json:"committedId,omitempty"`
	Error        *PhaseError     `json:"error,omitempty"`
}

func (s *Session) View() View {
	// device state first; the session lock is never held while calling into them
	rv := RecognitionView{
		Status:    s.recognizer.Status(),
		Recording: s.recognizer.Recording(),
		Busy:      s.recognizer.Busy(),
		Message:   s.recognizer.LastError(),
	}
	live, engaged := s.recognizer.Transcript()
	rv.LiveEngaged = engaged
	cv := CaptureView{State: s.camera.State().String(), Busy: s.camera.Busy()}

	s.mu.Lock()
	defer s.mu.Unlock()

	roster := s.recon.Roster()
	statuses := s.recon.Statuses()
	students := make([]StudentView, 0, len(roster))
	present := 0
	for _, st := range roster {
		status := statuses[st.ID]
		if status == reconcile.Present {
			present++
		}
		students = append(students, StudentView{ID: st.ID, RegNo: st.RegNo.String(), Name: st.Name, Status: status})
	}

	if s.artifact != nil {
		a := *s.artifact
		a.Data = nil
		n := s.headcount
		cv.Artifact = &a
		cv.Headcount = &n
	}

	if o := s.outcome; o != nil {
		rv.Transcript = o.Transcript
		rv.Source = o.Source
		rv.Fallback = o.FallbackReason
		rv.RollNumbers = o.RollNumbers.Slice()
	} else {
		rv.Transcript = live
	}

	var pe *PhaseError
	if s.lastErr != nil {
		cp := *s.lastErr
		pe = &cp
	}

	return View{
		ID:           s.id,
		Course:       s.course,
		OperatorID:   s.operatorID,
		Step:         s.step,
		Capture:      cv,
		Recognition:  rv,
		Students:     students,
		PresentCount: present,
		Mismatch:     s.recon.Mismatch(),
		Saving:       s.saving,
		CommittedID:  s.committedID,
		Error:        pe,
	}
}
