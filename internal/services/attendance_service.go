package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/utils"
)

const (
	dateLayout     = "2006-01-02"
	defaultSection = "N/A"
	recordPresent  = "present"
)

// AttendanceStore is implemented by both the postgres and mongo repositories.
type AttendanceStore interface {
	Save(ctx context.Context, s *models.AttendanceSession, records []models.AttendanceRecord) error
	GetByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error)
	ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

// CommitRequest is everything the committer needs from a reviewed session.
type CommitRequest struct {
	Course            models.Course         `json:"course"`
	PresentStudentIDs []string              `json:"presentStudentIds" validate:"dive,required"`
	Headcount         int                   `json:"headcount" validate:"gte=0"`
	RecognizedCount   int                   `json:"recognizedCount" validate:"gte=0"`
	Date              time.Time             `json:"date"` // zero means today
	Mode              models.AttendanceMode `json:"mode" validate:"required,oneof=smart voice camera"`
	OperatorID        string                `json:"operatorId" validate:"required"`
	Metadata          map[string]any        `json:"metadata,omitempty"`
}

type AttendanceService interface {
	Commit(ctx context.Context, req CommitRequest) (string, error)
	Get(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error)
}

type attendanceService struct {
	store    AttendanceStore
	validate *validator.Validate
	log      *logrus.Logger
	now      func() time.Time
}

func NewAttendanceService(store AttendanceStore, log *logrus.Logger) AttendanceService {
	return &attendanceService{
		store:    store,
		validate: validator.New(),
		log:      logger.OrDiscard(log),
		now:      time.Now,
	}
}

// Commit persists the session and one record per present student. Either
// everything is written or nothing is.
func (s *attendanceService) Commit(ctx context.Context, req CommitRequest) (string, error) {
	const op = "AttendanceService.Commit"

	if err := s.validate.Struct(req); err != nil {
		return "", utils.E(utils.CodeInvalidArgument, op, "invalid attendance session", err)
	}

	now := s.now().UTC()
	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	section := strings.TrimSpace(req.Course.Section)
	if section == "" {
		section = defaultSection
	}

	var md datatypes.JSON
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return "", utils.E(utils.CodeInvalidArgument, op, "invalid metadata", err)
		}
		md = datatypes.JSON(b)
	}

	present := dedupe(req.PresentStudentIDs)
	sess := &models.AttendanceSession{
		ID:                uuid.NewString(),
		SubjectID:         req.Course.SubjectID,
		SemesterID:        req.Course.SemesterID,
		SubjectName:       req.Course.SubjectName,
		Section:           section,
		PeriodIndex:       req.Course.PeriodIndex,
		TimeRange:         req.Course.TimeRange,
		DateString:        date.Format(dateLayout),
		Mode:              req.Mode,
		Confidence:        models.ReviewedConfidence,
		FacultyID:         req.OperatorID,
		Status:            models.SessionStatusCompleted,
		PresentStudentIDs: present,
		Headcount:         req.Headcount,
		VoiceCount:        req.RecognizedCount,
		Metadata:          md,
		Timestamp:         now,
	}

	records := make([]models.AttendanceRecord, 0, len(present))
	for _, id := range present {
		records = append(records, models.AttendanceRecord{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			StudentID:  id,
			Status:     recordPresent,
			DateString: sess.DateString,
		})
	}

	if err := s.store.Save(ctx, sess, records); err != nil {
		s.log.WithError(err).WithField("subject_id", sess.SubjectID).Error("attendance save failed")
		return "", utils.E(utils.CodeSaveFailed, op, "failed to save attendance", err)
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"subject_id": sess.SubjectID,
		"present":    len(present),
		"headcount":  sess.Headcount,
		"mode":       sess.Mode,
	}).Info("attendance committed")
	return sess.ID, nil
}

func (s *attendanceService) Get(ctx context.Context, id string) (*models.AttendanceSession, error) {
	const op = "AttendanceService.Get"

	if id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "id is required", nil)
	}
	out, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "attendance session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get attendance session", err)
	}
	return out, nil
}

func (s *attendanceService) ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error) {
	const op = "AttendanceService.ListBySubject"

	if subjectID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "subject_id is required", nil)
	}
	if date != "" {
		if _, err := time.Parse(dateLayout, date); err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "date must be YYYY-MM-DD", err)
		}
	}
	out, err := s.store.ListBySubject(ctx, subjectID, date, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list attendance sessions", err)
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
