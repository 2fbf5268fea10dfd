package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/utils"
	"gorm.io/gorm"
)

type AttendanceRepository interface {
	// Save writes the session and its per-student records in one transaction.
	Save(ctx context.Context, s *models.AttendanceSession, records []models.AttendanceRecord) error
	GetByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error)
	ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

type attendanceRepo struct {
	db *gorm.DB
}

func NewAttendanceRepo(db *gorm.DB) AttendanceRepository {
	return &attendanceRepo{db: db}
}

func (r *attendanceRepo) Save(ctx context.Context, s *models.AttendanceSession, records []models.AttendanceRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 200).Error
	})
}

func (r *attendanceRepo) GetByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	var s models.AttendanceSession
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *attendanceRepo) ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Where("subject_id = ?", subjectID)
	if date != "" {
		q = q.Where("date_string = ?", date)
	}
	var out []models.AttendanceSession
	err := q.Order("timestamp DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *attendanceRepo) ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("student_id ASC").
		Find(&out).Error
	return out, err
}
