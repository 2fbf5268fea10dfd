package postgres

import (
	"context"

	"github.com/yoockh/smartattend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StudentRepository interface {
	ListBySemester(ctx context.Context, semesterID string) ([]models.Student, error)
	UpsertMany(ctx context.Context, students []models.Student) error
}

type studentRepo struct {
	db *gorm.DB
}

func NewStudentRepo(db *gorm.DB) StudentRepository {
	return &studentRepo{db: db}
}

func (r *studentRepo) ListBySemester(ctx context.Context, semesterID string) ([]models.Student, error) {
	var out []models.Student
	err := r.db.WithContext(ctx).
		Where("semester_id = ?", semesterID).
		Order("reg_no ASC").
		Find(&out).Error
	return out, err
}

func (r *studentRepo) UpsertMany(ctx context.Context, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"semester_id", "reg_no", "name"}),
		}).
		Create(&students).Error
}
