package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/cache"
	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/utils"
)

// StudentSource is satisfied by the postgres student repository.
type StudentSource interface {
	ListBySemester(ctx context.Context, semesterID string) ([]models.Student, error)
}

type RosterService interface {
	GetStudentsBySemester(ctx context.Context, semesterID string) ([]models.Student, error)
	Invalidate(ctx context.Context, semesterID string) error
}

type rosterService struct {
	students StudentSource
	cache    cache.Cache
	ttl      time.Duration
	log      *logrus.Logger
}

// NewRosterService caches rosters for ttl; c may be nil.
func NewRosterService(students StudentSource, c cache.Cache, ttl time.Duration, log *logrus.Logger) RosterService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &rosterService{students: students, cache: c, ttl: ttl, log: logger.OrDiscard(log)}
}

func rosterKey(semesterID string) string { return "roster:" + semesterID }

func (s *rosterService) GetStudentsBySemester(ctx context.Context, semesterID string) ([]models.Student, error) {
	const op = "RosterService.GetStudentsBySemester"

	if semesterID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "semester_id is required", nil)
	}

	if s.cache != nil {
		var cached []models.Student
		hit, err := s.cache.GetJSON(ctx, rosterKey(semesterID), &cached)
		if err != nil {
			s.log.WithError(err).Warn("roster cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	out, err := s.students.ListBySemester(ctx, semesterID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load roster", err)
	}
	if out == nil {
		out = []models.Student{}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, rosterKey(semesterID), out, s.ttl); err != nil {
			s.log.WithError(err).Warn("roster cache write failed")
		}
	}
	return out, nil
}

func (s *rosterService) Invalidate(ctx context.Context, semesterID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, rosterKey(semesterID))
}
