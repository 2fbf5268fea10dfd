package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/providers/vision"
	"github.com/yoockh/smartattend/internal/storage"
	"github.com/yoockh/smartattend/internal/utils"
)

type HeadcountResult struct {
	Count    int    `json:"count"`
	Filename string `json:"filename"`
}

type HeadcountService interface {
	CountStudents(ctx context.Context, image []byte, mimeType string) (*HeadcountResult, error)
	// GetHeadcount adapts CountStudents for the capture controller.
	GetHeadcount(ctx context.Context, art capture.Artifact) (int, error)
}

type headcountService struct {
	counter vision.Counter
	media   archiver
}

func NewHeadcountService(counter vision.Counter, uploader storage.Uploader, logs MediaLogWriter, log *logrus.Logger) HeadcountService {
	return &headcountService{
		counter: counter,
		media:   archiver{uploader: uploader, logs: logs, log: logger.OrDiscard(log)},
	}
}

func (s *headcountService) CountStudents(ctx context.Context, image []byte, mimeType string) (*HeadcountResult, error) {
	const op = "HeadcountService.CountStudents"

	if len(image) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "no image provided", nil)
	}
	if mimeType == "" {
		mimeType = capture.MimeJPEG
	}

	start := time.Now()
	name := mediaName("capture", mimeType, ".jpg", start)
	path := s.media.store(ctx, name, mimeType, image)

	entry := &models.MediaLog{
		Kind:       models.MediaKindImage,
		Filename:   name,
		StoredPath: path,
		MimeType:   mimeType,
		Size:       int64(len(image)),
	}

	count, err := s.counter.CountPeople(ctx, image, mimeType)
	entry.ProcessingTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		entry.Status = "failed"
		s.media.record(ctx, entry)
		return nil, utils.E(utils.CodeCaptureFailed, op, "head count failed", err)
	}

	entry.Status = "done"
	entry.Count = &count
	s.media.record(ctx, entry)

	s.media.log.WithFields(logrus.Fields{
		"filename": name,
		"count":    count,
		"ms":       entry.ProcessingTimeMS,
	}).Info("head count done")
	return &HeadcountResult{Count: count, Filename: name}, nil
}

func (s *headcountService) GetHeadcount(ctx context.Context, art capture.Artifact) (int, error) {
	res, err := s.CountStudents(ctx, art.Data, art.MimeType)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}
