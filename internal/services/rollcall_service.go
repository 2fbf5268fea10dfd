package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/providers/stt"
	"github.com/yoockh/smartattend/internal/rollcall"
	"github.com/yoockh/smartattend/internal/storage"
	"github.com/yoockh/smartattend/internal/utils"
	"github.com/yoockh/smartattend/internal/voice"
)

type RollCallService interface {
	ProcessRollCall(ctx context.Context, audio voice.AudioBlob) (*voice.RollCallResult, error)
}

type rollCallService struct {
	stt      stt.Provider
	language string
	media    archiver
}

func NewRollCallService(provider stt.Provider, language string, uploader storage.Uploader, logs MediaLogWriter, log *logrus.Logger) RollCallService {
	if language == "" {
		language = "en-US"
	}
	return &rollCallService{
		stt:      provider,
		language: language,
		media:    archiver{uploader: uploader, logs: logs, log: logger.OrDiscard(log)},
	}
}

// ProcessRollCall archives the recording, transcribes it and extracts the
// roll numbers from the transcript.
func (s *rollCallService) ProcessRollCall(ctx context.Context, audio voice.AudioBlob) (*voice.RollCallResult, error) {
	const op = "RollCallService.ProcessRollCall"

	if len(audio.Data) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "no audio provided", nil)
	}
	mimeType := audio.MimeType
	if mimeType == "" {
		mimeType = voice.MimeWAV
	}

	start := time.Now()
	name := mediaName("rollcall", mimeType, ".wav", start)
	path := s.media.store(ctx, name, mimeType, audio.Data)

	entry := &models.MediaLog{
		Kind:       models.MediaKindAudio,
		Filename:   name,
		StoredPath: path,
		MimeType:   mimeType,
		Size:       int64(len(audio.Data)),
	}

	text, conf, err := s.stt.Transcribe(ctx, audio.Data, s.language)
	entry.ProcessingTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		entry.Status = "failed"
		s.media.record(ctx, entry)
		return nil, utils.E(utils.CodeTranscriptionFailed, op, "speech recognition failed", err)
	}

	numbers := rollcall.Extract(text).Slice()
	entry.Status = "done"
	entry.Text = text
	entry.RollNumbers = numbers
	s.media.record(ctx, entry)

	s.media.log.WithFields(logrus.Fields{
		"filename":   name,
		"confidence": conf,
		"found":      len(numbers),
		"ms":         entry.ProcessingTimeMS,
	}).Info("roll call processed")
	return &voice.RollCallResult{Text: text, RollNumbers: numbers, Filename: name}, nil
}
