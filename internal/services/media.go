package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/storage"
)

// MediaLogWriter is satisfied by the mongo media log repository.
type MediaLogWriter interface {
	Insert(ctx context.Context, m *models.MediaLog) error
}

func extFor(mimeType, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	default:
		return fallback
	}
}

// mediaName builds the archive name, ex: capture_1700000000123.jpg.
func mediaName(prefix, mimeType, fallbackExt string, now time.Time) string {
	return fmt.Sprintf("%s_%d%s", prefix, now.UnixMilli(), extFor(mimeType, fallbackExt))
}

// archiver stores media and its processing outcome. Failures are logged and
// never fail the request that produced the media.
type archiver struct {
	uploader storage.Uploader
	logs     MediaLogWriter
	log      *logrus.Logger
}

func (a *archiver) store(ctx context.Context, name, mimeType string, data []byte) string {
	if a.uploader == nil {
		return ""
	}
	path, err := a.uploader.Upload(ctx, name, mimeType, bytes.NewReader(data))
	if err != nil {
		a.log.WithError(err).WithField("filename", name).Warn("media upload failed")
		return ""
	}
	return path
}

func (a *archiver) record(ctx context.Context, m *models.MediaLog) {
	if a.logs == nil {
		return
	}
	if err := a.logs.Insert(ctx, m); err != nil {
		a.log.WithError(err).WithField("filename", m.Filename).Warn("media log insert failed")
	}
}
