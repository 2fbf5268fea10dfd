package workers

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/voice"
)

const enqueueTimeout = 5 * time.Second

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamArchiver queues recordings on a Redis stream for ArchiveWorkerPool.
type StreamArchiver struct {
	rdb    streamAdder
	stream string
	maxLen int64
	log    *logrus.Logger

	wg sync.WaitGroup
}

func NewStreamArchiver(rdb *redis.Client, stream string, log *logrus.Logger) *StreamArchiver {
	return newStreamArchiver(rdb, stream, log)
}

func newStreamArchiver(rdb streamAdder, stream string, log *logrus.Logger) *StreamArchiver {
	if stream == "" {
		stream = DefaultArchiveStream
	}
	return &StreamArchiver{rdb: rdb, stream: stream, maxLen: 1000, log: logger.OrDiscard(log)}
}

// ForSession returns an archiver whose entries carry sessionID.
func (a *StreamArchiver) ForSession(sessionID string) voice.Archiver {
	return &taggedArchiver{parent: a, tag: sessionID}
}

func (a *StreamArchiver) Archive(ctx context.Context, blob voice.AudioBlob) {
	a.enqueue(ctx, blob, "")
}

func (a *StreamArchiver) enqueue(ctx context.Context, blob voice.AudioBlob, sessionID string) {
	if len(blob.Data) == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer cancel()

		id, err := a.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: a.stream,
			MaxLen: a.maxLen,
			Approx: true,
			Values: encodeArchiveMsg(blob, sessionID),
		}).Result()
		if err != nil {
			a.log.WithError(err).WithField("session_id", sessionID).Warn("archive enqueue failed")
			return
		}
		a.log.WithFields(logrus.Fields{"redis_id": id, "session_id": sessionID, "bytes": len(blob.Data)}).Debug("audio queued for archive")
	}()
}

// Wait blocks until queued enqueues finish.
func (a *StreamArchiver) Wait() { a.wg.Wait() }

type taggedArchiver struct {
	parent *StreamArchiver
	tag    string
}

func (t *taggedArchiver) Archive(ctx context.Context, blob voice.AudioBlob) {
	t.parent.enqueue(ctx, blob, t.tag)
}

// DirectArchiver sends recordings straight to a Transcriber on a detached
// goroutine and ignores the answer except for logging.
type DirectArchiver struct {
	to  voice.Transcriber
	log *logrus.Logger
	wg  sync.WaitGroup
}

func NewDirectArchiver(to voice.Transcriber, log *logrus.Logger) *DirectArchiver {
	return &DirectArchiver{to: to, log: logger.OrDiscard(log)}
}

func (d *DirectArchiver) Archive(ctx context.Context, blob voice.AudioBlob) {
	if d.to == nil || len(blob.Data) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()

		res, err := d.to.ProcessRollCall(ctx, blob)
		if err != nil {
			d.log.WithError(err).Warn("audio archive failed")
			return
		}
		d.log.WithField("filename", res.Filename).Debug("audio archived")
	}()
}

func (d *DirectArchiver) Wait() { d.wg.Wait() }
