package workers

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/voice"
)

const (
	DefaultArchiveStream = "audio:archive"
	defaultGroup         = "archive-workers"
	archiveTimeout       = 2 * time.Minute
)

// ArchiveWorkerPool consumes recordings queued by StreamArchiver and runs
// them through server-side roll-call processing so the audio and its
// transcript end up in storage and media_logs.
type ArchiveWorkerPool struct {
	Redis      *redis.Client
	RollCalls  services.RollCallService
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string

	wg sync.WaitGroup
}

func (p *ArchiveWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.RollCalls == nil {
		return errors.New("ArchiveWorkerPool missing dependency: Redis/RollCalls must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultArchiveStream
	}
	if p.Group == "" {
		p.Group = defaultGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	p.Logger = logger.OrDiscard(p.Logger)

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}
	p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "workers": p.NumWorkers}).Info("archive workers started")
	return nil
}

// Wait blocks until every consumer has returned after ctx is cancelled.
func (p *ArchiveWorkerPool) Wait() { p.wg.Wait() }

func (p *ArchiveWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).Warn("archive stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *ArchiveWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	log := p.Logger.WithField("redis_id", msg.ID)

	blob, sessionID, err := decodeArchiveMsg(msg.Values)
	if err != nil {
		log.WithError(err).Warn("dropping archive entry")
		return
	}
	log = log.WithField("session_id", sessionID)

	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	res, err := p.RollCalls.ProcessRollCall(ctx, blob)
	if err != nil {
		log.WithError(err).Warn("archived roll call processing failed")
		return
	}
	log.WithFields(logrus.Fields{
		"filename":     res.Filename,
		"roll_numbers": len(res.RollNumbers),
	}).Info("roll call archived")
}

func encodeArchiveMsg(blob voice.AudioBlob, sessionID string) map[string]any {
	return map[string]any{
		"session_id":   sessionID,
		"mime_type":    blob.MimeType,
		"audio_base64": base64.StdEncoding.EncodeToString(blob.Data),
	}
}

func decodeArchiveMsg(values map[string]any) (voice.AudioBlob, string, error) {
	getStr := func(k string) string {
		v, ok := values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	raw := getStr("audio_base64")
	if raw == "" {
		return voice.AudioBlob{}, "", errors.New("missing audio_base64")
	}
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:] // strip data:...;base64,
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return voice.AudioBlob{}, "", err
	}
	if len(data) == 0 {
		return voice.AudioBlob{}, "", errors.New("empty audio")
	}
	return voice.AudioBlob{Data: data, MimeType: getStr("mime_type")}, getStr("session_id"), nil
}
