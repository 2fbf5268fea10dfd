package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/config"
	"github.com/yoockh/smartattend/internal/api/handlers"
	"github.com/yoockh/smartattend/internal/api/middleware"
	"github.com/yoockh/smartattend/internal/api/routes"
	"github.com/yoockh/smartattend/internal/cache"
	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/engine"
	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/metrics"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/providers/backend"
	"github.com/yoockh/smartattend/internal/providers/stt"
	"github.com/yoockh/smartattend/internal/providers/vision"
	mongorepo "github.com/yoockh/smartattend/internal/repositories/mongo"
	pgrepo "github.com/yoockh/smartattend/internal/repositories/postgres"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/storage"
	"github.com/yoockh/smartattend/internal/voice"
	"github.com/yoockh/smartattend/internal/workers"
)

const shutdownTimeout = 15 * time.Second

// app collects what serve has to tear down.
type app struct {
	log      *logrus.Logger
	closers  []func() error
	waiters  []func()
	sessions *engine.Manager
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *app) shutdown() {
	if a.sessions != nil {
		a.sessions.CloseAll()
	}
	for _, w := range a.waiters {
		w()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("shutdown")
		}
	}
}

func serve(ctx context.Context, s *config.Settings) error {
	log := logger.New(s.LogLevel)
	a := &app{log: log}
	defer a.shutdown()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("redis unavailable, using in-process cache and events")
	} else {
		log.Info("redis connected")
		a.onClose(config.RedisClient.Close)
	}
	rdb := config.RedisClient

	var mediaLogs services.MediaLogWriter
	var mongoHistory services.AttendanceStore
	if os.Getenv("MONGO_URI") != "" {
		if err := config.InitMongo(); err != nil {
			log.WithError(err).Warn("mongo unavailable, media logs disabled")
		} else {
			log.Info("mongo connected")
			a.onClose(func() error { return config.MongoClient.Disconnect(context.Background()) })
			if err := config.EnsureMongoIndexes(s.MongoDB); err != nil {
				log.WithError(err).Warn("mongo indexes")
			}
			db := config.MongoClient.Database(s.MongoDB)
			mediaLogs = mongorepo.NewMediaLogRepo(db)
			mongoHistory = mongorepo.NewAttendanceRepo(db)
		}
	}

	uploader, err := newUploader(ctx, s, a)
	if err != nil {
		return err
	}

	var rosterCache cache.Cache = cache.NewMemoryCache(s.RosterCacheTTL)
	if rdb != nil {
		rosterCache = cache.NewRedisCache(rdb)
	}

	// processing providers; each is optional
	var speech *stt.GoogleSpeech
	if gs, err := stt.NewGoogleSpeech(ctx); err != nil {
		log.WithError(err).Warn("speech client unavailable")
	} else {
		speech = gs
		a.onClose(gs.Close)
	}
	var counter *vision.VertexGemini
	if s.VertexProject != "" {
		vg, err := vision.NewVertexGemini(ctx, s.VertexProject, s.VertexLocation, s.VertexModel)
		if err != nil {
			log.WithError(err).Warn("vertex client unavailable")
		} else {
			counter = vg
			a.onClose(vg.Close)
		}
	}

	var (
		headcounts services.HeadcountService
		rollCalls  services.RollCallService
		attendance services.AttendanceService
		roster     services.RosterService
	)
	if counter != nil {
		headcounts = services.NewHeadcountService(counter, uploader, mediaLogs, log)
	}
	if speech != nil {
		rollCalls = services.NewRollCallService(speech, s.SpeechLanguage, uploader, mediaLogs, log)
	}

	if err := config.InitPostgres(); err != nil {
		if s.BackendURL == "" {
			return fmt.Errorf("postgres init: %w", err)
		}
		log.WithError(err).Warn("postgres unavailable, attendance endpoints disabled")
	} else {
		log.Info("postgres connected")
		roster = services.NewRosterService(pgrepo.NewStudentRepo(config.PostgresDB), rosterCache, s.RosterCacheTTL, log)
		var store services.AttendanceStore = pgrepo.NewAttendanceRepo(config.PostgresDB)
		if s.AttendanceStore == "mongo" && mongoHistory != nil {
			store = mongoHistory
		}
		attendance = services.NewAttendanceService(store, log)
	}

	deps, err := kioskDeps(ctx, s, a, speech, headcounts, rollCalls, attendance, roster, m, log)
	if err != nil {
		return err
	}
	a.sessions = engine.NewManager(deps)

	var subscriber engine.Subscriber
	switch n := deps.Notifier.(type) {
	case *engine.RedisNotifier:
		subscriber = n
	case *engine.Hub:
		subscriber = n
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	rd := routes.Deps{
		JWT: middleware.JWTConfig{
			Secret:   s.JWTSecret,
			Issuer:   s.JWTIssuer,
			Audience: s.JWTAudience,
		},
		Session: handlers.NewSessionHandler(a.sessions),
		WS:      handlers.NewWSHandler(a.sessions, subscriber, s.WSOrigins),
		Metrics: m.Handler(),
	}
	if headcounts != nil && rollCalls != nil {
		rd.Processing = handlers.NewProcessingHandler(headcounts, rollCalls)
	}
	if attendance != nil && roster != nil {
		rd.Attendance = handlers.NewAttendanceHandler(attendance, roster)
	}
	routes.RegisterRoutes(r, rd)

	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", s.Port).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func newUploader(ctx context.Context, s *config.Settings, a *app) (storage.Uploader, error) {
	if s.GCSBucket != "" {
		u, err := storage.NewGCSUploader(ctx, s.GCSBucket)
		if err == nil {
			a.onClose(u.Close)
			return u, nil
		}
		a.log.WithError(err).Warn("gcs unavailable, archiving media to local disk")
	}
	u, err := storage.NewLocalUploader(s.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	return u, nil
}

// kioskDeps wires the attendance engine either to a remote processing backend
// or to the services running in this process.
func kioskDeps(
	ctx context.Context,
	s *config.Settings,
	a *app,
	speech *stt.GoogleSpeech,
	headcounts services.HeadcountService,
	rollCalls services.RollCallService,
	attendance services.AttendanceService,
	roster services.RosterService,
	m *metrics.Metrics,
	log *logrus.Logger,
) (engine.Deps, error) {
	encoder, err := capture.NewEncoder(s.CaptureFormat, s.CaptureQuality, s.CaptureMaxWidth)
	if err != nil {
		return engine.Deps{}, err
	}

	deps := engine.Deps{
		Capture: capture.Options{
			Constraints: capture.Constraints{
				FacingMode: s.CaptureFacing,
				Width:      s.CaptureWidth,
				Height:     s.CaptureHeight,
			},
			RetryDelay: s.CaptureRetryDelay,
			Encoder:    encoder,
			Logger:     log,
		},
		Microphone: voice.NewMalgoMicrophone(s.AudioDevice, s.AudioSampleRate, log),
		Language:   s.SpeechLanguage,
		Mode:       models.ModeSmart,
		Metrics:    m,
		Logger:     log,
	}
	if s.CameraSnapshotURL != "" {
		deps.Camera = capture.NewSnapshotCamera(s.CameraSnapshotURL)
	}
	if s.SpeechLocal && speech != nil {
		deps.Local = stt.NewGoogleStreaming(speech.Client(), log)
	}

	rdb := config.RedisClient
	if rdb != nil {
		deps.Notifier = engine.NewRedisNotifier(rdb, log)
	} else {
		deps.Notifier = engine.NewHub()
	}

	var archiveTo services.RollCallService
	if s.BackendURL != "" {
		client, err := backend.New(s.BackendURL, backend.Options{Token: s.BackendToken, Logger: log})
		if err != nil {
			return engine.Deps{}, err
		}
		deps.Roster = client
		deps.Committer = client
		deps.Counter = client
		deps.Transcriber = client
		archiveTo = client
		log.WithField("backend", s.BackendURL).Info("kiosk uses remote processing backend")
	} else {
		if roster != nil {
			deps.Roster = roster
		}
		if attendance != nil {
			deps.Committer = attendance
		}
		if headcounts != nil {
			deps.Counter = headcounts
		}
		if rollCalls != nil {
			deps.Transcriber = rollCalls
			archiveTo = rollCalls
		}
	}

	switch {
	case archiveTo == nil:
	case rdb != nil:
		sa := workers.NewStreamArchiver(rdb, s.ArchiveStream, log)
		deps.Archiver = sa
		pool := &workers.ArchiveWorkerPool{
			Redis:      rdb,
			RollCalls:  archiveTo,
			NumWorkers: s.ArchiveWorkers,
			Logger:     log,
			Stream:     s.ArchiveStream,
		}
		if err := pool.Start(ctx); err != nil {
			return engine.Deps{}, err
		}
		a.waiters = append(a.waiters, sa.Wait, pool.Wait)
	default:
		da := workers.NewDirectArchiver(archiveTo, log)
		deps.Archiver = da
		a.waiters = append(a.waiters, da.Wait)
	}
	return deps, nil
}
