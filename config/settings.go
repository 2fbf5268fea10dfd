package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the process configuration. Values come from the environment
// and, when present, smartattend.yaml in the working directory or /etc/smartattend.
type Settings struct {
	Port     string
	LogLevel string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	WSOrigins   []string

	CaptureWidth      int
	CaptureHeight     int
	CaptureFacing     string
	CaptureRetryDelay time.Duration
	CaptureFormat     string
	CaptureQuality    int
	CaptureMaxWidth   int
	CameraSnapshotURL string

	AudioDevice     string
	AudioSampleRate int
	SpeechLanguage  string
	SpeechLocal     bool

	BackendURL   string
	BackendToken string

	GCSBucket       string
	UploadDir       string
	AttendanceStore string
	RosterCacheTTL  time.Duration

	VertexProject  string
	VertexLocation string
	VertexModel    string

	ArchiveStream  string
	ArchiveWorkers int
	MongoDB        string
}

// envKeys maps settings keys to the environment variables read for them.
var envKeys = map[string]string{
	"port":                "PORT",
	"log_level":           "LOG_LEVEL",
	"jwt.secret":          "JWT_SECRET",
	"jwt.issuer":          "JWT_ISSUER",
	"jwt.audience":        "JWT_AUDIENCE",
	"ws.origins":          "WS_ALLOWED_ORIGINS",
	"capture.width":       "CAPTURE_WIDTH",
	"capture.height":      "CAPTURE_HEIGHT",
	"capture.facing":      "CAPTURE_FACING",
	"capture.retry_delay": "CAPTURE_RETRY_DELAY",
	"capture.format":      "CAPTURE_FORMAT",
	"capture.quality":     "CAPTURE_QUALITY",
	"capture.max_width":   "CAPTURE_MAX_WIDTH",
	"camera.snapshot_url": "CAMERA_SNAPSHOT_URL",
	"audio.device":        "AUDIO_DEVICE",
	"audio.sample_rate":   "AUDIO_SAMPLE_RATE",
	"speech.language":     "SPEECH_LANGUAGE",
	"speech.local":        "SPEECH_LOCAL",
	"backend.url":         "BACKEND_URL",
	"backend.token":       "BACKEND_TOKEN",
	"gcs.bucket":          "GCS_BUCKET",
	"upload_dir":          "UPLOAD_DIR",
	"attendance.store":    "ATTENDANCE_STORE",
	"roster.cache_ttl":    "ROSTER_CACHE_TTL",
	"vertex.project":      "VERTEX_PROJECT",
	"vertex.location":     "VERTEX_LOCATION",
	"vertex.model":        "VERTEX_MODEL",
	"archive.stream":      "ARCHIVE_STREAM",
	"archive.workers":     "ARCHIVE_WORKERS",
	"mongo.db":            "MONGO_DB",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("capture.width", 1280)
	v.SetDefault("capture.height", 720)
	v.SetDefault("capture.facing", "environment")
	v.SetDefault("capture.retry_delay", 100*time.Millisecond)
	v.SetDefault("capture.format", "jpeg")
	v.SetDefault("capture.quality", 80)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.local", true)
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("attendance.store", "postgres")
	v.SetDefault("roster.cache_ttl", 10*time.Minute)
	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.model", "gemini-1.5-flash")
	v.SetDefault("archive.stream", "audio:archive")
	v.SetDefault("archive.workers", 2)
	v.SetDefault("mongo.db", "smartattend")
}

// Load reads settings. A missing config file is not an error.
func Load() (*Settings, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (*Settings, error) {
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if readFile {
		v.SetConfigName("smartattend")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/smartattend")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	s := &Settings{
		Port:     v.GetString("port"),
		LogLevel: v.GetString("log_level"),

		JWTSecret:   v.GetString("jwt.secret"),
		JWTIssuer:   v.GetString("jwt.issuer"),
		JWTAudience: v.GetString("jwt.audience"),
		WSOrigins:   splitList(v.GetString("ws.origins")),

		CaptureWidth:      v.GetInt("capture.width"),
		CaptureHeight:     v.GetInt("capture.height"),
		CaptureFacing:     v.GetString("capture.facing"),
		CaptureRetryDelay: v.GetDuration("capture.retry_delay"),
		CaptureFormat:     strings.ToLower(v.GetString("capture.format")),
		CaptureQuality:    v.GetInt("capture.quality"),
		CaptureMaxWidth:   v.GetInt("capture.max_width"),
		CameraSnapshotURL: v.GetString("camera.snapshot_url"),

		AudioDevice:     v.GetString("audio.device"),
		AudioSampleRate: v.GetInt("audio.sample_rate"),
		SpeechLanguage:  v.GetString("speech.language"),
		SpeechLocal:     v.GetBool("speech.local"),

		BackendURL:   v.GetString("backend.url"),
		BackendToken: v.GetString("backend.token"),

		GCSBucket:       v.GetString("gcs.bucket"),
		UploadDir:       v.GetString("upload_dir"),
		AttendanceStore: strings.ToLower(v.GetString("attendance.store")),
		RosterCacheTTL:  v.GetDuration("roster.cache_ttl"),

		VertexProject:  v.GetString("vertex.project"),
		VertexLocation: v.GetString("vertex.location"),
		VertexModel:    v.GetString("vertex.model"),

		ArchiveStream:  v.GetString("archive.stream"),
		ArchiveWorkers: v.GetInt("archive.workers"),
		MongoDB:        v.GetString("mongo.db"),
	}
	return s, s.validate()
}

func (s *Settings) validate() error {
	var errs []error
	switch s.CaptureFormat {
	case "jpeg", "jpg", "webp":
	default:
		errs = append(errs, fmt.Errorf("CAPTURE_FORMAT must be jpeg or webp, got %q", s.CaptureFormat))
	}
	if s.CaptureQuality < 1 || s.CaptureQuality > 100 {
		errs = append(errs, fmt.Errorf("CAPTURE_QUALITY must be 1-100, got %d", s.CaptureQuality))
	}
	if s.CaptureWidth <= 0 || s.CaptureHeight <= 0 {
		errs = append(errs, errors.New("CAPTURE_WIDTH and CAPTURE_HEIGHT must be positive"))
	}
	switch s.AttendanceStore {
	case "postgres", "mongo":
	default:
		errs = append(errs, fmt.Errorf("ATTENDANCE_STORE must be postgres or mongo, got %q", s.AttendanceStore))
	}
	if s.AudioSampleRate <= 0 {
		errs = append(errs, errors.New("AUDIO_SAMPLE_RATE must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
