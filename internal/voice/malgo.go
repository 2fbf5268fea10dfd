package voice

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
)

// MalgoMicrophone captures mono 16 bit PCM from a local audio device.
type MalgoMicrophone struct {
	// Device is matched against device names; empty selects the system default.
	Device     string
	SampleRate int
	Logger     *logrus.Logger
}

func NewMalgoMicrophone(device string, sampleRate int, log *logrus.Logger) *MalgoMicrophone {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &MalgoMicrophone{Device: device, SampleRate: sampleRate, Logger: log}
}

func backends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func (m *MalgoMicrophone) Open(ctx context.Context) (AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.OrDiscard(m.Logger)

	mctx, err := malgo.InitContext(backends(), malgo.ContextConfig{}, func(message string) {
		log.Debug(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("context init failed: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.SampleRate)
	cfg.Alsa.NoMMap = 1

	if m.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, fmt.Errorf("failed to get devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if strings.Contains(info.Name(), m.Device) {
				cfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, fmt.Errorf("no capture device matches %q", m.Device)
		}
	}

	return &malgoStream{
		mctx: mctx,
		cfg:  cfg,
		format: AudioFormat{
			MimeType:   MimePCM,
			SampleRate: m.SampleRate,
			Channels:   1,
			BitDepth:   16,
		},
		log: log,
	}, nil
}

type malgoStream struct {
	mctx   *malgo.AllocatedContext
	cfg    malgo.DeviceConfig
	format AudioFormat
	log    *logrus.Logger

	mu      sync.Mutex
	device  *malgo.Device
	stopped bool
}

func (s *malgoStream) Format() AudioFormat { return s.format }

func (s *malgoStream) Start(onData func(chunk []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errStreamStopped
	}
	if s.device != nil {
		return nil
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			onData(samples)
		},
	}
	device, err := malgo.InitDevice(s.mctx.Context, s.cfg, callbacks)
	if err != nil {
		return fmt.Errorf("device init failed: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("device start failed: %w", err)
	}
	s.device = device
	s.log.WithField("sample_rate", s.format.SampleRate).Debug("microphone started")
	return nil
}

// Stop releases the device and its context. Safe to call repeatedly.
func (s *malgoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if uerr := s.mctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	s.mctx.Free()
	return err
}
