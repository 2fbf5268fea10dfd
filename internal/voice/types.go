// Package voice records a spoken roll call and turns it into a candidate
// present-set, preferring a live continuous recognizer and falling back to
// server-side transcription of the captured audio.
package voice

import (
	"context"
	"errors"

	"github.com/yoockh/smartattend/internal/rollcall"
)

type Status string

const (
	StatusIdle             Status = "idle"
	StatusStarting         Status = "starting"
	StatusListening        Status = "listening"
	StatusNoSpeech         Status = "no-speech"
	StatusNetworkError     Status = "network-error"
	StatusProcessing       Status = "processing"
	StatusServerProcessing Status = "server-processing"
	StatusError            Status = "error"
)

// Source says which path produced an Outcome.
type Source string

const (
	SourceLocal  Source = "local"
	SourceServer Source = "server"
	SourceManual Source = "manual"
)

// Reasons the server path was taken.
const (
	FallbackUnsupported     = "unsupported"
	FallbackNetworkError    = "network-error"
	FallbackEmptyTranscript = "empty-transcript"
)

// Outcome is the candidate present-set from one roll call.
type Outcome struct {
	RollNumbers    rollcall.Set
	Source         Source
	Transcript     string
	FallbackReason string
	Audio          *AudioBlob
}

const (
	MimePCM = "audio/l16" // raw little-endian signed 16 bit
	MimeWAV = "audio/wav"
)

type AudioFormat struct {
	MimeType   string
	SampleRate int
	Channels   int
	BitDepth   int
}

// AudioBlob is the finalized recording.
type AudioBlob struct {
	Data     []byte
	MimeType string
}

// Microphone is the platform audio capability.
type Microphone interface {
	Open(ctx context.Context) (AudioStream, error)
}

// AudioStream is an acquired microphone. onData may be called from any
// goroutine and must not retain chunk.
type AudioStream interface {
	Format() AudioFormat
	Start(onData func(chunk []byte)) error
	Stop() error
}

// Local recognition error codes.
const (
	ErrCodeNetwork  = "network"
	ErrCodeNoSpeech = "no-speech"
)

// SessionEvents are the callbacks a LocalSession reports through.
type SessionEvents struct {
	OnStart func()
	// OnResult carries every hypothesis segment of the utterance so far,
	// not just the new ones.
	OnResult func(segments []string)
	OnError  func(code string)
	OnEnd    func()
}

// LocalRecognizer is the optional continuous recognition capability. A nil
// LocalRecognizer means the platform has none.
type LocalRecognizer interface {
	NewSession(format AudioFormat, language string, ev SessionEvents) (LocalSession, error)
}

// LocalSession is one continuous recognition session. It may end on its own
// and be started again. Stop must be safe to call from inside any
// SessionEvents callback.
type LocalSession interface {
	Start() error
	// Write feeds captured audio; recognizers that own their input ignore it.
	Write(chunk []byte)
	Stop() error
}

// RollCallResult is the backend's answer for a recorded roll call.
type RollCallResult struct {
	Text        string   `json:"text"`
	RollNumbers []string `json:"roll_numbers"`
	Filename    string   `json:"filename,omitempty"`
}

// Transcriber is the backend processRollCall service.
type Transcriber interface {
	ProcessRollCall(ctx context.Context, audio AudioBlob) (*RollCallResult, error)
}

// Archiver forwards audio for logging only. It must not block the caller.
type Archiver interface {
	Archive(ctx context.Context, audio AudioBlob)
}

var (
	errNoMicrophone  = errors.New("no microphone configured")
	errNoTranscriber = errors.New("no transcription backend configured")
	errStreamStopped = errors.New("audio stream stopped")
)
