package stt

import "context"

type Provider interface {
	// Transcribe accepts raw LINEAR16 or a WAV file; WAV headers carry their own format.
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)
	Close() error
}
