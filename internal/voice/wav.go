package voice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			nb := make([]byte, end, 2*end)
			copy(nb, w.buf)
			w.buf = nb
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("writeSeeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("writeSeeker: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}

func (w *writeSeeker) Bytes() []byte { return w.buf }

// EncodeWAV wraps little-endian 16 bit PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format: %d Hz, %d channels", sampleRate, channels)
	}
	out := &writeSeeker{}
	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return out.Bytes(), nil
}

// finalize turns the recorded chunks into a single uploadable blob. Raw PCM
// becomes WAV; anything else is passed through with its own mime type.
func finalize(data []byte, format AudioFormat) (AudioBlob, error) {
	raw := append([]byte(nil), data...)
	if format.MimeType != MimePCM {
		mime := format.MimeType
		if mime == "" {
			mime = MimeWAV
		}
		return AudioBlob{Data: raw, MimeType: mime}, nil
	}
	channels := format.Channels
	if channels == 0 {
		channels = 1
	}
	wavData, err := EncodeWAV(raw, format.SampleRate, channels)
	if err != nil {
		return AudioBlob{}, err
	}
	return AudioBlob{Data: wavData, MimeType: MimeWAV}, nil
}
