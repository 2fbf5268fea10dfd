package stt

import (
	"bytes"
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_LINEAR16,
		SampleRateHz: 16000,
	}, nil
}

// Client exposes the underlying client so the streaming recognizer can share it.
func (g *GoogleSpeech) Client() *speech.Client { return g.c }

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func isWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// rollCallPhrases biases recognition toward spoken numbers.
var rollCallPhrases = []string{"present", "roll number", "$OOV_CLASS_DIGIT_SEQUENCE"}

func (g *GoogleSpeech) config(audio []byte, language string) *speechpb.RecognitionConfig {
	if language == "" {
		language = "en-US"
	}
	cfg := &speechpb.RecognitionConfig{
		Encoding:                   g.Encoding,
		SampleRateHertz:            g.SampleRateHz,
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
		SpeechContexts:             []*speechpb.SpeechContext{{Phrases: rollCallPhrases}},
	}
	if isWAV(audio) {
		// encoding and rate come from the header
		cfg.Encoding = speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
		cfg.SampleRateHertz = 0
	}
	return cfg
}

// language example: "en-US", "id-ID"
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: g.config(audio, language),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	// a roll call spans many results; keep the best alternative of each
	var parts []string
	var confSum float64
	for _, r := range resp.Results {
		var best *speechpb.SpeechRecognitionAlternative
		for _, alt := range r.Alternatives {
			if alt.Transcript != "" && (best == nil || alt.Confidence > best.Confidence) {
				best = alt
			}
		}
		if best != nil {
			parts = append(parts, strings.TrimSpace(best.Transcript))
			confSum += float64(best.Confidence)
		}
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), confSum / float64(len(parts)), nil
}
