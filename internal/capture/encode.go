package capture

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	MimeJPEG = "image/jpeg"
	MimeWebP = "image/webp"

	defaultQuality = 80
)

// Encoder turns a frame into a lossy still.
type Encoder interface {
	Encode(img image.Image) (data []byte, mimeType string, err error)
}

// JPEGEncoder encodes at Quality (default 80), downscaling to MaxWidth when set.
type JPEGEncoder struct {
	Quality  int
	MaxWidth int
}

func (e JPEGEncoder) Encode(img image.Image) ([]byte, string, error) {
	q := e.Quality
	if q <= 0 || q > 100 {
		q = defaultQuality
	}
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, downscale(img, e.MaxWidth), imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), MimeJPEG, nil
}

// WebPEncoder is the smaller lossy alternative.
type WebPEncoder struct {
	Quality  float32
	MaxWidth int
}

func (e WebPEncoder) Encode(img image.Image) ([]byte, string, error) {
	q := e.Quality
	if q <= 0 || q > 100 {
		q = defaultQuality
	}
	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, downscale(img, e.MaxWidth), &webp.Options{Lossless: false, Quality: q}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), MimeWebP, nil
}

// NewEncoder picks an encoder by format name ("jpeg", "jpg", "webp").
func NewEncoder(format string, quality, maxWidth int) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "jpeg", "jpg":
		return JPEGEncoder{Quality: quality, MaxWidth: maxWidth}, nil
	case "webp":
		return WebPEncoder{Quality: float32(quality), MaxWidth: maxWidth}, nil
	default:
		return nil, fmt.Errorf("unsupported capture format %q", format)
	}
}

func downscale(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}
