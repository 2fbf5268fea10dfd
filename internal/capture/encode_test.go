package capture

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJPEGEncoderDownscales(t *testing.T) {
	data, mime, err := JPEGEncoder{Quality: 80, MaxWidth: 100}.Encode(solidFrame(400, 200))
	require.NoError(t, err)
	assert.Equal(t, MimeJPEG, mime)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestWebPEncoder(t *testing.T) {
	data, mime, err := WebPEncoder{}.Encode(solidFrame(16, 16))
	require.NoError(t, err)
	assert.Equal(t, MimeWebP, mime)
	assert.Equal(t, "RIFF", string(data[:4]))
}

func TestNewEncoder(t *testing.T) {
	enc, err := NewEncoder("", 0, 0)
	require.NoError(t, err)
	assert.IsType(t, JPEGEncoder{}, enc)

	enc, err = NewEncoder("WebP", 70, 640)
	require.NoError(t, err)
	assert.Equal(t, WebPEncoder{Quality: 70, MaxWidth: 640}, enc)

	_, err = NewEncoder("gif", 0, 0)
	assert.Error(t, err)
}

func TestSnapshotCamera(t *testing.T) {
	frame := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(frame, solidFrame(200, 100), nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(frame.Bytes())
	}))
	defer srv.Close()

	cam := NewSnapshotCamera(srv.URL)
	stream, err := cam.Open(context.Background(), Constraints{Width: 100})
	require.NoError(t, err)

	img, err := stream.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	require.NoError(t, stream.Stop())
	_, err = stream.Frame(context.Background())
	assert.ErrorIs(t, err, errStopped)
}

func TestSnapshotCameraUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSnapshotCamera(srv.URL).Open(context.Background(), DefaultConstraints())
	assert.Error(t, err)

	_, err = NewSnapshotCamera("").Open(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, errNoCamera)
}
