package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	u, err := NewLocalUploader(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	path, err := u.Upload(context.Background(), "capture_1700000000.jpg", "image/jpeg", strings.NewReader("jpegbytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "uploads", "capture_1700000000.jpg"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(b))

	// traversal is flattened into the upload dir
	path, err = u.Upload(context.Background(), "../../etc/rollcall_1.wav", "audio/wav", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "uploads", "rollcall_1.wav"), path)

	entries, err := os.ReadDir(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestDiscard(t *testing.T) {
	path, err := Discard{}.Upload(context.Background(), "x", "", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Empty(t, path)
}
