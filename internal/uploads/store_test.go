package uploads

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	store, err := New(dir)
	require.NoError(t, err)
	require.Equal(t, dir, store.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSniff(t *testing.T) {
	format, err := Sniff(encodePNG(t))
	require.NoError(t, err)
	require.Equal(t, "png", format)

	format, err = Sniff(encodeJPEG(t))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)

	_, err = Sniff([]byte("definitely not an image"))
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestSaveUsesUniqueNames(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	data := encodePNG(t)
	first, err := store.Save(context.Background(), data)
	require.NoError(t, err)
	second, err := store.Save(context.Background(), data)
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Equal(t, store.Dir(), filepath.Dir(first))
	require.True(t, strings.HasSuffix(first, ".png"))

	written, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, data, written)

	require.NoError(t, store.Remove(first))
	require.NoError(t, store.Remove(first))
	_, err = os.Stat(first)
	require.True(t, os.IsNotExist(err))
}

func TestSaveRejectsInvalidImageWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	_, err = store.Save(context.Background(), []byte("GIF89a-truncated"))
	require.ErrorIs(t, err, ErrInvalidImage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSaveHonoursCanceledContext(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Save(ctx, encodePNG(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"passport.jpg":           "passport.jpg",
		"My ID photo.png":        "My_ID_photo.png",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\selfie.jpg`: "selfie.jpg",
		"..hidden.":              "hidden",
		"sélfie.jpeg":            "slfie.jpeg",
		"":                       "",
		"/":                      "",
	}
	for in, want := range tests {
		require.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
