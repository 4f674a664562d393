package imagestore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveStoresSniffedImage(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	body := pngBytes(t)

	name, err := s.Save(context.Background(), `C:\photos\Front View.JPEG`, bytes.NewReader(body))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "-front-view.png"), name)

	f, err := s.Open(name)
	require.NoError(t, err)
	defer f.Close()
	stored, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, body, stored)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary upload files may be left behind")
}

func TestSaveRejectsNonImages(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "notes.png", strings.NewReader("plain text pretending to be a picture"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save(context.Background(), "empty.png", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveRejectsOversizedImage(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	body := io.MultiReader(bytes.NewReader(pngBytes(t)), bytes.NewReader(make([]byte, MaxImageBytes)))
	_, err = s.Save(context.Background(), "huge.png", body)
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveHonoursCancelledContext(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Save(ctx, "a.png", bytes.NewReader(pngBytes(t)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAndRemoveRejectPaths(t *testing.T) {
	root := t.TempDir()
	s, err := New(filepath.Join(root, "images"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o600))

	for _, name := range []string{"", "../secret.txt", "a/b.png", `a\b.png`, ".upload-1", ".."} {
		_, err := s.Open(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
		assert.ErrorIs(t, s.Remove(name), ErrInvalidName, name)
	}

	_, err = s.Open("missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	name, err := s.Save(context.Background(), "shelf.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	require.NoError(t, s.Remove(name))
	require.NoError(t, s.Remove(name))

	_, err = s.Open(name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRequiresDirectory(t *testing.T) {
	_, err := New("   ")
	assert.Error(t, err)
}

func TestCleanBase(t *testing.T) {
	assert.Equal(t, "image", cleanBase("....png"))
	assert.Equal(t, "image", cleanBase("???.gif"))
	assert.Equal(t, "my-photo_2", cleanBase("My Photo_2.png"))
	assert.Len(t, cleanBase(strings.Repeat("a", 100)+".png"), 40)
}
