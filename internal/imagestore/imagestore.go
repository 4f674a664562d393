// Package imagestore keeps stock item images as files in one directory.
// Stored names are generated on save; callers never choose a path.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxImageBytes caps a single stored image.
const MaxImageBytes = 5 << 20

var (
	ErrUnsupportedType = errors.New("only png, jpeg, webp and gif images are accepted")
	ErrTooLarge        = fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	ErrNotFound        = errors.New("image not found")
	ErrInvalidName     = errors.New("invalid image name")
)

var extensionByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Store struct {
	dir string
}

// New returns a store rooted at dir, creating it when missing.
func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("image directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve image directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save stores body under a fresh name and returns that name. The content
// type is sniffed from the bytes; the client's claimed type and extension
// are ignored.
func (s *Store) Save(ctx context.Context, filename string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read image: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", ErrUnsupportedType
	}
	ext, ok := extensionByType[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(head); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	written, err := io.Copy(tmp, io.LimitReader(body, MaxImageBytes-int64(n)+1))
	if err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if int64(n)+written > MaxImageBytes {
		return "", ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	name := uuid.NewString() + "-" + cleanBase(filename) + ext
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	tmp = nil
	return name, nil
}

// Open returns the stored image called name.
func (s *Store) Open(name string) (*os.File, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Remove deletes the stored image called name. A missing file is not an
// error.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

// cleanBase keeps a short readable slug of the uploaded file name.
func cleanBase(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
		if b.Len() >= 40 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-_")
	if slug == "" {
		return "image"
	}
	return slug
}
