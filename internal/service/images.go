package service

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"

	"smartpos/internal/imagestore"
	"smartpos/internal/logging"
	"smartpos/internal/store"
)

// MaxStockImages caps how many images one stock item keeps.
const MaxStockImages = 10

// ImageStore holds stock item image files.
type ImageStore interface {
	Save(ctx context.Context, filename string, body io.Reader) (string, error)
	Open(name string) (*os.File, error)
	Remove(name string) error
}

// WithImageStore enables image uploads on stock create and update.
func WithImageStore(images ImageStore) Option {
	return func(s *Service) { s.images = images }
}

// ImageUpload is one uploaded file as received from the client.
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

// OpenStockImage returns a stored image file for serving.
func (s *Service) OpenStockImage(name string) (*os.File, error) {
	if s.images == nil {
		return nil, store.ErrNotFound
	}
	f, err := s.images.Open(name)
	if errors.Is(err, imagestore.ErrNotFound) || errors.Is(err, imagestore.ErrInvalidName) {
		return nil, store.ErrNotFound
	}
	return f, err
}

// saveImages stores every upload. On failure the files saved so far are
// removed again.
func (s *Service) saveImages(ctx context.Context, uploads []ImageUpload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if s.images == nil {
		return nil, invalid("image uploads are not enabled")
	}

	names := make([]string, 0, len(uploads))
	for _, up := range uploads {
		name, err := s.images.Save(ctx, up.Filename, up.Body)
		if err != nil {
			s.removeImages(ctx, names)
			if errors.Is(err, imagestore.ErrUnsupportedType) || errors.Is(err, imagestore.ErrTooLarge) {
				return nil, invalid("%s: %s", up.Filename, err.Error())
			}
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// removeImages deletes files best-effort; a leftover file never fails the
// request.
func (s *Service) removeImages(ctx context.Context, names []string) {
	if s.images == nil {
		return
	}
	for _, name := range names {
		if err := s.images.Remove(name); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("image", name).Msg("failed to remove stock image")
		}
	}
}

// keepImages splits current into the images that stay and the ones asked
// to be dropped. Names the item does not own are ignored.
func keepImages(current, drop []string) (kept, dropped []string) {
	for _, name := range current {
		if slices.Contains(drop, name) {
			dropped = append(dropped, name)
			continue
		}
		kept = append(kept, name)
	}
	return kept, dropped
}
