// Package media stores catch photos and generates thumbnails.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/logging"
	"github.com/creelapp/creel/internal/uuid"
)

// maxPhotoBytes caps uploads at 20 MiB.
const maxPhotoBytes = 20 << 20

const (
	thumbnailWidth  = 320
	thumbnailHeight = 240
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Photo describes a stored photo file.
type Photo struct {
	Path          string `json:"path"`
	ThumbnailPath string `json:"thumbnail_path"`
	MIMEType      string `json:"mime_type"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	SizeBytes     int64  `json:"size_bytes"`
}

// Store writes photos under <dataDir>/photos with thumbnails alongside.
type Store struct {
	photoDir string
	thumbDir string
}

// NewStore creates the photo directories under dataDir.
func NewStore(dataDir string) (*Store, error) {
	photoDir := filepath.Join(dataDir, "photos")
	thumbDir := filepath.Join(photoDir, "thumbs")
	if err := os.MkdirAll(thumbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directories: %w", err)
	}
	return &Store{photoDir: photoDir, thumbDir: thumbDir}, nil
}

// Save sniffs the content type, rejects anything but common image formats,
// writes the original and a thumbnail, and returns both paths. Paths are
// relative to the data directory so the database stays portable.
func (s *Store) Save(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPhotoBytes+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to read photo upload", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, apperrors.New(apperrors.ErrValidation, "photo exceeds the 20 MiB limit")
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "photo upload is empty")
	}

	mime := mimetype.Detect(data)
	ext, ok := allowedTypes[mime.String()]
	if !ok {
		return nil, apperrors.New(apperrors.ErrMediaUnsupported,
			fmt.Sprintf("unsupported photo type: %s", mime.String()))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMediaUnsupported, "photo could not be decoded", err)
	}

	id := uuid.New()
	name := id + ext
	path := filepath.Join(s.photoDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to write photo", err)
	}

	thumbName := id + ".jpg"
	thumbPath := filepath.Join(s.thumbDir, thumbName)
	if err := s.writeThumbnail(img, thumbPath); err != nil {
		os.Remove(path)
		return nil, err
	}

	bounds := img.Bounds()
	photo := &Photo{
		Path:          filepath.Join("photos", name),
		ThumbnailPath: filepath.Join("photos", "thumbs", thumbName),
		MIMEType:      mime.String(),
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		SizeBytes:     int64(len(data)),
	}

	logging.Debug("Photo stored", map[string]interface{}{
		"path":  photo.Path,
		"bytes": photo.SizeBytes,
		"type":  photo.MIMEType,
	})
	return photo, nil
}

func (s *Store) writeThumbnail(img image.Image, path string) error {
	thumb := imaging.Fit(img, thumbnailWidth, thumbnailHeight, imaging.Lanczos)

	f, err := os.Create(path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to create thumbnail", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode thumbnail", err)
	}
	return nil
}

// Open returns a reader for a stored photo by its relative path.
func (s *Store) Open(relPath string) (*os.File, error) {
	// The photo directory is the only allowed root.
	clean := filepath.Clean(relPath)
	if clean == "" || clean == "." || filepath.IsAbs(clean) ||
		clean == ".." || len(clean) >= 3 && clean[:3] == ".."+string(filepath.Separator) {
		return nil, apperrors.New(apperrors.ErrValidation, "invalid photo path")
	}

	f, err := os.Open(filepath.Join(filepath.Dir(s.photoDir), clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("photo not found: %s", relPath))
		}
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to open photo", err)
	}
	return f, nil
}

// Delete removes a photo and its thumbnail. Missing files are not errors;
// a delete mutation may replay after a partial cleanup.
func (s *Store) Delete(relPath string) error {
	base := filepath.Base(relPath)
	ext := filepath.Ext(base)
	id := base[:len(base)-len(ext)]

	if err := os.Remove(filepath.Join(s.photoDir, base)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to delete photo", err)
	}
	if err := os.Remove(filepath.Join(s.thumbDir, id+".jpg")); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to delete thumbnail", err)
	}
	return nil
}
