package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/creelapp/creel/internal/errors"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestSavePhoto(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewStore(dataDir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	data := pngBytes(t, 640, 480)
	photo, err := store.Save(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if photo.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %s", photo.MIMEType)
	}
	if photo.Width != 640 || photo.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", photo.Width, photo.Height)
	}
	if photo.SizeBytes != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), photo.SizeBytes)
	}

	if _, err := os.Stat(filepath.Join(dataDir, photo.Path)); err != nil {
		t.Errorf("photo file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, photo.ThumbnailPath)); err != nil {
		t.Errorf("thumbnail file missing: %v", err)
	}
}

func TestSaveRejectsNonImage(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	_, err = store.Save(bytes.NewReader([]byte("%PDF-1.4 not an image")))
	if !apperrors.Is(err, apperrors.ErrMediaUnsupported) {
		t.Fatalf("expected MEDIA_UNSUPPORTED, got %v", err)
	}
}

func TestSaveRejectsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	_, err = store.Save(bytes.NewReader(nil))
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestOpenAndDelete(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewStore(dataDir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	photo, err := store.Save(bytes.NewReader(pngBytes(t, 32, 32)))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	f, err := store.Open(photo.Path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	f.Close()

	if err := store.Delete(photo.Path); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Open(photo.Path); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND after delete, got %v", err)
	}

	// Replayed delete mutations hit already-removed files.
	if err := store.Delete(photo.Path); err != nil {
		t.Errorf("second delete must succeed, got %v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	for _, p := range []string{"../etc/passwd", "/etc/passwd", ".."} {
		if _, err := store.Open(p); !apperrors.Is(err, apperrors.ErrValidation) {
			t.Errorf("path %q: expected VALIDATION_ERROR, got %v", p, err)
		}
	}
}
