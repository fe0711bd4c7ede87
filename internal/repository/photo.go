package repository

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"receipt-capture/internal/models"

	"github.com/google/uuid"
)

// PhotoRepository handles captured image files on local storage
type PhotoRepository struct {
	dir string
}

// NewPhotoRepository creates a photo repository rooted at dir, creating it if needed
func NewPhotoRepository(dir string) (*PhotoRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture dir: %w", err)
	}
	return &PhotoRepository{dir: dir}, nil
}

// NewPath returns a fresh file path for a capture: {dir}/capture_{uuid}.jpg
func (r *PhotoRepository) NewPath() string {
	return filepath.Join(r.dir, fmt.Sprintf("capture_%s.jpg", uuid.New().String()))
}

// Ref returns the file:// reference of a path
func (r *PhotoRepository) Ref(path string) models.PhotoRef {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return models.PhotoRef(u.String())
}

// Path resolves a reference to a local file path
func (r *PhotoRepository) Path(ref models.PhotoRef) (string, error) {
	s := string(ref)
	if s == "" {
		return "", fmt.Errorf("empty photo reference")
	}
	if !strings.Contains(s, "://") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("failed to parse photo reference: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported photo reference scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// Open opens the referenced image for reading
func (r *PhotoRepository) Open(ref models.PhotoRef) (io.ReadCloser, int64, error) {
	path, err := r.Path(ref)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open photo: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat photo: %w", err)
	}

	return f, info.Size(), nil
}

// Remove deletes the referenced image; a missing file is not an error
func (r *PhotoRepository) Remove(ref models.PhotoRef) error {
	path, err := r.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove photo: %w", err)
	}
	return nil
}
