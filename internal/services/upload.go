package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"receipt-capture/internal/models"
)

const (
	// FormField is the multipart field carrying the image
	FormField = "file"
	// ContentType is the media type declared for every upload
	ContentType = "image/jpeg"
)

// ErrUnexpectedStatus is returned when the endpoint answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected upload response status")

// PhotoSource opens captured images for reading
type PhotoSource interface {
	Open(ref models.PhotoRef) (io.ReadCloser, int64, error)
}

// Photo is a captured image ready to be sent
type Photo struct {
	Ref      models.PhotoRef
	FileName string
}

// Uploader sends a captured photo to its destination
type Uploader interface {
	Upload(ctx context.Context, photo Photo) error
}

// FileName derives the upload filename from a photo reference.
// It is the last path element of the reference, or receipt_<unix-millis>.jpg
// when the reference has none.
func FileName(ref models.PhotoRef, now time.Time) string {
	p := string(ref)
	if i := strings.Index(p, "://"); i >= 0 {
		if u, err := url.Parse(p); err == nil {
			p = u.Path
		} else {
			p = p[i+3:]
		}
	}

	name := path.Base(filepath.ToSlash(p))
	if name == "" || name == "." || name == "/" {
		return fmt.Sprintf("receipt_%d.jpg", now.UnixMilli())
	}
	return name
}

// HTTPUploader posts photos to an endpoint as multipart/form-data
type HTTPUploader struct {
	endpoint string
	client   *http.Client
	photos   PhotoSource
}

// NewHTTPUploader creates a new multipart uploader. A nil client uses http.DefaultClient.
func NewHTTPUploader(endpoint string, client *http.Client, photos PhotoSource) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{
		endpoint: endpoint,
		client:   client,
		photos:   photos,
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload sends the photo as a single part named "file". Only a 2xx status counts as success.
func (u *HTTPUploader) Upload(ctx context.Context, photo Photo) error {
	rc, _, err := u.photos.Open(photo.Ref)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	defer rc.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FormField, quoteEscaper.Replace(photo.FileName)))
	header.Set("Content-Type", ContentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send upload: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused; the response body is not used
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return nil
}
