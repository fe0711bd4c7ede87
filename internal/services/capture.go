package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"receipt-capture/internal/camera"
	"receipt-capture/internal/models"

	"github.com/rs/zerolog/log"
)

var (
	// ErrActionUnavailable is returned for an action the current mode does not offer
	ErrActionUnavailable = errors.New("action not available in current mode")
	// ErrUploadInFlight is returned for retake or upload while an upload is running
	ErrUploadInFlight = errors.New("upload in progress")
	// ErrCaptureInProgress is returned for a capture or flip while a capture is running
	ErrCaptureInProgress = errors.New("capture in progress")
	// ErrCaptureFailed wraps camera errors
	ErrCaptureFailed = errors.New("capture failed")
)

// Messages shown on the screen
const (
	MessageUploadSucceeded = "Upload successful"
	MessageUploadFailed    = "Upload failed, please try again"
	MessageCaptureFailed   = "Could not take photo, please try again"
)

// CaptureScreen is the capture/preview/upload state machine of the screen.
// All methods are safe for concurrent use; state changes are applied one at a time
// and delivered to subscribers in order.
type CaptureScreen struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	camera   camera.Provider
	uploader Uploader
	now      func() time.Time

	permission   models.PermissionStatus
	resolving    bool
	facing       models.Facing
	photo        *models.PhotoRef
	fileName     string
	upload       models.UploadStatus
	inFlight     bool
	capturing    bool
	captureError string

	listeners map[int]func(models.Snapshot)
	nextID    int
}

// NewCaptureScreen creates a capture screen in the Loading mode
func NewCaptureScreen(provider camera.Provider, uploader Uploader) *CaptureScreen {
	return &CaptureScreen{
		camera:     provider,
		uploader:   uploader,
		now:        time.Now,
		permission: models.PermissionUnknown,
		facing:     models.FacingBack,
		upload:     models.UploadStatus{State: models.UploadIdle},
		listeners:  make(map[int]func(models.Snapshot)),
	}
}

// Subscribe registers fn to receive every state change.
// fn must not call actions on the screen. The returned function unsubscribes.
func (s *CaptureScreen) Subscribe(fn func(models.Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current state
func (s *CaptureScreen) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Mount resolves the permission the platform reports when the screen opens
func (s *CaptureScreen) Mount(ctx context.Context) (models.Snapshot, error) {
	s.mu.Lock()
	if s.permission != models.PermissionUnknown || s.resolving {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrActionUnavailable
	}
	s.resolving = true
	s.mu.Unlock()

	status, err := s.camera.PermissionStatus(ctx)
	return s.resolvePermission(status, err)
}

// RequestPermission asks for camera access again from the Denied mode
func (s *CaptureScreen) RequestPermission(ctx context.Context) (models.Snapshot, error) {
	s.mu.Lock()
	if s.modeLocked() != models.ModeDenied {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrActionUnavailable
	}
	s.permission = models.PermissionUnknown
	s.resolving = true
	s.commitLocked()

	status, err := s.camera.RequestPermission(ctx)
	return s.resolvePermission(status, err)
}

// resolvePermission stores the provider answer; errors count as denied
func (s *CaptureScreen) resolvePermission(status models.PermissionStatus, err error) (models.Snapshot, error) {
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve camera permission")
		status = models.PermissionDenied
	}
	if status != models.PermissionGranted {
		status = models.PermissionDenied
	}

	s.mu.Lock()
	s.permission = status
	s.resolving = false
	snap := s.snapshotLocked()
	s.commitLocked()

	log.Info().Str("permission", string(status)).Msg("Camera permission resolved")

	return snap, nil
}

// Flip toggles the camera facing in the Live mode
func (s *CaptureScreen) Flip() (models.Snapshot, error) {
	s.mu.Lock()
	if s.modeLocked() != models.ModeLive {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrActionUnavailable
	}
	if s.capturing {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrCaptureInProgress
	}
	s.facing = s.facing.Toggle()
	s.captureError = ""
	snap := s.snapshotLocked()
	s.commitLocked()

	return snap, nil
}

// Capture takes a photo with the current camera. On success the screen moves to
// Preview with a cleared upload status; on failure it stays Live and shows a
// transient capture error.
func (s *CaptureScreen) Capture(ctx context.Context) (models.Snapshot, error) {
	s.mu.Lock()
	if s.modeLocked() != models.ModeLive {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrActionUnavailable
	}
	if s.capturing {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrCaptureInProgress
	}
	s.capturing = true
	s.captureError = ""
	facing := s.facing
	s.commitLocked()

	ref, err := s.camera.Capture(ctx, facing)

	s.mu.Lock()
	s.capturing = false
	if err != nil {
		s.captureError = MessageCaptureFailed
		snap := s.snapshotLocked()
		s.commitLocked()

		log.Error().Err(err).Str("facing", string(facing)).Msg("Failed to capture photo")
		return snap, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	s.photo = &ref
	s.fileName = FileName(ref, s.now())
	s.upload = models.UploadStatus{State: models.UploadIdle}
	snap := s.snapshotLocked()
	s.commitLocked()

	log.Info().Str("photo", string(ref)).Msg("Photo captured")

	return snap, nil
}

// Retake drops the held photo and returns to the Live mode
func (s *CaptureScreen) Retake() (models.Snapshot, error) {
	s.mu.Lock()
	switch s.modeLocked() {
	case models.ModePreview:
	case models.ModeUploading:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrUploadInFlight
	default:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrActionUnavailable
	}

	s.photo = nil
	s.fileName = ""
	s.upload = models.UploadStatus{State: models.UploadIdle}
	s.captureError = ""
	snap := s.snapshotLocked()
	s.commitLocked()

	return snap, nil
}

// StartUpload sends the held photo in the background. It returns the Uploading
// snapshot and a channel that receives the snapshot once the request resolves.
// The request is not tied to ctx cancellation: once issued it runs to completion.
func (s *CaptureScreen) StartUpload(ctx context.Context) (models.Snapshot, <-chan models.Snapshot, error) {
	s.mu.Lock()
	switch s.modeLocked() {
	case models.ModePreview:
	case models.ModeUploading:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil, ErrUploadInFlight
	default:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil, ErrActionUnavailable
	}

	photo := Photo{
		Ref:      *s.photo,
		FileName: s.fileName,
	}
	s.inFlight = true
	s.upload = models.UploadStatus{State: models.UploadIdle}
	started := s.snapshotLocked()
	s.commitLocked()

	done := make(chan models.Snapshot, 1)
	uploadCtx := context.WithoutCancel(ctx)

	go func() {
		err := s.uploader.Upload(uploadCtx, photo)

		s.mu.Lock()
		s.inFlight = false
		if err != nil {
			s.upload = models.UploadStatus{State: models.UploadFailed, Message: MessageUploadFailed}
		} else {
			s.upload = models.UploadStatus{State: models.UploadSucceeded, Message: MessageUploadSucceeded}
		}
		snap := s.snapshotLocked()
		s.commitLocked()

		if err != nil {
			log.Error().
				Err(err).
				Str("photo", string(photo.Ref)).
				Str("filename", photo.FileName).
				Msg("Failed to upload photo")
		} else {
			log.Info().
				Str("photo", string(photo.Ref)).
				Str("filename", photo.FileName).
				Msg("Photo uploaded")
		}

		done <- snap
		close(done)
	}()

	return started, done, nil
}

// Upload sends the held photo and waits for the result
func (s *CaptureScreen) Upload(ctx context.Context) (models.Snapshot, error) {
	snap, done, err := s.StartUpload(ctx)
	if err != nil {
		return snap, err
	}
	return <-done, nil
}

// commitLocked publishes the current state to subscribers and releases s.mu.
// notifyMu is taken before s.mu is released so deliveries keep commit order.
func (s *CaptureScreen) commitLocked() {
	snap := s.snapshotLocked()
	listeners := make([]func(models.Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *CaptureScreen) modeLocked() models.Mode {
	switch {
	case s.permission == models.PermissionUnknown:
		return models.ModeLoading
	case s.permission == models.PermissionDenied:
		return models.ModeDenied
	case s.photo == nil:
		return models.ModeLive
	case s.inFlight:
		return models.ModeUploading
	default:
		return models.ModePreview
	}
}

func (s *CaptureScreen) snapshotLocked() models.Snapshot {
	mode := s.modeLocked()
	snap := models.Snapshot{
		Mode:         mode,
		Permission:   s.permission,
		Facing:       s.facing,
		Upload:       s.upload,
		InFlight:     s.inFlight,
		CameraActive: s.permission == models.PermissionGranted && s.photo == nil,
		CaptureError: s.captureError,
		Controls:     []models.Control{},
	}
	if s.photo != nil {
		ref := *s.photo
		snap.Photo = &ref
	}

	switch mode {
	case models.ModeDenied:
		snap.Controls = append(snap.Controls, models.ControlRequestPermission)
	case models.ModeLive:
		if !s.capturing {
			snap.Controls = append(snap.Controls, models.ControlFlip, models.ControlCapture)
		}
	case models.ModePreview:
		snap.Controls = append(snap.Controls, models.ControlRetake, models.ControlUpload)
	}

	return snap
}
