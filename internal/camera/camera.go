// Package camera provides the capture device behind the capture screen.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"receipt-capture/internal/models"
	"receipt-capture/internal/repository"

	"github.com/rs/zerolog/log"
)

// Provider is the camera capability the screen controller drives
type Provider interface {
	// PermissionStatus returns the permission as the platform currently reports it.
	PermissionStatus(ctx context.Context) (models.PermissionStatus, error)
	// RequestPermission asks for camera access and returns the resulting status.
	RequestPermission(ctx context.Context) (models.PermissionStatus, error)
	// Capture takes a still with the given camera and returns a reference to the stored image.
	Capture(ctx context.Context, facing models.Facing) (models.PhotoRef, error)
}

// ErrEmptyCapture is returned when the capture command produced no image
var ErrEmptyCapture = errors.New("capture produced no image")

// DeviceConfig describes the V4L2 devices and the still-capture command
type DeviceConfig struct {
	BackDevice  string
	FrontDevice string
	// Command is the capture command line; {device} and {output} are substituted.
	Command []string
}

// Device is a Provider backed by local video devices and an external capture command
type Device struct {
	cfg    DeviceConfig
	photos *repository.PhotoRepository
}

// NewDevice creates a new capture device
func NewDevice(cfg DeviceConfig, photos *repository.PhotoRepository) *Device {
	return &Device{
		cfg:    cfg,
		photos: photos,
	}
}

// PermissionStatus reports granted when the back camera device can be opened for reading
func (d *Device) PermissionStatus(ctx context.Context) (models.PermissionStatus, error) {
	f, err := os.Open(d.cfg.BackDevice)
	if err != nil {
		if os.IsPermission(err) || os.IsNotExist(err) {
			log.Debug().Err(err).Str("device", d.cfg.BackDevice).Msg("Camera not accessible")
			return models.PermissionDenied, nil
		}
		return models.PermissionUnknown, fmt.Errorf("failed to open camera device: %w", err)
	}
	f.Close()
	return models.PermissionGranted, nil
}

// RequestPermission re-evaluates device access. Local devices cannot prompt,
// so access granted since the last check (e.g. group membership) is picked up here.
func (d *Device) RequestPermission(ctx context.Context) (models.PermissionStatus, error) {
	return d.PermissionStatus(ctx)
}

// Capture runs the capture command and returns a reference to the new image
func (d *Device) Capture(ctx context.Context, facing models.Facing) (models.PhotoRef, error) {
	if len(d.cfg.Command) == 0 {
		return "", fmt.Errorf("no capture command configured")
	}

	device := d.cfg.BackDevice
	if facing == models.FacingFront {
		device = d.cfg.FrontDevice
	}

	output := d.photos.NewPath()
	ref := d.photos.Ref(output)

	args := make([]string, len(d.cfg.Command))
	for i, arg := range d.cfg.Command {
		arg = strings.ReplaceAll(arg, "{device}", device)
		args[i] = strings.ReplaceAll(arg, "{output}", output)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		d.discard(ref)
		return "", fmt.Errorf("failed to run capture command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		d.discard(ref)
		return "", ErrEmptyCapture
	}

	log.Debug().
		Str("device", device).
		Str("facing", string(facing)).
		Int64("bytes", info.Size()).
		Msg("Photo captured")

	return ref, nil
}

// discard removes a partial capture
func (d *Device) discard(ref models.PhotoRef) {
	if err := d.photos.Remove(ref); err != nil {
		log.Warn().Err(err).Str("photo", string(ref)).Msg("Failed to remove partial capture")
	}
}
