package models

// PermissionStatus is the camera permission state reported by the platform
type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionDenied  PermissionStatus = "denied"
	PermissionGranted PermissionStatus = "granted"
)

// Facing selects which camera is used for the live view
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// Toggle returns the opposite facing
func (f Facing) Toggle() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// PhotoRef is an opaque locator for a captured image on local storage
// (a file path or a file:// URI). The bytes are read only when uploading.
type PhotoRef string

// UploadState is the outcome of the last upload attempt
type UploadState string

const (
	UploadIdle      UploadState = "idle"
	UploadSucceeded UploadState = "succeeded"
	UploadFailed    UploadState = "failed"
)

// UploadStatus is what the screen shows about the last upload
type UploadStatus struct {
	State   UploadState `json:"state"`
	Message string      `json:"message,omitempty"`
}

// Mode is the screen mode derived from the controller state
type Mode string

const (
	ModeLoading   Mode = "loading"
	ModeDenied    Mode = "denied"
	ModeLive      Mode = "live"
	ModePreview   Mode = "preview"
	ModeUploading Mode = "uploading"
)

// Control names a user action the screen currently offers
type Control string

const (
	ControlRequestPermission Control = "request_permission"
	ControlFlip              Control = "flip"
	ControlCapture           Control = "capture"
	ControlRetake            Control = "retake"
	ControlUpload            Control = "upload"
)

// Snapshot is an immutable copy of the screen state handed to renderers
type Snapshot struct {
	Mode         Mode             `json:"mode"`
	Permission   PermissionStatus `json:"permission"`
	Facing       Facing           `json:"facing"`
	Photo        *PhotoRef        `json:"photo,omitempty"`
	Upload       UploadStatus     `json:"upload"`
	InFlight     bool             `json:"in_flight"`
	CameraActive bool             `json:"camera_active"`
	CaptureError string           `json:"capture_error,omitempty"`
	Controls     []Control        `json:"controls"`
}

// Enabled reports whether the given control is offered in this snapshot
func (s Snapshot) Enabled(c Control) bool {
	for _, ctrl := range s.Controls {
		if ctrl == c {
			return true
		}
	}
	return false
}
