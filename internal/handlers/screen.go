package handlers

import (
	"io"
	"net/http"
	"strconv"

	"receipt-capture/internal/models"
	"receipt-capture/internal/services"

	"github.com/rs/zerolog/log"
)

// ScreenHandler turns HTTP requests into capture screen actions
type ScreenHandler struct {
	screen *services.CaptureScreen
	photos services.PhotoSource
}

// NewScreenHandler creates a new screen handler
func NewScreenHandler(screen *services.CaptureScreen, photos services.PhotoSource) *ScreenHandler {
	return &ScreenHandler{
		screen: screen,
		photos: photos,
	}
}

// GetState handles GET /api/v1/screen
func (h *ScreenHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.screen.Snapshot(), http.StatusOK)
}

// RequestPermission handles POST /api/v1/screen/permission
func (h *ScreenHandler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	snap, err := h.screen.RequestPermission(r.Context())
	h.respond(w, "request_permission", snap, err)
}

// Flip handles POST /api/v1/screen/flip
func (h *ScreenHandler) Flip(w http.ResponseWriter, r *http.Request) {
	snap, err := h.screen.Flip()
	h.respond(w, "flip", snap, err)
}

// Capture handles POST /api/v1/screen/capture
func (h *ScreenHandler) Capture(w http.ResponseWriter, r *http.Request) {
	snap, err := h.screen.Capture(r.Context())
	h.respond(w, "capture", snap, err)
}

// Retake handles POST /api/v1/screen/retake
func (h *ScreenHandler) Retake(w http.ResponseWriter, r *http.Request) {
	snap, err := h.screen.Retake()
	h.respond(w, "retake", snap, err)
}

// Upload handles POST /api/v1/screen/upload. The upload completes in the
// background; the outcome is published to renderers over the WebSocket.
func (h *ScreenHandler) Upload(w http.ResponseWriter, r *http.Request) {
	snap, _, err := h.screen.StartUpload(r.Context())
	if err != nil {
		h.respond(w, "upload", snap, err)
		return
	}
	respondJSON(w, snap, http.StatusAccepted)
}

// GetPhoto handles GET /api/v1/screen/photo and serves the held image for preview
func (h *ScreenHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	snap := h.screen.Snapshot()
	if snap.Photo == nil {
		respondError(w, "no photo captured", http.StatusNotFound)
		return
	}

	rc, size, err := h.photos.Open(*snap.Photo)
	if err != nil {
		log.Error().Err(err).Str("photo", string(*snap.Photo)).Msg("Failed to open photo")
		respondError(w, "photo not available", http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", services.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// respond writes the snapshot or maps the action error
func (h *ScreenHandler) respond(w http.ResponseWriter, action string, snap models.Snapshot, err error) {
	if err != nil {
		log.Warn().
			Err(err).
			Str("action", action).
			Str("mode", string(snap.Mode)).
			Msg("Screen action rejected")
		respondError(w, messageForError(err), statusForError(err))
		return
	}
	respondJSON(w, snap, http.StatusOK)
}
