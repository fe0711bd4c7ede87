package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"receipt-capture/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// statusForError maps screen errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrActionUnavailable),
		errors.Is(err, services.ErrUploadInFlight),
		errors.Is(err, services.ErrCaptureInProgress):
		return http.StatusConflict
	case errors.Is(err, services.ErrCaptureFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageForError returns the user-facing message for screen errors
func messageForError(err error) string {
	switch {
	case errors.Is(err, services.ErrActionUnavailable):
		return services.ErrActionUnavailable.Error()
	case errors.Is(err, services.ErrUploadInFlight):
		return services.ErrUploadInFlight.Error()
	case errors.Is(err, services.ErrCaptureInProgress):
		return services.ErrCaptureInProgress.Error()
	case errors.Is(err, services.ErrCaptureFailed):
		return services.MessageCaptureFailed
	default:
		return "internal error"
	}
}
