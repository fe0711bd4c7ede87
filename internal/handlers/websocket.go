package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"receipt-capture/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local control surface
	},
}

// WebSocketHandler streams screen state to renderers and accepts their taps
type WebSocketHandler struct {
	hub    *services.WSHub
	screen *services.CaptureScreen
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, screen *services.CaptureScreen) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		screen: screen,
	}
}

// HandleWebSocket handles GET /api/v1/screen/ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	id, err := h.hub.Register(conn)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register WebSocket connection")
		conn.Close()
		return
	}
	defer h.hub.Unregister(id)

	ctx := r.Context()

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", id).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("conn_id", id).Msg("Failed to parse WebSocket message")
			h.sendError(id, "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, id, msg); err != nil {
			log.Warn().Err(err).Str("conn_id", id).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(id, messageForError(err))
		}
	}
}

// handleMessage applies a tap sent by a renderer. Resulting state reaches every
// renderer through the hub, so only errors are answered directly.
func (h *WebSocketHandler) handleMessage(ctx context.Context, id string, msg services.WSMessage) error {
	var err error
	switch msg.Type {
	case "request_permission":
		_, err = h.screen.RequestPermission(ctx)
	case "flip":
		_, err = h.screen.Flip()
	case "capture":
		_, err = h.screen.Capture(ctx)
	case "retake":
		_, err = h.screen.Retake()
	case "upload":
		_, _, err = h.screen.StartUpload(ctx)
	case "ping":
		// a failed send has already dropped the connection
		if err := h.hub.SendTo(id, services.WSMessage{Type: "pong"}); err != nil {
			log.Warn().Err(err).Str("conn_id", id).Msg("Failed to answer ping")
		}
		return nil
	default:
		h.sendError(id, fmt.Sprintf("Unknown message type %q", msg.Type))
		return nil
	}
	return err
}

// sendError sends an error message to one connection
func (h *WebSocketHandler) sendError(id, message string) {
	msg := services.WSMessage{
		Type:    "error",
		Message: message,
	}
	if err := h.hub.SendTo(id, msg); err != nil {
		log.Error().Err(err).Str("conn_id", id).Msg("Failed to send error message")
	}
}
