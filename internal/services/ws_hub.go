package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"receipt-capture/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// writeWait bounds a single write to a renderer
	writeWait = 10 * time.Second
	// sendBuffer is the number of queued messages per connection before it is dropped
	sendBuffer = 32
)

// ErrSendBufferFull is returned when a renderer is not keeping up with its messages
var ErrSendBufferFull = errors.New("send buffer full")

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp,omitempty"`
	Message   string           `json:"message,omitempty"`
	State     *models.Snapshot `json:"state,omitempty"`
}

// wsClient is one renderer connection. Only its writer goroutine writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub keeps renderer connections and pushes every screen state change to them.
// Broadcast never waits on a connection: a renderer that stops reading is dropped
// once its queue fills.
type WSHub struct {
	mu          sync.Mutex
	connections map[string]*wsClient
	last        models.Snapshot
	writeWait   time.Duration
	unsubscribe func()
}

// NewWSHub creates a new WebSocket hub subscribed to the screen
func NewWSHub(screen *CaptureScreen) *WSHub {
	h := &WSHub{
		connections: make(map[string]*wsClient),
		last:        screen.Snapshot(),
		writeWait:   writeWait,
	}
	h.unsubscribe = screen.Subscribe(h.Broadcast)
	return h
}

// Register adds a renderer connection and queues the last published state for it
func (h *WSHub) Register(conn *websocket.Conn) (string, error) {
	id := uuid.New().String()

	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(stateMessage(h.last))
	if err != nil {
		return "", fmt.Errorf("failed to marshal initial state: %w", err)
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	client.send <- data
	h.connections[id] = client
	go h.writePump(id, client)

	log.Info().Str("conn_id", id).Msg("WebSocket connection registered")

	return id, nil
}

// Unregister removes a renderer connection
func (h *WSHub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(id)
}

// unregisterLocked stops the writer; it closes the connection after flushing what is queued
func (h *WSHub) unregisterLocked(id string) {
	if client, exists := h.connections[id]; exists {
		close(client.send)
		delete(h.connections, id)
		log.Info().Str("conn_id", id).Msg("WebSocket connection unregistered")
	}
}

// Broadcast sends a state snapshot to every connected renderer
func (h *WSHub) Broadcast(snap models.Snapshot) {
	data, err := json.Marshal(stateMessage(snap))
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = snap
	for id, client := range h.connections {
		if !h.queueLocked(client, data) {
			log.Warn().Str("conn_id", id).Msg("Renderer not reading, dropping connection")
			h.unregisterLocked(id)
		}
	}
}

// SendTo sends a message to a single connection
func (h *WSHub) SendTo(id string, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.connections[id]
	if !exists {
		return fmt.Errorf("connection %s is not registered", id)
	}

	if !h.queueLocked(client, data) {
		h.unregisterLocked(id)
		return fmt.Errorf("failed to send to %s: %w", id, ErrSendBufferFull)
	}
	return nil
}

// Count returns the number of connected renderers
func (h *WSHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Close stops following the screen and closes every connection
func (h *WSHub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.connections {
		h.unregisterLocked(id)
	}
}

func (h *WSHub) queueLocked(client *wsClient, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

// writePump writes queued messages to one connection until its queue is closed
// or a write fails or times out
func (h *WSHub) writePump(id string, client *wsClient) {
	defer client.conn.Close()

	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("conn_id", id).Msg("Failed to send message")
			h.Unregister(id)
			return
		}
	}

	client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(h.writeWait))
}

func stateMessage(snap models.Snapshot) WSMessage {
	return WSMessage{
		Type:      "state",
		Timestamp: time.Now().UnixMilli(),
		State:     &snap,
	}
}
