package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"receipt-capture/internal/models"
	"receipt-capture/internal/repository"
	"receipt-capture/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCamera struct {
	photos     *repository.PhotoRepository
	status     models.PermissionStatus
	captureErr error
}

func (c *stubCamera) PermissionStatus(ctx context.Context) (models.PermissionStatus, error) {
	return c.status, nil
}

func (c *stubCamera) RequestPermission(ctx context.Context) (models.PermissionStatus, error) {
	return models.PermissionGranted, nil
}

func (c *stubCamera) Capture(ctx context.Context, facing models.Facing) (models.PhotoRef, error) {
	if c.captureErr != nil {
		return "", c.captureErr
	}
	path := c.photos.NewPath()
	if err := os.WriteFile(path, []byte("jpeg:"+string(facing)), 0o600); err != nil {
		return "", err
	}
	return c.photos.Ref(path), nil
}

type testEnv struct {
	server   *httptest.Server
	screen   *services.CaptureScreen
	hub      *services.WSHub
	camera   *stubCamera
	status   *atomic.Int32
	uploads  *atomic.Int32
	release  chan struct{}
	blocking *atomic.Bool
}

func setup(t *testing.T, permission models.PermissionStatus, captureErr error) *testEnv {
	t.Helper()

	photos, err := repository.NewPhotoRepository(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		status:   &atomic.Int32{},
		uploads:  &atomic.Int32{},
		release:  make(chan struct{}),
		blocking: &atomic.Bool{},
	}
	env.status.Store(http.StatusOK)

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.blocking.Load() {
			<-env.release
		}
		env.uploads.Add(1)
		w.WriteHeader(int(env.status.Load()))
	}))
	t.Cleanup(endpoint.Close)

	env.camera = &stubCamera{photos: photos, status: permission, captureErr: captureErr}
	env.screen = services.NewCaptureScreen(env.camera, services.NewHTTPUploader(endpoint.URL, nil, photos))
	env.hub = services.NewWSHub(env.screen)
	t.Cleanup(env.hub.Close)

	r := chi.NewRouter()
	Mount(r, NewScreenHandler(env.screen, photos), NewWebSocketHandler(env.hub, env.screen))
	env.server = httptest.NewServer(r)
	t.Cleanup(env.server.Close)

	_, err = env.screen.Mount(context.Background())
	require.NoError(t, err)

	return env
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, models.Snapshot, string) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var snap models.Snapshot
	var errResp ErrorResponse
	if resp.StatusCode < 300 {
		json.Unmarshal(body, &snap)
	} else {
		json.Unmarshal(body, &errResp)
	}
	return resp, snap, errResp.Error
}

func TestScreenHandler_GetState(t *testing.T) {
	env := setup(t, models.PermissionGranted, nil)

	resp, snap, _ := env.do(t, http.MethodGet, "/api/v1/screen")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, models.ModeLive, snap.Mode)
	assert.True(t, snap.CameraActive)
	assert.Equal(t, []models.Control{models.ControlFlip, models.ControlCapture}, snap.Controls)
}

func TestScreenHandler_CaptureUploadFlow(t *testing.T) {
	env := setup(t, models.PermissionGranted, nil)

	resp, snap, _ := env.do(t, http.MethodPost, "/api/v1/screen/flip")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.FacingFront, snap.Facing)

	resp, snap, _ = env.do(t, http.MethodPost, "/api/v1/screen/capture")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ModePreview, snap.Mode)
	require.NotNil(t, snap.Photo)

	photoResp, err := http.Get(env.server.URL + "/api/v1/screen/photo")
	require.NoError(t, err)
	data, err := io.ReadAll(photoResp.Body)
	photoResp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, photoResp.StatusCode)
	assert.Equal(t, "image/jpeg", photoResp.Header.Get("Content-Type"))
	assert.Equal(t, "jpeg:front", string(data))

	resp, _, errMsg := env.do(t, http.MethodPost, "/api/v1/screen/flip")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, services.ErrActionUnavailable.Error(), errMsg)

	resp, snap, _ = env.do(t, http.MethodPost, "/api/v1/screen/upload")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, models.ModeUploading, snap.Mode)

	require.Eventually(t, func() bool {
		return env.screen.Snapshot().Upload.State == models.UploadSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), env.uploads.Load())

	resp, snap, _ = env.do(t, http.MethodPost, "/api/v1/screen/retake")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ModeLive, snap.Mode)
	assert.Nil(t, snap.Photo)
	assert.Equal(t, models.UploadIdle, snap.Upload.State)

	resp, _, _ = env.do(t, http.MethodGet, "/api/v1/screen/photo")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScreenHandler_UploadInFlightConflicts(t *testing.T) {
	env := setup(t, models.PermissionGranted, nil)
	env.blocking.Store(true)

	resp, _, _ := env.do(t, http.MethodPost, "/api/v1/screen/capture")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _, _ = env.do(t, http.MethodPost, "/api/v1/screen/upload")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _, errMsg := env.do(t, http.MethodPost, "/api/v1/screen/upload")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, services.ErrUploadInFlight.Error(), errMsg)

	resp, _, _ = env.do(t, http.MethodPost, "/api/v1/screen/retake")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	env.status.Store(http.StatusInternalServerError)
	close(env.release)

	require.Eventually(t, func() bool {
		return !env.screen.Snapshot().InFlight
	}, 5*time.Second, 10*time.Millisecond)

	snap := env.screen.Snapshot()
	assert.Equal(t, models.UploadFailed, snap.Upload.State)
	assert.Equal(t, services.MessageUploadFailed, snap.Upload.Message)
	assert.Equal(t, models.ModePreview, snap.Mode)
}

func TestScreenHandler_CaptureFailure(t *testing.T) {
	env := setup(t, models.PermissionGranted, errors.New("sensor timeout"))

	resp, _, errMsg := env.do(t, http.MethodPost, "/api/v1/screen/capture")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, services.MessageCaptureFailed, errMsg)

	snap := env.screen.Snapshot()
	assert.Equal(t, models.ModeLive, snap.Mode)
	assert.Equal(t, services.MessageCaptureFailed, snap.CaptureError)
}

func TestScreenHandler_PermissionRequest(t *testing.T) {
	env := setup(t, models.PermissionDenied, nil)

	resp, snap, _ := env.do(t, http.MethodGet, "/api/v1/screen")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ModeDenied, snap.Mode)
	assert.False(t, snap.CameraActive)

	resp, _, _ = env.do(t, http.MethodPost, "/api/v1/screen/capture")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, snap, _ = env.do(t, http.MethodPost, "/api/v1/screen/permission")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ModeLive, snap.Mode)
	assert.True(t, snap.CameraActive)
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/screen/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) services.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg services.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads state messages until one satisfies cond
func readUntil(t *testing.T, conn *websocket.Conn, cond func(models.Snapshot) bool) models.Snapshot {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == "state" && msg.State != nil && cond(*msg.State) {
			return *msg.State
		}
	}
}

func TestWebSocketHandler_StreamsState(t *testing.T) {
	env := setup(t, models.PermissionGranted, nil)
	conn := dialWS(t, env)

	msg := readMessage(t, conn)
	require.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.State)
	assert.Equal(t, models.ModeLive, msg.State.Mode)

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	resp, _, _ := env.do(t, http.MethodPost, "/api/v1/screen/capture")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := readUntil(t, conn, func(s models.Snapshot) bool { return s.Mode == models.ModePreview })
	assert.NotNil(t, snap.Photo)
}

func TestWebSocketHandler_AcceptsTaps(t *testing.T) {
	env := setup(t, models.PermissionGranted, nil)
	conn := dialWS(t, env)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "capture"}))
	readUntil(t, conn, func(s models.Snapshot) bool { return s.Mode == models.ModePreview })

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "upload"}))
	snap := readUntil(t, conn, func(s models.Snapshot) bool { return s.Upload.State == models.UploadSucceeded })
	assert.False(t, snap.InFlight)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "flip"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, services.ErrActionUnavailable.Error(), msg.Message)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "ping"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "selfie"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Message, "Unknown message type")
}

func TestWebSocketHandler_PingOnDroppedConnection(t *testing.T) {
	env := setup(t, models.PermissionGranted, nil)
	h := NewWebSocketHandler(env.hub, env.screen)

	err := h.handleMessage(context.Background(), "dropped", services.WSMessage{Type: "ping"})
	assert.NoError(t, err)
	assert.Zero(t, env.hub.Count())
}
