package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/profiler"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockLocator returns canned regions or a canned error.
type MockLocator struct {
	mu      sync.Mutex
	regions []common.FaceRegion
	err     error
}

func (m *MockLocator) Locate(gocv.Mat) ([]common.FaceRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]common.FaceRegion(nil), m.regions...), nil
}

func (m *MockLocator) Close() error { return nil }

func newTestServer(loc *MockLocator, store state.Store, metrics MetricsSource) (*Server, *detector.Session) {
	session := detector.NewSession(loc, nil)
	return New(session, store, metrics, Options{SampleFrames: 10, ReportFrames: 5}), session
}

func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, url, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestRootAndHealth(t *testing.T) {
	s, _ := newTestServer(&MockLocator{}, nil, nil)

	rec, body := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	endpoints, ok := body["endpoints"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/detect/image", endpoints["detect_image"])

	rec, body = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["detector_ready"])
	assert.Equal(t, healthMessage, body["message"])
}

func TestDetectImageNoFaces(t *testing.T) {
	s, session := newTestServer(&MockLocator{}, nil, nil)

	rec, body := serve(s, upload(t, "/detect/image", "me.png", "image/png", noisePNG(t, 64, 48)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, float64(0), body["faces_detected"])
	assert.Equal(t, false, body["is_cheating"])
	assert.Equal(t, detector.NoFacesMessage, body["message"])
	assert.Equal(t, "me.png", body["filename"])
	assert.Equal(t, "64x48", body["image_dimensions"])
	assert.Equal(t, "completed", body["processing_status"])
	assert.NotContains(t, body, "preview")
	assert.EqualValues(t, 1, session.Stats().TotalAttempts)
}

func TestDetectImageWithPreview(t *testing.T) {
	loc := &MockLocator{regions: []common.FaceRegion{{X: 8, Y: 8, Width: 40, Height: 32}}}
	s, _ := newTestServer(loc, nil, nil)

	rec, body := serve(s, upload(t, "/detect/image?preview=1", "me.png", "image/png", noisePNG(t, 64, 48)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, float64(1), body["faces_detected"])
	faces, ok := body["faces"].([]interface{})
	require.True(t, ok)
	require.Len(t, faces, 1)
	assert.Equal(t, []interface{}{8.0, 8.0, 40.0, 32.0}, faces[0].(map[string]interface{})["bbox"])
	assert.True(t, strings.HasPrefix(body["preview"].(string), "data:image/jpeg;base64,"))
}

func TestDetectImageRejectsBadUploads(t *testing.T) {
	s, session := newTestServer(&MockLocator{}, nil, nil)

	rec, body := serve(s, upload(t, "/detect/image", "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File must be an image", body["detail"])

	rec, _ = serve(s, upload(t, "/detect/image", "broken.png", "image/png", []byte("definitely not a png")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(s, httptest.NewRequest(http.MethodPost, "/detect/image", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, session.Stats().TotalAttempts)
}

func TestDetectImageLocatorFailure(t *testing.T) {
	s, session := newTestServer(&MockLocator{err: errors.New("classifier crashed")}, nil, nil)

	rec, body := serve(s, upload(t, "/detect/image", "me.png", "image/png", noisePNG(t, 32, 32)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["detail"], "Error processing image")
	assert.Zero(t, session.Stats().TotalAttempts)
}

func TestDetectImageTooLarge(t *testing.T) {
	session := detector.NewSession(&MockLocator{}, nil)
	s := New(session, nil, nil, Options{MaxUploadBytes: 16})

	rec, _ := serve(s, upload(t, "/detect/image", "me.png", "image/png", noisePNG(t, 32, 32)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDetectImageStreamedBodyIsCapped(t *testing.T) {
	session := detector.NewSession(&MockLocator{}, nil)
	s := New(session, nil, nil, Options{MaxUploadBytes: 512})

	req := upload(t, "/detect/image", "me.png", "image/png", noisePNG(t, 64, 64))
	// Unknown length: only the body reader can enforce the cap.
	req.ContentLength = -1
	req.Body = io.NopCloser(req.Body)

	rec, body := serve(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "File exceeds 512 bytes", body["detail"])
	assert.Zero(t, session.Stats().TotalAttempts)
}

func TestDetectVideoRejectsBadUploads(t *testing.T) {
	s, _ := newTestServer(&MockLocator{}, nil, nil)

	rec, body := serve(s, upload(t, "/detect/video", "me.png", "image/png", noisePNG(t, 8, 8)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File must be a video", body["detail"])

	rec, _ = serve(s, upload(t, "/detect/video", "clip.mp4", "video/mp4", []byte("not a video")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(&MockLocator{}, nil, nil)

	rec, body := serve(s, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["api_status"])
	assert.Equal(t, challengeMessage, body["challenge_message"])
	assert.Equal(t, "Current success rate: 0% - Can you lower it?", body["leaderboard_message"])
	assert.Equal(t, "0%", body["success_rate"])
	assert.Equal(t, detector.DefaultThreshold, body["confidence_threshold"])
	assert.Equal(t, true, body["model_ready"])
}

func TestConfigure(t *testing.T) {
	s, session := newTestServer(&MockLocator{}, nil, nil)

	tests := []struct {
		name    string
		body    string
		code    int
		message string
		want    float64
	}{
		{"valid", `{"confidence_threshold": 0.9}`, http.StatusOK, "Confidence threshold updated to 0.9", 0.9},
		{"clamped", `{"confidence_threshold": 7}`, http.StatusOK, "Confidence threshold updated to 1", 1},
		{"missing", `{"other": 1}`, http.StatusBadRequest, "", 1},
		{"malformed", `{"confidence_threshold": "high"}`, http.StatusBadRequest, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/configure", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec, body := serve(s, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.message != "" {
				assert.Equal(t, "success", body["status"])
				assert.Equal(t, tt.message, body["message"])
			}
			assert.Equal(t, tt.want, session.Threshold())
		})
	}
}

func TestStateEndpoints(t *testing.T) {
	s, _ := newTestServer(&MockLocator{}, nil, nil)
	rec, _ := serve(s, httptest.NewRequest(http.MethodPost, "/state/save", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))
	s, session := newTestServer(&MockLocator{}, store, nil)

	rec, body := serve(s, httptest.NewRequest(http.MethodPost, "/state/load", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No saved state", body["detail"])

	session.SetThreshold(0.25)
	rec, _ = serve(s, httptest.NewRequest(http.MethodPost, "/state/save", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	session.SetThreshold(0.75)
	rec, body = serve(s, httptest.NewRequest(http.MethodPost, "/state/load", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "loaded", body["status"])
	assert.Equal(t, 0.25, session.Threshold())
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(&MockLocator{}, nil, nil)
	rec, _ := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})
	s, _ = newTestServer(&MockLocator{}, nil, prof)
	serve(s, upload(t, "/detect/image", "me.png", "image/png", noisePNG(t, 16, 16)))

	rec, body := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	ops, ok := body["operations"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, ops, "detect_image")
}

func TestHandleMessage(t *testing.T) {
	s, _ := newTestServer(&MockLocator{}, nil, nil)

	reply, ok := s.handleMessage([]byte(`{"type":"ping"}`))
	assert.True(t, ok)
	assert.Equal(t, MessagePong, reply.Type)

	reply, ok = s.handleMessage([]byte(`{not json`))
	assert.True(t, ok)
	assert.Equal(t, ServerMessage{Type: MessageError, Message: "Invalid JSON format"}, reply)

	reply, ok = s.handleMessage([]byte(`{"type":"frame","data":"no comma here"}`))
	assert.True(t, ok)
	assert.Equal(t, MessageError, reply.Type)
	assert.True(t, strings.HasPrefix(reply.Message, "Processing error: "))

	_, ok = s.handleMessage([]byte(`{"type":"subscribe"}`))
	assert.False(t, ok)
}

func TestWebSocketDetect(t *testing.T) {
	s, session := newTestServer(&MockLocator{}, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/detect", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Connections() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong ServerMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, MessagePong, pong.Type)

	frame := "data:image/png;base64," + base64.StdEncoding.EncodeToString(noisePNG(t, 32, 32))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "frame", "data": frame, "timestamp": 1234}))

	var reply ServerMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, MessageDetectionResult, reply.Type)
	assert.JSONEq(t, "1234", string(reply.Timestamp))
	require.NotNil(t, reply.Results)
	assert.Equal(t, detector.NoFacesMessage, reply.Results.Message)
	assert.EqualValues(t, 1, session.Stats().TotalAttempts)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Connections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsOversizedFrame(t *testing.T) {
	session := detector.NewSession(&MockLocator{}, nil)
	s := New(session, nil, nil, Options{MaxUploadBytes: 1024})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/detect", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong ServerMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, MessagePong, pong.Type)

	frame := "data:image/png;base64," + base64.StdEncoding.EncodeToString(noisePNG(t, 64, 64))
	require.Greater(t, len(frame), 1024)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "frame", "data": frame}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "the server drops the connection")

	assert.Eventually(t, func() bool { return s.Connections() == 0 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, session.Stats().TotalAttempts)
}
