package testbackend

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/infrastructure/codec"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts, zap.NewNop().Sugar())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/test-client", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, c *codec.Codec) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return c.Decode(mt, data)
}

func TestServer_FrameRoundTrip(t *testing.T) {
	for _, enc := range []codec.Encoding{codec.EncodingJSON, codec.EncodingBinary} {
		t.Run(string(enc), func(t *testing.T) {
			s, srv := startServer(t, Options{})
			conn := dial(t, srv)
			c := codec.New(codec.Options{Encoding: enc, ImageDataURL: true})

			seq, mt, payload, err := c.EncodeFrame(domain.Frame{Data: []byte("jpeg")})
			require.NoError(t, err)
			require.NoError(t, conn.WriteMessage(mt, payload))

			res, ok := readEvent(t, conn, c).(domain.DetectionResult)
			require.True(t, ok)
			assert.Equal(t, seq, res.Sequence)
			require.Len(t, res.Detections, 1)
			assert.Equal(t, domain.ClassPlasticBottle, res.Detections[0].Label)

			stats := s.Stats()
			assert.Equal(t, 1, stats.FramesReceived)
			assert.Equal(t, seq, stats.LastSequence)
			assert.Equal(t, uint64(1), stats.Session.TotalDetections)
		})
	}
}

func TestServer_ConfigFiltersDetections(t *testing.T) {
	_, srv := startServer(t, Options{})
	conn := dial(t, srv)
	c := codec.New(codec.DefaultOptions())

	mt, payload, err := c.EncodeCommand(domain.ConfigUpdateCommand{Config: domain.DetectionConfig{
		ConfidenceThreshold: 0.95,
		IoUThreshold:        0.5,
		EnabledClasses:      []domain.WasteClass{domain.ClassPlasticBottle},
	}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(mt, payload))

	_, mt, payload, err = c.EncodeFrame(domain.Frame{Data: []byte("jpeg")})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(mt, payload))

	res, ok := readEvent(t, conn, c).(domain.DetectionResult)
	require.True(t, ok)
	assert.Empty(t, res.Detections)
}

func TestServer_CaptureAckAndSessionUpdate(t *testing.T) {
	s, srv := startServer(t, Options{})
	conn := dial(t, srv)
	c := codec.New(codec.DefaultOptions())

	mt, payload, err := c.EncodeCommand(domain.CaptureImageCommand{Image: []byte("jpeg")})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(mt, payload))

	assert.IsType(t, domain.CaptureAck{}, readEvent(t, conn, c))
	update, ok := readEvent(t, conn, c).(domain.SessionUpdate)
	require.True(t, ok)
	assert.Equal(t, uint64(1), update.CapturedImages)
	assert.Equal(t, 1, s.Stats().Commands[domain.CommandCaptureImage])
}

func TestServer_MalformedMessageGetsError(t *testing.T) {
	_, srv := startServer(t, Options{})
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	ev := readEvent(t, conn, codec.New(codec.DefaultOptions()))
	assert.IsType(t, domain.BackendError{}, ev)
}

func TestServer_UpdateConfigEndpoint(t *testing.T) {
	s, srv := startServer(t, Options{})

	body := `{"confidence_threshold":0.3,"iou_threshold":0.6,"enabled_classes":["botol_kaca"]}`
	resp, err := http.Post(srv.URL+"/api/update-config", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.3, s.Stats().Config.ConfidenceThreshold)
	assert.Equal(t, []domain.WasteClass{domain.ClassGlassBottle}, s.Stats().Config.EnabledClasses)

	resp, err = http.Post(srv.URL+"/api/update-config", "application/json",
		strings.NewReader(`{"confidence_threshold":0.3,"iou_threshold":0.6,"enabled_classes":["glass_bottle"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown classes are rejected")

	resp, err = http.Post(srv.URL+"/api/update-config", "application/json", strings.NewReader(`{"confidence_threshold":7}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UploadModel(t *testing.T) {
	s, srv := startServer(t, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "best.pt")
	require.NoError(t, err)
	part.Write(bytes.Repeat([]byte{1}, 100))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/upload-model", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info struct {
		ModelName string `json:"model_name"`
		ModelSize int64  `json:"model_size"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "best.pt", info.ModelName)
	assert.Equal(t, int64(100), info.ModelSize)
	assert.Equal(t, "best.pt", s.Stats().ModelName)
}

func TestServer_ExportImages(t *testing.T) {
	_, srv := startServer(t, Options{})
	conn := dial(t, srv)
	c := codec.New(codec.DefaultOptions())

	mt, payload, err := c.EncodeCommand(domain.CaptureImageCommand{Image: []byte("jpeg-bytes")})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(mt, payload))
	readEvent(t, conn, c)

	resp, err := http.Get(srv.URL + "/api/export/images")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data bytes.Buffer
	_, err = data.ReadFrom(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data.Bytes()), int64(data.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 1)
}

func TestServer_ExportUnknownFormat(t *testing.T) {
	_, srv := startServer(t, Options{})

	resp, err := http.Get(srv.URL + "/api/export/pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_FailureInjection(t *testing.T) {
	s, srv := startServer(t, Options{})
	s.FailNextRequests(1)

	resp, err := http.Get(srv.URL + "/api/export/json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/export/json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
