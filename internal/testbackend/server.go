// Package testbackend is an in-process stand-in for the detection backend.
// It speaks the same websocket protocol and REST contract, returns synthetic
// detections, and lets tests drop connections or fail requests on demand.
package testbackend

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/infrastructure/codec"
	"aivision/pkg/utils"
	"aivision/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DetectFunc produces the detections returned for one frame.
type DetectFunc func(seq uint64, image []byte) []domain.Detection

type Options struct {
	InferenceDelay time.Duration
	Detect         DetectFunc
	// SkipResults makes the backend swallow frames without answering.
	SkipResults bool
}

// DefaultDetect returns one plastic bottle per frame.
func DefaultDetect(seq uint64, _ []byte) []domain.Detection {
	return []domain.Detection{{
		Label:      domain.ClassPlasticBottle,
		Confidence: 0.87,
		Box:        domain.BoundingBox{X: 40, Y: 60, Width: 120, Height: 240},
		Timestamp:  time.Now(),
	}}
}

type Stats struct {
	Connections       int                    `json:"connections"`
	ActiveConnections int                    `json:"active_connections"`
	FramesReceived    int                    `json:"frames_received"`
	LastSequence      uint64                 `json:"last_sequence"`
	Commands          map[string]int         `json:"commands"`
	Config            domain.DetectionConfig `json:"config"`
	Session           domain.SessionStatus   `json:"session"`
	ModelName         string                 `json:"model_name,omitempty"`
}

type capturedImage struct {
	at   time.Time
	data []byte
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(messageType int, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(messageType, payload)
}

type Server struct {
	opts     Options
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
	router   *gin.Engine

	mu          sync.Mutex
	peers       map[*peer]struct{}
	connections int
	frames      int
	lastSeq     uint64
	commands    map[string]int
	config      domain.DetectionConfig
	session     domain.SessionStatus
	history     []domain.Detection
	captures    []capturedImage
	modelName   string
	failures    int
}

func New(opts Options, logger *zap.SugaredLogger) *Server {
	if opts.Detect == nil {
		opts.Detect = DefaultDetect
	}

	s := &Server{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		peers:    make(map[*peer]struct{}),
		commands: make(map[string]int),
		config:   domain.DefaultDetectionConfig(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.SetupRoutes(router)
	s.router = router
	return s
}

func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.handleWebSocket)
	router.GET("/ws/:client_id", s.handleWebSocket)

	api := router.Group("/api")
	api.Use(s.failureInjection)
	{
		api.POST("/update-config", s.updateConfig)
		api.POST("/upload-model", s.uploadModel)
		api.GET("/export/:format", s.export)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// FailNextRequests makes the next n REST calls answer 503.
func (s *Server) FailNextRequests(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// DropConnections closes every open websocket without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

// Broadcast pushes a raw text message to every connected client.
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.write(websocket.TextMessage, payload); err != nil {
			s.logger.Debugw("broadcast write failed", "error", err)
		}
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	commands := make(map[string]int, len(s.commands))
	for k, v := range s.commands {
		commands[k] = v
	}
	return Stats{
		Connections:       s.connections,
		ActiveConnections: len(s.peers),
		FramesReceived:    s.frames,
		LastSequence:      s.lastSeq,
		Commands:          commands,
		Config:            s.config.Clone(),
		Session:           s.session,
		ModelName:         s.modelName,
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	p := &peer{conn: conn}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.connections++
	s.mu.Unlock()

	clientID := c.Param("client_id")
	if clientID == "" {
		clientID = c.GetHeader("X-Client-ID")
	}
	s.logger.Infow("client connected", "client_id", clientID)

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		conn.Close()
		s.logger.Infow("client disconnected", "client_id", clientID)
	}()

	lastFrame := time.Now()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("read failed", "client_id", clientID, "error", err)
			}
			return
		}

		msg, err := codec.ParseClientMessage(messageType, data)
		if err != nil {
			payload, encErr := codec.EncodeError(err.Error())
			s.reply(p, payload, encErr)
			continue
		}

		switch msg.Type {
		case codec.TypeFrame:
			start := time.Now()
			var fps float64
			if elapsed := start.Sub(lastFrame).Seconds(); elapsed > 0 {
				fps = 1 / elapsed
			}
			lastFrame = start
			s.handleFrame(p, msg, start, fps)
		case domain.CommandCaptureImage:
			s.handleCapture(p, msg)
		case domain.CommandClearDetections:
			s.countCommand(msg.Type)
		case domain.CommandConfigUpdate:
			s.countCommand(msg.Type)
			if err := validation.ValidateDetectionConfig(*msg.Config); err != nil {
				payload, encErr := codec.EncodeError(err.Error())
				s.reply(p, payload, encErr)
				continue
			}
			s.mu.Lock()
			s.config = msg.Config.Clone()
			s.mu.Unlock()
		}
	}
}

func (s *Server) handleFrame(p *peer, msg codec.ClientMessage, start time.Time, fps float64) {
	s.mu.Lock()
	s.frames++
	if msg.Sequence > s.lastSeq {
		s.lastSeq = msg.Sequence
	}
	cfg := s.config.Clone()
	s.mu.Unlock()

	if s.opts.SkipResults {
		return
	}
	if s.opts.InferenceDelay > 0 {
		time.Sleep(s.opts.InferenceDelay)
	}

	var detections []domain.Detection
	for _, d := range s.opts.Detect(msg.Sequence, msg.Image) {
		if cfg.Allows(d) {
			detections = append(detections, d)
		}
	}

	s.mu.Lock()
	s.session.TotalDetections += uint64(len(detections))
	s.history = append(s.history, detections...)
	s.mu.Unlock()

	inferenceMs := float64(time.Since(start).Microseconds()) / 1000
	payload, err := codec.EncodeDetectionResult(msg.Sequence, detections, inferenceMs, fps)
	s.reply(p, payload, err)
}

func (s *Server) handleCapture(p *peer, msg codec.ClientMessage) {
	s.mu.Lock()
	s.commands[msg.Type]++
	s.session.CapturedImages++
	s.captures = append(s.captures, capturedImage{at: time.Now(), data: msg.Image})
	status := s.session
	s.mu.Unlock()

	payload, err := codec.EncodeCaptureAck()
	s.reply(p, payload, err)
	payload, err = codec.EncodeSessionUpdate(status)
	s.reply(p, payload, err)
}

func (s *Server) countCommand(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[name]++
}

func (s *Server) reply(p *peer, payload []byte, err error) {
	if err != nil {
		s.logger.Errorw("failed to encode reply", "error", err)
		return
	}
	if err := p.write(websocket.TextMessage, payload); err != nil {
		s.logger.Debugw("reply write failed", "error", err)
	}
}

func (s *Server) failureInjection(c *gin.Context) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		c.String(http.StatusServiceUnavailable, "backend busy")
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) updateConfig(c *gin.Context) {
	var cfg domain.DetectionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.String(http.StatusBadRequest, "invalid config: %v", err)
		return
	}
	if err := validation.ValidateDetectionConfig(cfg); err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}

	s.mu.Lock()
	s.config = cfg.Clone()
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) uploadModel(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, "missing model file")
		return
	}
	defer file.Close()

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read model file")
		return
	}

	name := utils.SanitizeString(header.Filename)
	if name == "" {
		c.String(http.StatusBadRequest, "model file needs a name")
		return
	}

	s.mu.Lock()
	s.modelName = name
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"model_name": name,
		"model_size": size,
	})
}

func (s *Server) export(c *gin.Context) {
	format := c.Param("format")
	if err := validation.ValidateExportFormat(format); err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}

	s.mu.Lock()
	history := append([]domain.Detection(nil), s.history...)
	captures := append([]capturedImage(nil), s.captures...)
	session := s.session
	s.mu.Unlock()

	switch format {
	case "json":
		c.JSON(http.StatusOK, gin.H{
			"session_status": session,
			"detections":     history,
		})

	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"timestamp", "label", "confidence", "x", "y", "width", "height"})
		for _, d := range history {
			_ = w.Write([]string{
				d.Timestamp.UTC().Format(time.RFC3339Nano),
				string(d.Label),
				strconv.FormatFloat(d.Confidence, 'f', 4, 64),
				strconv.FormatFloat(d.Box.X, 'f', 1, 64),
				strconv.FormatFloat(d.Box.Y, 'f', 1, 64),
				strconv.FormatFloat(d.Box.Width, 'f', 1, 64),
				strconv.FormatFloat(d.Box.Height, 'f', 1, 64),
			})
		}
		w.Flush()
		c.Data(http.StatusOK, "text/csv", buf.Bytes())

	case "images":
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for i, img := range captures {
			f, err := zw.Create(fmt.Sprintf("capture_%03d_%d.jpg", i+1, img.at.UnixMilli()))
			if err != nil {
				c.String(http.StatusInternalServerError, "%v", err)
				return
			}
			if _, err := f.Write(img.data); err != nil {
				c.String(http.StatusInternalServerError, "%v", err)
				return
			}
		}
		if err := zw.Close(); err != nil {
			c.String(http.StatusInternalServerError, "%v", err)
			return
		}
		c.Data(http.StatusOK, "application/zip", buf.Bytes())
	}
}
