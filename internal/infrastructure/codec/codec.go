package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"aivision/internal/core/domain"
	"aivision/pkg/optimize"
	"aivision/pkg/utils"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protowire"
)

type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingBinary Encoding = "binary"
)

const (
	TypeFrame           = "frame"
	TypeDetectionResult = "detection_result"
	TypeSessionUpdate   = "session_update"
	TypeCaptureAck      = "capture_ack"
	TypeError           = "error"
)

// Field numbers of the binary frame message.
const (
	fieldType       protowire.Number = 1
	fieldSequence   protowire.Number = 2
	fieldImage      protowire.Number = 3
	fieldCapturedAt protowire.Number = 4
)

const dataURLPrefix = "data:image/jpeg;base64,"

type Options struct {
	Encoding Encoding
	// ImageDataURL prefixes base64 images with a data URL header.
	ImageDataURL bool
}

func DefaultOptions() Options {
	return Options{Encoding: EncodingJSON, ImageDataURL: true}
}

// Codec turns frames and commands into websocket messages and inbound
// messages into domain events. The frame sequence counter lives for the
// lifetime of the Codec and is never reset, so it stays monotonic across
// reconnects.
type Codec struct {
	opts Options
	seq  atomic.Uint64
	bufs *optimize.BufferPool
}

func New(opts Options) *Codec {
	if opts.Encoding == "" {
		opts.Encoding = EncodingJSON
	}
	return &Codec{
		opts: opts,
		bufs: optimize.NewBufferPool(64*1024, 4*1024*1024),
	}
}

// LastSequence returns the most recently assigned frame sequence.
func (c *Codec) LastSequence() uint64 {
	return c.seq.Load()
}

type frameMessage struct {
	Type       string `json:"type"`
	Sequence   uint64 `json:"sequence"`
	Image      string `json:"image"`
	CapturedAt int64  `json:"captured_at,omitempty"`
}

type commandMessage struct {
	Type  string `json:"type"`
	Image string `json:"image,omitempty"`
}

// configUpdateMessage always carries every field so an empty class list is
// distinguishable from an omitted one.
type configUpdateMessage struct {
	Type                string              `json:"type"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	IoUThreshold        float64             `json:"iou_threshold"`
	EnabledClasses      []domain.WasteClass `json:"enabled_classes"`
}

// EncodeFrame assigns the next sequence number and serializes the frame.
func (c *Codec) EncodeFrame(frame domain.Frame) (uint64, int, []byte, error) {
	if len(frame.Data) == 0 {
		return 0, 0, nil, fmt.Errorf("encode frame: empty image payload")
	}

	seq := c.seq.Add(1)
	var capturedAt int64
	if !frame.CapturedAt.IsZero() {
		capturedAt = frame.CapturedAt.UnixMilli()
	}

	if c.opts.Encoding == EncodingBinary {
		var b []byte
		b = protowire.AppendTag(b, fieldType, protowire.BytesType)
		b = protowire.AppendString(b, TypeFrame)
		b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
		b = protowire.AppendVarint(b, seq)
		b = protowire.AppendTag(b, fieldImage, protowire.BytesType)
		b = protowire.AppendBytes(b, frame.Data)
		if capturedAt > 0 {
			b = protowire.AppendTag(b, fieldCapturedAt, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(capturedAt))
		}
		return seq, websocket.BinaryMessage, b, nil
	}

	payload, err := c.marshal(frameMessage{
		Type:       TypeFrame,
		Sequence:   seq,
		Image:      c.encodeImage(frame.Data),
		CapturedAt: capturedAt,
	})
	if err != nil {
		return 0, 0, nil, fmt.Errorf("encode frame %d: %w", seq, err)
	}
	return seq, websocket.TextMessage, payload, nil
}

// EncodeCommand serializes a command as a JSON text message.
func (c *Codec) EncodeCommand(cmd domain.Command) (int, []byte, error) {
	var msg interface{}

	switch v := cmd.(type) {
	case domain.ClearDetectionsCommand:
		msg = commandMessage{Type: cmd.Name()}
	case domain.CaptureImageCommand:
		if len(v.Image) == 0 {
			return 0, nil, fmt.Errorf("encode %s: empty image payload", cmd.Name())
		}
		msg = commandMessage{Type: cmd.Name(), Image: c.encodeImage(v.Image)}
	case domain.ConfigUpdateCommand:
		classes := v.Config.EnabledClasses
		if classes == nil {
			classes = []domain.WasteClass{}
		}
		msg = configUpdateMessage{
			Type:                cmd.Name(),
			ConfidenceThreshold: v.Config.ConfidenceThreshold,
			IoUThreshold:        v.Config.IoUThreshold,
			EnabledClasses:      classes,
		}
	default:
		return 0, nil, fmt.Errorf("encode command: unsupported command %q", cmd.Name())
	}

	payload, err := c.marshal(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", cmd.Name(), err)
	}
	return websocket.TextMessage, payload, nil
}

func (c *Codec) encodeImage(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if c.opts.ImageDataURL {
		return dataURLPrefix + encoded
	}
	return encoded
}

func (c *Codec) marshal(v interface{}) ([]byte, error) {
	buf := c.bufs.Get()
	defer c.bufs.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	buf.Truncate(len(bytes.TrimRight(buf.Bytes(), "\n")))
	return optimize.CopyBytes(buf), nil
}

type wireDetection struct {
	Label      domain.WasteClass   `json:"label"`
	Confidence float64             `json:"confidence"`
	Box        *domain.BoundingBox `json:"bbox"`
	Timestamp  int64               `json:"timestamp,omitempty"`
}

type inboundMessage struct {
	Type            string          `json:"type"`
	Sequence        *uint64         `json:"sequence"`
	Detections      []wireDetection `json:"detections"`
	InferenceTime   float64         `json:"inference_time"`
	FPS             float64         `json:"fps"`
	TotalDetections *uint64         `json:"totalDetections"`
	CapturedImages  *uint64         `json:"capturedImages"`
	Reason          string          `json:"reason"`
	Message         string          `json:"message"`
}

// Decode maps an inbound message to a domain event. It never fails: anything
// it cannot map comes back as domain.UnknownMessage carrying the reason.
func (c *Codec) Decode(messageType int, data []byte) domain.Event {
	if messageType != websocket.TextMessage {
		return domain.UnknownMessage{Type: "binary", Reason: "binary inbound messages are not supported"}
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.UnknownMessage{Reason: fmt.Sprintf("invalid json: %v", err)}
	}

	switch msg.Type {
	case TypeDetectionResult:
		return decodeDetectionResult(msg)
	case TypeSessionUpdate:
		if msg.TotalDetections == nil && msg.CapturedImages == nil {
			return domain.UnknownMessage{Type: msg.Type, Reason: "session_update without counters"}
		}
		var update domain.SessionUpdate
		if msg.TotalDetections != nil {
			update.TotalDetections = *msg.TotalDetections
		}
		if msg.CapturedImages != nil {
			update.CapturedImages = *msg.CapturedImages
		}
		return update
	case TypeCaptureAck:
		return domain.CaptureAck{}
	case TypeError:
		reason := msg.Reason
		if reason == "" {
			reason = msg.Message
		}
		if reason == "" {
			reason = "unspecified backend error"
		}
		return domain.BackendError{Reason: utils.TruncateString(reason, 512)}
	case "":
		return domain.UnknownMessage{Reason: "missing message type"}
	default:
		return domain.UnknownMessage{Type: utils.TruncateString(msg.Type, 64), Reason: "unrecognized message type"}
	}
}

func decodeDetectionResult(msg inboundMessage) domain.Event {
	if msg.Sequence == nil {
		return domain.UnknownMessage{Type: msg.Type, Reason: "missing sequence"}
	}
	if msg.InferenceTime < 0 || msg.FPS < 0 {
		return domain.UnknownMessage{Type: msg.Type, Reason: "negative performance metrics"}
	}

	now := utils.Now()
	detections := make([]domain.Detection, 0, len(msg.Detections))
	for i, wd := range msg.Detections {
		if wd.Label == "" {
			return domain.UnknownMessage{Type: msg.Type, Reason: fmt.Sprintf("detection %d: missing label", i)}
		}
		if wd.Confidence < 0 || wd.Confidence > 1 {
			return domain.UnknownMessage{Type: msg.Type, Reason: fmt.Sprintf("detection %d: confidence %v out of range", i, wd.Confidence)}
		}
		if wd.Box == nil {
			return domain.UnknownMessage{Type: msg.Type, Reason: fmt.Sprintf("detection %d: missing bbox", i)}
		}
		ts := now
		if wd.Timestamp > 0 {
			ts = time.UnixMilli(wd.Timestamp)
		}
		detections = append(detections, domain.Detection{
			Label:      wd.Label,
			Confidence: wd.Confidence,
			Box:        *wd.Box,
			Timestamp:  ts,
		})
	}

	return domain.DetectionResult{
		Sequence:      *msg.Sequence,
		Detections:    detections,
		InferenceTime: msg.InferenceTime,
		FPS:           msg.FPS,
	}
}

// DecodeImage reverses the image encoding used in frame and capture messages.
func DecodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}
