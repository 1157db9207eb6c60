package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"aivision/internal/core/domain"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protowire"
)

// The helpers below are the backend side of the protocol. They are used by
// the in-repo detection backend simulator and by tests.

// ClientMessage is a decoded frame or command as the backend receives it.
type ClientMessage struct {
	Type       string
	Sequence   uint64
	Image      []byte
	CapturedAt time.Time
	Config     *domain.DetectionConfig
}

type clientEnvelope struct {
	Type                string              `json:"type"`
	Sequence            uint64              `json:"sequence"`
	Image               string              `json:"image"`
	CapturedAt          int64               `json:"captured_at"`
	ConfidenceThreshold *float64            `json:"confidence_threshold"`
	IoUThreshold        *float64            `json:"iou_threshold"`
	EnabledClasses      []domain.WasteClass `json:"enabled_classes"`
}

// ParseClientMessage decodes a text (JSON) or binary (protowire) client message.
func ParseClientMessage(messageType int, data []byte) (ClientMessage, error) {
	switch messageType {
	case websocket.BinaryMessage:
		return parseBinaryFrame(data)
	case websocket.TextMessage:
	default:
		return ClientMessage{}, fmt.Errorf("%w: websocket message type %d", domain.ErrMalformedMessage, messageType)
	}

	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	msg := ClientMessage{Type: env.Type, Sequence: env.Sequence}
	if env.CapturedAt > 0 {
		msg.CapturedAt = time.UnixMilli(env.CapturedAt)
	}

	switch env.Type {
	case TypeFrame, domain.CommandCaptureImage:
		img, err := DecodeImage(env.Image)
		if err != nil {
			return ClientMessage{}, fmt.Errorf("%w: image: %v", domain.ErrMalformedMessage, err)
		}
		if len(img) == 0 {
			return ClientMessage{}, fmt.Errorf("%w: %s without image", domain.ErrMalformedMessage, env.Type)
		}
		msg.Image = img
	case domain.CommandConfigUpdate:
		if env.ConfidenceThreshold == nil || env.IoUThreshold == nil {
			return ClientMessage{}, fmt.Errorf("%w: config_update missing thresholds", domain.ErrMalformedMessage)
		}
		msg.Config = &domain.DetectionConfig{
			ConfidenceThreshold: *env.ConfidenceThreshold,
			IoUThreshold:        *env.IoUThreshold,
			EnabledClasses:      env.EnabledClasses,
		}
	case domain.CommandClearDetections:
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown type %q", domain.ErrUnknownMessage, env.Type)
	}
	return msg, nil
}

func parseBinaryFrame(b []byte) (ClientMessage, error) {
	var msg ClientMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ClientMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ClientMessage{}, fmt.Errorf("%w: type: %v", domain.ErrMalformedMessage, protowire.ParseError(n))
			}
			msg.Type = v
			b = b[n:]
		case num == fieldSequence && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ClientMessage{}, fmt.Errorf("%w: sequence: %v", domain.ErrMalformedMessage, protowire.ParseError(n))
			}
			msg.Sequence = v
			b = b[n:]
		case num == fieldImage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ClientMessage{}, fmt.Errorf("%w: image: %v", domain.ErrMalformedMessage, protowire.ParseError(n))
			}
			msg.Image = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldCapturedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ClientMessage{}, fmt.Errorf("%w: captured_at: %v", domain.ErrMalformedMessage, protowire.ParseError(n))
			}
			msg.CapturedAt = time.UnixMilli(int64(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ClientMessage{}, fmt.Errorf("%w: field %d: %v", domain.ErrMalformedMessage, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if msg.Type != TypeFrame {
		return ClientMessage{}, fmt.Errorf("%w: binary message type %q", domain.ErrUnknownMessage, msg.Type)
	}
	if len(msg.Image) == 0 {
		return ClientMessage{}, fmt.Errorf("%w: frame without image", domain.ErrMalformedMessage)
	}
	return msg, nil
}

type outboundDetection struct {
	Label      domain.WasteClass `json:"label"`
	Confidence float64           `json:"confidence"`
	Box        [4]float64        `json:"bbox"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// EncodeDetectionResult renders a detection_result with corner-pair boxes.
func EncodeDetectionResult(seq uint64, detections []domain.Detection, inferenceMs, fps float64) ([]byte, error) {
	out := make([]outboundDetection, 0, len(detections))
	for _, d := range detections {
		od := outboundDetection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        [4]float64{d.Box.X, d.Box.Y, d.Box.X + d.Box.Width, d.Box.Y + d.Box.Height},
		}
		if !d.Timestamp.IsZero() {
			od.Timestamp = d.Timestamp.UnixMilli()
		}
		out = append(out, od)
	}

	return json.Marshal(struct {
		Type          string              `json:"type"`
		Sequence      uint64              `json:"sequence"`
		Detections    []outboundDetection `json:"detections"`
		InferenceTime float64             `json:"inference_time"`
		FPS           float64             `json:"fps"`
	}{TypeDetectionResult, seq, out, inferenceMs, fps})
}

func EncodeSessionUpdate(status domain.SessionStatus) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		domain.SessionStatus
	}{TypeSessionUpdate, status})
}

func EncodeCaptureAck() ([]byte, error) {
	return json.Marshal(map[string]string{"type": TypeCaptureAck})
}

func EncodeError(reason string) ([]byte, error) {
	return json.Marshal(map[string]string{"type": TypeError, "reason": reason})
}
