package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

var errTransport = errors.New("dial tcp: connection refused")

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	err := WrapError(errTransport, ErrCodeConnection, "wrapped error", 502)

	if err.Cause != errTransport {
		t.Errorf("Cause = %v, want %v", err.Cause, errTransport)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, errTransport) {
		t.Error("errors.Is should see through AppError")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewCommandRejectedError(t *testing.T) {
	err := NewCommandRejectedError(errTransport, "capture_image")
	if err.Code != ErrCodeCommandRejected {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCommandRejected)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %v, want 409", err.HTTPStatus)
	}
	if err.Context["command"] != "capture_image" {
		t.Errorf("Context[command] = %v", err.Context["command"])
	}
}

func TestNewUpstreamError(t *testing.T) {
	err := NewUpstreamError(500, "model too large")
	if err.Context["body"] != "model too large" {
		t.Errorf("Context[body] = %v", err.Context["body"])
	}
	if err.Message != "upstream returned 500: model too large" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewProtocolError(errTransport, "detection_result")
	wrapped := fmt.Errorf("decode: %w", appErr)

	if GetAppError(wrapped) != appErr {
		t.Error("expected AppError to be found through fmt wrapping")
	}
	if GetAppError(errTransport) != nil {
		t.Error("expected nil for plain error")
	}
	if GetAppError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("send: %w", NewCommandRejectedError(errTransport, "clear_detections"))
	if !HasCode(err, ErrCodeCommandRejected) {
		t.Error("expected COMMAND_REJECTED in chain")
	}
	if HasCode(err, ErrCodeProtocol) {
		t.Error("did not expect PROTOCOL_ERROR")
	}
}
