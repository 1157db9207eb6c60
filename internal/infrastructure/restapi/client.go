package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"aivision/internal/core/domain"
	"aivision/pkg/circuitbreaker"
	apperrors "aivision/pkg/errors"
	"aivision/pkg/retry"
	"aivision/pkg/tracing"
	"aivision/pkg/utils"
	"aivision/pkg/validation"

	"go.uber.org/zap"
)

// errRetryable marks transport failures and 5xx answers.
var errRetryable = errors.New("retryable upstream failure")

const maxErrorBody = 512

// Client talks to the detection backend's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := retry.DefaultConfig()
	cfg.RetryableErrors = []error{errRetryable}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:  cfg,
		logger: logger,
	}
	c.SetBreakerConfig(circuitbreaker.DefaultConfig())
	return c
}

// SetBreakerConfig replaces the circuit breaker guarding backend calls. Only
// transport failures and 5xx answers count against it.
func (c *Client) SetBreakerConfig(cfg circuitbreaker.Config) {
	cfg.IsFailure = func(err error) bool { return errors.Is(err, errRetryable) }
	c.breaker = circuitbreaker.New(cfg)
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		c.logger.Warnw("backend API circuit changed", "from", from.String(), "to", to.String())
	})
}

// SetRetryConfig replaces the retry policy used by Export.
func (c *Client) SetRetryConfig(cfg retry.Config) {
	cfg.RetryableErrors = []error{errRetryable}
	c.retry = cfg
}

// UpdateConfig posts cfg to /api/update-config.
func (c *Client) UpdateConfig(ctx context.Context, cfg domain.DetectionConfig) error {
	ctx, span := tracing.TraceUpstream(ctx, "update_config", "/api/update-config")
	defer span.End()

	jsonData, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/update-config", bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.logger.Debugw("config forwarded", "confidence_threshold", cfg.ConfidenceThreshold)
	return nil
}

// Ping checks that the backend answers GET /health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ModelInfo is the backend's answer to a model upload.
type ModelInfo struct {
	Name string `json:"model_name"`
	Size int64  `json:"model_size"`
}

// UploadModel sends a model file as the multipart field "file".
func (c *Client) UploadModel(ctx context.Context, filename string, model io.Reader) (ModelInfo, error) {
	ctx, span := tracing.TraceUpstream(ctx, "upload_model", "/api/upload-model")
	defer span.End()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return ModelInfo{}, err
	}
	if _, err := io.Copy(part, model); err != nil {
		return ModelInfo{}, fmt.Errorf("read model: %w", err)
	}
	if err := mw.Close(); err != nil {
		return ModelInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload-model", &body)
	if err != nil {
		return ModelInfo{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return ModelInfo{}, err
	}
	defer resp.Body.Close()

	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ModelInfo{}, fmt.Errorf("decode upload response: %w", err)
	}

	c.logger.Infow("model uploaded", "model_name", info.Name, "model_size", info.Size)
	return info, nil
}

// Export is a downloaded export archive.
type Export struct {
	Format      string
	Filename    string
	ContentType string
	Data        []byte
}

var exportExtensions = map[string]string{
	"json":   "json",
	"csv":    "csv",
	"images": "zip",
}

// Export downloads /api/export/{format}, retrying transport failures and 5xx.
func (c *Client) Export(ctx context.Context, format string) (*Export, error) {
	if err := validation.ValidateExportFormat(format); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	path := "/api/export/" + format
	ctx, span := tracing.TraceUpstream(ctx, "export", path)
	defer span.End()

	export, err := retry.RetryWithResult(ctx, c.retry, func() (*Export, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read export: %v", errRetryable, err)
		}
		return &Export{
			Format:      format,
			Filename:    exportFilename(resp.Header.Get("Content-Disposition"), format),
			ContentType: resp.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return export, nil
}

func exportFilename(disposition, format string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return fmt.Sprintf("aivision_export_%s.%s", utils.Now().Format("20060102_150405"), exportExtensions[format])
}

// do executes req through the circuit breaker and turns non-200 answers into
// upstream errors carrying the response text. The caller closes the body of a
// successful response.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := circuitbreaker.Execute(c.breaker, func() (*http.Response, error) {
		return c.roundTrip(req)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeUpstream, "backend API unavailable", http.StatusServiceUnavailable)
	}
	return resp, err
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRetryable, apperrors.NewConnectionError(err, req.URL.Host))
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	upstreamErr := apperrors.NewUpstreamError(resp.StatusCode, strings.TrimSpace(string(body)))
	c.logger.Warnw("backend request failed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
	)
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %w", errRetryable, upstreamErr)
	}
	return nil, upstreamErr
}
