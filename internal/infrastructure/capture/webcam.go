//go:build gocv

package capture

import (
	"context"
	"fmt"
	"sync"

	"aivision/internal/core/domain"
	"aivision/pkg/utils"

	"gocv.io/x/gocv"
)

// WebcamSource grabs frames from a local camera and encodes them as JPEG.
type WebcamSource struct {
	mu      sync.Mutex
	webcam  *gocv.VideoCapture
	img     gocv.Mat
	quality int
}

func NewWebcamSource(deviceID, quality int) (*WebcamSource, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", deviceID, err)
	}
	webcam.Set(gocv.VideoCaptureBufferSize, 1)

	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &WebcamSource{
		webcam:  webcam,
		img:     gocv.NewMat(),
		quality: quality,
	}, nil
}

func (s *WebcamSource) Next(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.webcam == nil {
		return domain.Frame{}, domain.ErrSourceExhausted
	}
	if ok := s.webcam.Read(&s.img); !ok || s.img.Empty() {
		return domain.Frame{}, fmt.Errorf("camera returned no frame")
	}
	capturedAt := utils.Now()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.img, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return domain.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return domain.Frame{Data: buf.GetBytes(), CapturedAt: capturedAt}, nil
}

func (s *WebcamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.webcam == nil {
		return nil
	}
	s.img.Close()
	err := s.webcam.Close()
	s.webcam = nil
	return err
}
