package framesource

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/models"
)

// GoCVSource reads frames through OpenCV VideoCapture. Works for RTSP/HTTP
// IP cameras and local device indices alike.
type GoCVSource struct {
	cameraID string
	url      string
	width    int
	height   int

	cap      *gocv.VideoCapture
	img      gocv.Mat
	sequence int64
}

// NewGoCVFactory returns a Factory producing OpenCV-backed sources with the
// configured capture geometry.
func NewGoCVFactory(cfg *config.Config) Factory {
	return func(camera models.CameraConfig) Source {
		return &GoCVSource{
			cameraID: camera.CameraID,
			url:      camera.URL,
			width:    cfg.FrameWidth,
			height:   cfg.FrameHeight,
		}
	}
}

func (s *GoCVSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &models.ConnectionError{CameraID: s.cameraID, Err: err}
	}

	log.Info().
		Str("camera_id", s.cameraID).
		Str("url", s.url).
		Msg("Opening video capture")

	cap, err := gocv.OpenVideoCapture(s.url)
	if err != nil {
		return &models.ConnectionError{CameraID: s.cameraID, Err: err}
	}
	if !cap.IsOpened() {
		cap.Close()
		return &models.ConnectionError{CameraID: s.cameraID, Err: fmt.Errorf("capture device did not open")}
	}

	// Minimal internal buffering keeps latency low
	cap.Set(gocv.VideoCaptureBufferSize, 1)
	cap.Set(gocv.VideoCaptureFrameWidth, float64(s.width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(s.height))

	s.cap = cap
	s.img = gocv.NewMat()

	log.Info().
		Str("camera_id", s.cameraID).
		Float64("actual_fps", cap.Get(gocv.VideoCaptureFPS)).
		Float64("actual_width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("actual_height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Video capture opened")

	return nil
}

func (s *GoCVSource) Next(ctx context.Context) (*models.Frame, error) {
	if s.cap == nil {
		return nil, &models.StreamError{CameraID: s.cameraID, Err: fmt.Errorf("source not open")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &models.StreamError{CameraID: s.cameraID, Err: err}
	}

	if ok := s.cap.Read(&s.img); !ok {
		return nil, &models.StreamError{CameraID: s.cameraID, Err: fmt.Errorf("read failed")}
	}
	if s.img.Empty() {
		return nil, &models.StreamError{CameraID: s.cameraID, Err: fmt.Errorf("empty frame")}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.img)
	if err != nil {
		return nil, &models.StreamError{CameraID: s.cameraID, Err: fmt.Errorf("jpeg encode: %w", err)}
	}
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	buf.Close()

	s.sequence++
	return &models.Frame{
		CameraID:  s.cameraID,
		Timestamp: time.Now(),
		Sequence:  s.sequence,
		Data:      data,
		Width:     s.img.Cols(),
		Height:    s.img.Rows(),
	}, nil
}

func (s *GoCVSource) Close() error {
	if s.cap == nil {
		return nil
	}
	s.img.Close()
	err := s.cap.Close()
	s.cap = nil

	log.Debug().Str("camera_id", s.cameraID).Msg("Video capture released")
	return err
}
