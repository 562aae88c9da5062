package decoder

import (
	"fmt"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/frame"
)

// GoCVSource implements Source using gocv's VideoCapture, against either a
// file path or an RTSP URI.
type GoCVSource struct {
	sourceType config.SourceType
	capture    *gocv.VideoCapture

	frameInterval time.Duration
	lastEmit      time.Time
	start         time.Time
}

// OpenGoCVSource opens the configured source. For a file, the native fps is
// read back from the capture and used to pace emission; for RTSP, frames are
// emitted as soon as they arrive. An rtsp_transport hint is forwarded to the
// FFmpeg capture backend through its option environment variable, which is
// the only knob OpenCV exposes for it.
func OpenGoCVSource(cfg config.SourceConfig) (*GoCVSource, error) {
	if cfg.Type == config.SourceRTSP && cfg.RTSPTransport != "" {
		if err := os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "rtsp_transport;"+cfg.RTSPTransport); err != nil {
			return nil, fmt.Errorf("setting rtsp transport hint: %w", err)
		}
	}
	capture, err := gocv.OpenVideoCapture(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("opening source %q: %w", cfg.URI, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("source %q did not open", cfg.URI)
	}

	s := &GoCVSource{
		sourceType: cfg.Type,
		capture:    capture,
		start:      time.Now(),
	}

	if cfg.Type == config.SourceFile {
		fps := capture.Get(gocv.VideoCaptureFPS)
		if fps > 0 {
			s.frameInterval = time.Duration(float64(time.Second) / fps)
		}
	}

	return s, nil
}

// Read captures the next frame. For a file source it sleeps as needed to
// pace emission to the source's native rate; for RTSP it returns as soon as
// a frame arrives, paced only by network delivery.
func (s *GoCVSource) Read() (Frame, bool, error) {
	if s.frameInterval > 0 {
		elapsed := time.Since(s.lastEmit)
		if s.lastEmit.IsZero() {
			elapsed = s.frameInterval
		}
		if wait := s.frameInterval - elapsed; wait > 0 {
			time.Sleep(wait)
		}
	}

	mat := gocv.NewMat()
	ok := s.capture.Read(&mat)
	if !ok {
		mat.Close()
		if s.sourceType == config.SourceFile {
			return Frame{}, false, nil
		}
		return Frame{}, false, ErrTransport
	}
	if mat.Empty() {
		mat.Close()
		if s.sourceType == config.SourceFile {
			return Frame{}, false, nil
		}
		return Frame{}, false, ErrTransport
	}

	s.lastEmit = time.Now()
	return frame.Frame{
		CapturedAt: time.Since(s.start).Seconds(),
		Mat:        mat,
	}, true, nil
}

// Close releases the underlying capture device.
func (s *GoCVSource) Close() error {
	return s.capture.Close()
}
