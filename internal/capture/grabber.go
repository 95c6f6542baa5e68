// Package capture acquires frames from a camera device or a video file.
package capture

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"fieldcam/internal/frame"
)

// DeviceConfig describes the live camera input.
type DeviceConfig struct {
	Index     int
	Width     int
	Height    int
	Framerate float64
}

// Grabber reads frames from a gocv.VideoCapture. It is owned by the capture
// stage and is not safe for concurrent use.
type Grabber struct {
	cap      *gocv.VideoCapture
	log      *zap.Logger
	seq      int64
	fromFile bool
}

// Open opens the camera at cfg.Index and applies the requested geometry and
// framerate. Device nodes can be briefly unavailable right after boot on
// embedded deployments, so opening retries with exponential backoff.
func Open(cfg DeviceConfig, log *zap.Logger) (*Grabber, error) {
	if log == nil {
		log = zap.L()
	}
	log = log.Named("grabber")

	var cap *gocv.VideoCapture
	op := func() error {
		c, err := gocv.OpenVideoCapture(cfg.Index)
		if err != nil {
			log.Warn("opening camera failed, retrying",
				zap.Int("index", cfg.Index), zap.Error(err))
			return err
		}
		cap = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", cfg.Index, err)
	}

	if cfg.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.Framerate > 0 {
		cap.Set(gocv.VideoCaptureFPS, cfg.Framerate)
	}

	return &Grabber{cap: cap, log: log}, nil
}

// OpenFile opens a video file as the frame source. Used for offline analysis
// of previously recorded footage.
func OpenFile(path string, log *zap.Logger) (*Grabber, error) {
	if log == nil {
		log = zap.L()
	}
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file %q: %w", path, err)
	}
	return &Grabber{cap: cap, log: log.Named("grabber"), fromFile: true}, nil
}

// Grab acquires the next frame. A read failure from a live camera is a
// transient error and the caller retries. A read failure from a file means
// the input is exhausted: an empty frame is returned so the exhaustion
// travels downstream to the analyzer, which turns it into the terminal
// condition.
func (g *Grabber) Grab() (frame.Frame, error) {
	mat := gocv.NewMat()
	if ok := g.cap.Read(&mat); !ok {
		if g.fromFile {
			g.seq++
			return frame.Frame{Mat: mat, Time: time.Now(), Seq: g.seq}, nil
		}
		mat.Close()
		return frame.Frame{}, fmt.Errorf("unable to read frame from camera")
	}

	g.seq++
	return frame.Frame{Mat: mat, Time: time.Now(), Seq: g.seq}, nil
}

// Framerate reports the source framerate as seen by the capture backend.
func (g *Grabber) Framerate() float64 {
	return g.cap.Get(gocv.VideoCaptureFPS)
}

// FrameSize reports the source frame geometry.
func (g *Grabber) FrameSize() (width, height int) {
	return int(g.cap.Get(gocv.VideoCaptureFrameWidth)),
		int(g.cap.Get(gocv.VideoCaptureFrameHeight))
}

// Close releases the capture device.
func (g *Grabber) Close() error {
	return g.cap.Close()
}
