// Package motion implements motion analysis via MOG2 background subtraction.
package motion

import (
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"fieldcam/internal/frame"
	"fieldcam/internal/pipeline"
)

// Config tunes the background-subtraction analysis.
type Config struct {
	// BlurSize is the Gaussian kernel size applied before subtraction.
	BlurSize int
	// Threshold binarizes the foreground mask.
	Threshold float32
	// DilationSize is the kernel size of the dilation pass.
	DilationSize int
	// MinimumArea is the smallest contour area (px) counted as motion.
	MinimumArea float64
}

func DefaultConfig() Config {
	return Config{
		BlurSize:     21,
		Threshold:    25,
		DilationSize: 3,
		MinimumArea:  3000,
	}
}

// Stats summarizes analysis activity since the detector was created.
type Stats struct {
	FramesProcessed int64
	MotionEvents    int64
	LastMotionTime  time.Time
	MaxMotionArea   float64
}

// Detector analyzes frames for motion. It keeps the MOG2 background model
// between calls and is owned by the detection stage; it is not safe for
// concurrent use.
type Detector struct {
	cfg    Config
	mog2   gocv.BackgroundSubtractorMOG2
	kernel gocv.Mat
	log    *zap.Logger
	stats  Stats
}

func NewDetector(cfg Config, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.L()
	}
	if cfg.BlurSize <= 0 {
		cfg.BlurSize = DefaultConfig().BlurSize
	}
	if cfg.DilationSize <= 0 {
		cfg.DilationSize = DefaultConfig().DilationSize
	}
	if cfg.MinimumArea <= 0 {
		cfg.MinimumArea = DefaultConfig().MinimumArea
	}

	return &Detector{
		cfg:  cfg,
		mog2: gocv.NewBackgroundSubtractorMOG2(),
		kernel: gocv.GetStructuringElement(gocv.MorphRect,
			image.Pt(cfg.DilationSize, cfg.DilationSize)),
		log: log.Named("motion"),
	}
}

// Analyze reports whether the frame contains motion. An empty frame means
// the input source is exhausted and the returned error wraps
// pipeline.ErrNoMoreFrames; no further calls are useful after that.
func (d *Detector) Analyze(f frame.Frame) (bool, error) {
	if f.Empty() {
		return false, fmt.Errorf("empty frame received: %w", pipeline.ErrNoMoreFrames)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if f.Mat.Channels() > 1 {
		gocv.CvtColor(f.Mat, &gray, gocv.ColorBGRToGray)
	} else {
		f.Mat.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(d.cfg.BlurSize, d.cfg.BlurSize), 0, 0, gocv.BorderDefault)

	fgMask := gocv.NewMat()
	defer fgMask.Close()
	d.mog2.Apply(blurred, &fgMask)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(fgMask, &thresh, d.cfg.Threshold, 255, gocv.ThresholdBinary)

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(thresh, &dilated, d.kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var maxArea float64
	motion := false
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
		}
		if area >= d.cfg.MinimumArea {
			motion = true
		}
	}

	d.stats.FramesProcessed++
	if motion {
		d.stats.MotionEvents++
		d.stats.LastMotionTime = f.Time
		if maxArea > d.stats.MaxMotionArea {
			d.stats.MaxMotionArea = maxArea
		}
	}

	return motion, nil
}

// Stats returns a copy of the detector's counters.
func (d *Detector) Stats() Stats {
	return d.stats
}

// Close releases the background model and work buffers.
func (d *Detector) Close() error {
	d.kernel.Close()
	return d.mog2.Close()
}
