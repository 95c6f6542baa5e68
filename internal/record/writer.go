// Package record appends motion-flagged frames to the output video file.
package record

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"fieldcam/internal/frame"
)

// Config describes the output video container.
type Config struct {
	// Directory receives the output file; created if missing.
	Directory string
	// FilenameLayout is a time layout used to derive the file name, e.g.
	// "2006-01-02_15-04-05". The ".mkv" extension is appended.
	FilenameLayout string
	// Codec is the FourCC of the video codec, e.g. "XVID".
	Codec string
	// Framerate and geometry of the container; must match incoming frames.
	Framerate float64
	Width     int
	Height    int
	// Overlay draws the capture date/time on each written frame.
	Overlay bool
}

// OutputPath resolves the output file path for the given start time.
func (c Config) OutputPath(now time.Time) string {
	layout := c.FilenameLayout
	if layout == "" {
		layout = "2006-01-02_15-04-05"
	}
	return filepath.Join(c.Directory, now.Format(layout)+".mkv")
}

// Writer owns the output container file: the file is opened at construction
// and finalized by Close. It is owned by the recording stage and is not safe
// for concurrent use.
type Writer struct {
	cfg  Config
	path string
	vw   *gocv.VideoWriter
	log  *zap.Logger
}

// NewWriter opens the output container for the session starting at now.
func NewWriter(cfg Config, now time.Time, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.L()
	}
	if cfg.Codec == "" {
		cfg.Codec = "XVID"
	}
	if cfg.Framerate <= 0 {
		cfg.Framerate = 25
	}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	path := cfg.OutputPath(now)
	vw, err := gocv.VideoWriterFile(path, cfg.Codec, cfg.Framerate, cfg.Width, cfg.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer for %q: %w", path, err)
	}

	return &Writer{cfg: cfg, path: path, vw: vw, log: log.Named("writer")}, nil
}

// Path returns the resolved output file path.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one frame to the container, drawing the timestamp overlay
// first when enabled. The frame stays owned by the caller.
func (w *Writer) Append(f frame.Frame) error {
	if f.Empty() {
		return fmt.Errorf("refusing to write empty frame")
	}

	if w.cfg.Overlay {
		drawTimestamp(&f.Mat, f.Time)
	}

	if err := w.vw.Write(f.Mat); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
	}
	return nil
}

// Close finalizes the container file.
func (w *Writer) Close() error {
	return w.vw.Close()
}

// drawTimestamp prints the capture date/time in the top-left corner, white
// text over a dark band for legibility on any background.
func drawTimestamp(mat *gocv.Mat, t time.Time) {
	text := t.Format("2006-01-02 15:04:05")
	origin := image.Pt(10, 30)
	gocv.PutText(mat, text, origin, gocv.FontHersheySimplex, 0.8,
		color.RGBA{A: 255}, 4)
	gocv.PutText(mat, text, origin, gocv.FontHersheySimplex, 0.8,
		color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)
}
