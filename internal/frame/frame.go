// Package frame defines the image unit that flows between pipeline stages.
package frame

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image plus its capture timestamp. A Frame is owned
// by exactly one stage at a time: whoever holds it must either pass it on a
// channel or Close it. Frames are never shared between stages.
type Frame struct {
	Mat  gocv.Mat
	Time time.Time
	Seq  int64
}

// Clone returns an independent deep copy. The duplicate produced for the
// streaming path must not share pixel storage with the original, so the
// detection and streaming stages never touch the same buffer.
func (f Frame) Clone() Frame {
	return Frame{
		Mat:  f.Mat.Clone(),
		Time: f.Time,
		Seq:  f.Seq,
	}
}

// Empty reports whether the frame carries no image data. An empty frame is
// how an exhausted input source announces itself downstream.
func (f Frame) Empty() bool {
	return f.Mat.Empty()
}

// Close releases the underlying pixel buffer.
func (f Frame) Close() error {
	return f.Mat.Close()
}
