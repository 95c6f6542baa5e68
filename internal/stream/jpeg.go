package stream

import (
	"fmt"

	"gocv.io/x/gocv"

	"fieldcam/internal/frame"
)

// JPEGEncoder compresses frames with the OpenCV JPEG codec.
type JPEGEncoder struct{}

// Encode returns the frame as JPEG bytes. The returned slice is an
// independent copy; the native buffer is released before returning.
func (JPEGEncoder) Encode(f frame.Frame) ([]byte, error) {
	if f.Empty() {
		return nil, fmt.Errorf("cannot encode empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.Mat)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
