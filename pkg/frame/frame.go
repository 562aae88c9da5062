// Package frame defines the unit of work that flows through every stage of
// the pipeline: a timestamped BGR image.
package frame

import "gocv.io/x/gocv"

// Frame is a single decoded image with its monotonic capture timestamp, in
// seconds. Mat is shared by reference across stages; a stage that must
// retain a Frame past the point where its producer may reuse or close the
// underlying Mat must call Clone first.
type Frame struct {
	CapturedAt float64
	Mat        gocv.Mat
}

// Clone returns a Frame with an independent copy of the pixel buffer. Use
// this whenever a Frame crosses into a buffer with a lifetime longer than
// the one-shot queue hand-off (ring buffer, event recording list).
func (f Frame) Clone() Frame {
	return Frame{CapturedAt: f.CapturedAt, Mat: f.Mat.Clone()}
}

// Close releases the underlying Mat. Safe to call on a zero-value Frame.
func (f Frame) Close() error {
	if f.Mat.Ptr() == nil {
		return nil
	}
	return f.Mat.Close()
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return f.Mat.Ptr() == nil || f.Mat.Empty()
}
