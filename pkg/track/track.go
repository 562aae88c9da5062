// Package track defines detection and track types shared by the inference
// stage, the event state machine, and the encoder's overlay drawing.
package track

import "image"

// Detection is a single detector output for one frame: a class-filtered,
// confidence-scored bounding box in analysis-resolution pixel coordinates.
type Detection struct {
	Box        image.Rectangle
	Confidence float32
}

// Track is a detection tagged with a stable identifier assigned by the
// multi-object tracker. IDs are stable across frames within one tracker
// session and must not be reused within that session.
type Track struct {
	ID         int
	Box        image.Rectangle
	Confidence float32
}

// BottomCenter returns the point used for ROI membership and tripwire
// crossing tests: the horizontal midpoint of the box at its bottom edge.
func (t Track) BottomCenter() (x, y float64) {
	x = float64(t.Box.Min.X+t.Box.Max.X) / 2
	y = float64(t.Box.Max.Y)
	return x, y
}
