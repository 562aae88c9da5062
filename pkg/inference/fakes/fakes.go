// Package fakes provides deterministic, in-memory stand-ins for the
// inference stage's Detector, Tracker, and ReIDExtractor collaborators, so
// the stage is testable without a real detection or Re-ID model.
package fakes

import (
	"gocv.io/x/gocv"

	"github.com/sentrywatch/sentrywatch/pkg/track"
)

// Detector returns a fixed, scripted sequence of detection sets: one call
// to Detect consumes the next entry, and the sequence repeats once
// exhausted.
type Detector struct {
	Sequence [][]track.Detection
	calls    int
}

func (d *Detector) Detect(mat gocv.Mat) ([]track.Detection, error) {
	if len(d.Sequence) == 0 {
		return nil, nil
	}
	out := d.Sequence[d.calls%len(d.Sequence)]
	d.calls++
	return out, nil
}

// Tracker assigns monotonically increasing ids to each detection it sees in
// a call to Update, matching detections to tracks by their slice position.
// This is deliberately simplistic: it exists to exercise the inference
// stage's control flow, not to model real associative tracking.
type Tracker struct {
	nextID int
	ids    []int
}

func NewTracker() (*Tracker, error) {
	return &Tracker{}, nil
}

func (t *Tracker) Update(detections []track.Detection) ([]track.Track, error) {
	for len(t.ids) < len(detections) {
		t.nextID++
		t.ids = append(t.ids, t.nextID)
	}
	out := make([]track.Track, len(detections))
	for i, d := range detections {
		out[i] = track.Track{ID: t.ids[i], Box: d.Box, Confidence: d.Confidence}
	}
	return out, nil
}

// ReIDExtractor returns a fixed-dimension feature vector derived from the
// crop's pixel dimensions, so distinct crops tend to yield distinct vectors
// without needing a real model.
type ReIDExtractor struct {
	Dimension int
}

func (r *ReIDExtractor) Extract(crop gocv.Mat) ([]float32, error) {
	dim := r.Dimension
	if dim <= 0 {
		dim = 4
	}
	feature := make([]float32, dim)
	feature[0] = float32(crop.Cols())
	if dim > 1 {
		feature[1] = float32(crop.Rows())
	}
	return feature, nil
}
