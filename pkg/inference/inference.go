// Package inference runs the per-frame detection/tracking/Re-ID pipeline
// and publishes its output to shared state.
package inference

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/rs/zerolog"

	"github.com/sentrywatch/sentrywatch/pkg/decoder"
	"github.com/sentrywatch/sentrywatch/pkg/frame"
	"github.com/sentrywatch/sentrywatch/pkg/geometry"
	"github.com/sentrywatch/sentrywatch/pkg/reid"
	"github.com/sentrywatch/sentrywatch/pkg/sharedstate"
	"github.com/sentrywatch/sentrywatch/pkg/track"
)

// Detector filters a frame to person detections. Class filtering, the
// confidence floor, and the max-detections cap are the detector's own
// contract; the stage additionally enforces the confidence floor and the
// cap defensively. Class filtering is left entirely to the Detector.
type Detector interface {
	Detect(mat gocv.Mat) ([]track.Detection, error)
}

// Tracker assigns stable ids to detections across frames within one
// session.
type Tracker interface {
	Update(detections []track.Detection) ([]track.Track, error)
}

// ReIDExtractor produces a feature vector for one track's crop.
type ReIDExtractor interface {
	Extract(crop gocv.Mat) ([]float32, error)
}

// MinConfidence and MaxDetections are the defensive bounds the stage applies
// to whatever a Detector returns.
const (
	MinConfidence = 0.4
	MaxDetections = 10
	// ReIDInterval is the per-frame cadence at which Re-ID features are
	// extracted: every ReIDInterval-th frame only.
	ReIDInterval = 5
)

// TrackerFactory builds a fresh Tracker for a new session. It is called once
// at startup and again every time the event-ended flag is observed set.
type TrackerFactory func() (Tracker, error)

// Stage runs the per-frame detection/tracking/Re-ID pipeline against frames
// pulled from a decoder.FrameQueue, publishing every result to a
// sharedstate.State.
type Stage struct {
	detector      Detector
	reidExtractor ReIDExtractor
	newTracker    TrackerFactory
	tracker       Tracker

	state *sharedstate.State
	log   zerolog.Logger

	analysisWidth  int
	analysisHeight int
	roi            geometry.Polygon
	roiEnabled     bool

	frameIndex uint64
	k1, k2     int
}

// Config bundles Stage's construction parameters.
type Config struct {
	Detector       Detector
	ReIDExtractor  ReIDExtractor
	NewTracker     TrackerFactory
	State          *sharedstate.State
	AnalysisWidth  int
	AnalysisHeight int
	ROI            geometry.Polygon
	ROIEnabled     bool
	Log            zerolog.Logger
}

// New constructs a Stage and creates its initial tracker session. A tracker
// creation failure here is fatal.
func New(cfg Config) (*Stage, error) {
	tr, err := cfg.NewTracker()
	if err != nil {
		return nil, fmt.Errorf("inference: creating initial tracker session: %w", err)
	}

	return &Stage{
		detector:       cfg.Detector,
		reidExtractor:  cfg.ReIDExtractor,
		newTracker:     cfg.NewTracker,
		tracker:        tr,
		state:          cfg.State,
		log:            cfg.Log.With().Str("component", "inference").Logger(),
		analysisWidth:  cfg.AnalysisWidth,
		analysisHeight: cfg.AnalysisHeight,
		roi:            cfg.ROI,
		roiEnabled:     cfg.ROIEnabled,
		k1:             reid.DefaultK1,
		k2:             reid.DefaultK2,
	}, nil
}

// Run consumes frames from q until it is closed and drained or stop fires.
// A Pop timeout is not meaningful to this stage and is simply retried.
// Per-frame errors are logged and the loop continues with the next frame;
// a tracker recreation failure is fatal.
func (s *Stage) Run(q *decoder.FrameQueue, stop <-chan struct{}) error {
	for {
		f, ok, timedOut := q.Pop(stop)
		if timedOut {
			continue
		}
		if !ok {
			return nil
		}
		if err := s.processFrame(f); err != nil {
			if _, fatal := err.(fatalError); fatal {
				return err
			}
			s.log.Error().Err(err).Msg("inference: per-frame error, continuing")
		}
	}
}

type fatalError struct{ error }

func (s *Stage) processFrame(f frame.Frame) error {
	defer f.Close()

	// Tracker session reset.
	if s.state.EventEnded() {
		tr, err := s.newTracker()
		if err != nil {
			return fatalError{fmt.Errorf("inference: recreating tracker session: %w", err)}
		}
		s.tracker = tr
		s.state.SetEventEnded(false)
	}

	// Resize to analysis resolution, bilinear.
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(f.Mat, &resized, image.Pt(s.analysisWidth, s.analysisHeight), 0, 0, gocv.InterpolationLinear)

	// Detect, enforce confidence floor and detection cap defensively.
	detections, err := s.detector.Detect(resized)
	if err != nil {
		return fmt.Errorf("inference: detect: %w", err)
	}
	detections = filterDetections(detections)

	// Tracker update.
	tracks, err := s.tracker.Update(detections)
	if err != nil {
		return fmt.Errorf("inference: tracker update: %w", err)
	}

	// ROI membership by bottom-center point.
	roiMembership := make(map[int]bool, len(tracks))
	for _, tr := range tracks {
		if !s.roiEnabled {
			roiMembership[tr.ID] = false
			continue
		}
		x, y := tr.BottomCenter()
		roiMembership[tr.ID] = s.roi.Contains(geometry.Point{X: x, Y: y})
	}

	// Re-ID every ReIDInterval-th frame.
	var reidFeatures map[int][]float32
	if s.reidExtractor != nil && s.frameIndex%ReIDInterval == 0 {
		reidFeatures = s.extractReID(resized, tracks)
	}
	s.frameIndex++

	// Atomic publish.
	personPresent := len(tracks) > 0
	s.state.Publish(s.frameIndex, personPresent, tracks, roiMembership, reidFeatures)

	return nil
}

func filterDetections(in []track.Detection) []track.Detection {
	out := make([]track.Detection, 0, len(in))
	for _, d := range in {
		if d.Confidence >= MinConfidence {
			out = append(out, d)
		}
	}
	if len(out) > MaxDetections {
		out = out[:MaxDetections]
	}
	return out
}

func (s *Stage) extractReID(mat gocv.Mat, tracks []track.Track) map[int][]float32 {
	raw := make(map[int][]float32, len(tracks))
	for _, tr := range tracks {
		box := tr.Box.Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows()))
		if box.Empty() {
			continue
		}
		crop := mat.Region(box)
		feature, err := s.reidExtractor.Extract(crop)
		crop.Close()
		if err != nil {
			s.log.Error().Err(err).Int("track_id", tr.ID).Msg("inference: re-id extraction failed")
			continue
		}
		if len(feature) == 0 {
			continue
		}
		raw[tr.ID] = feature
	}
	if len(raw) == 0 {
		return nil
	}
	return reid.CentralizeMutualKNN(raw, s.k1, s.k2)
}
