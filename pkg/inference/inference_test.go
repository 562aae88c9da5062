package inference

import (
	"image"
	"testing"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/sentrywatch/sentrywatch/pkg/decoder"
	"github.com/sentrywatch/sentrywatch/pkg/frame"
	"github.com/sentrywatch/sentrywatch/pkg/geometry"
	"github.com/sentrywatch/sentrywatch/pkg/inference/fakes"
	"github.com/sentrywatch/sentrywatch/pkg/sharedstate"
	"github.com/sentrywatch/sentrywatch/pkg/track"
)

func newTrackerFactory() TrackerFactory {
	return func() (Tracker, error) { return fakes.NewTracker() }
}

func testMatFrame(t float64, w, h int) frame.Frame {
	return frame.Frame{CapturedAt: t, Mat: gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)}
}

func TestStagePublishesTracksAndROIMembership(t *testing.T) {
	det := &fakes.Detector{
		Sequence: [][]track.Detection{
			{{Box: image.Rect(10, 10, 20, 20), Confidence: 0.9}},
		},
	}

	var state sharedstate.State
	roi := geometry.Polygon{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}

	stage, err := New(Config{
		Detector:       det,
		NewTracker:     newTrackerFactory(),
		State:          &state,
		AnalysisWidth:  64,
		AnalysisHeight: 64,
		ROI:            roi,
		ROIEnabled:     true,
		Log:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing stage: %v", err)
	}

	f := testMatFrame(0, 128, 128)
	if err := stage.processFrame(f); err != nil {
		t.Fatalf("unexpected error processing frame: %v", err)
	}

	snap := state.Snapshot()
	if !snap.PersonPresent {
		t.Error("expected person present after a detection")
	}
	if len(snap.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(snap.Tracks))
	}
	if !snap.ROIMembership[snap.Tracks[0].ID] {
		t.Error("expected track inside ROI to be marked as a member")
	}
}

func TestStageResetsTrackerOnEventEndedFlag(t *testing.T) {
	det := &fakes.Detector{
		Sequence: [][]track.Detection{
			{{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9}},
		},
	}
	var state sharedstate.State

	stage, err := New(Config{
		Detector:       det,
		NewTracker:     newTrackerFactory(),
		State:          &state,
		AnalysisWidth:  64,
		AnalysisHeight: 64,
		Log:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f1 := testMatFrame(0, 64, 64)
	if err := stage.processFrame(f1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstID := state.Snapshot().Tracks[0].ID

	state.SetEventEnded(true)

	f2 := testMatFrame(1, 64, 64)
	if err := stage.processFrame(f2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.EventEnded() {
		t.Error("expected event_ended_flag to be cleared after reset")
	}
	secondID := state.Snapshot().Tracks[0].ID
	if secondID != firstID {
		t.Errorf("fake tracker assigns ids starting at 1 per session; expected %d, got %d", firstID, secondID)
	}
}

func TestFilterDetectionsEnforcesConfidenceAndCap(t *testing.T) {
	in := make([]track.Detection, 0, 15)
	for i := 0; i < 15; i++ {
		in = append(in, track.Detection{Box: image.Rect(0, 0, 1, 1), Confidence: 0.9})
	}
	in = append(in, track.Detection{Box: image.Rect(0, 0, 1, 1), Confidence: 0.1})

	out := filterDetections(in)
	if len(out) != MaxDetections {
		t.Errorf("expected detections capped at %d, got %d", MaxDetections, len(out))
	}
	for _, d := range out {
		if d.Confidence < MinConfidence {
			t.Errorf("expected all surviving detections to meet confidence floor, got %f", d.Confidence)
		}
	}
}

func TestStageSkipsReIDOutsideInterval(t *testing.T) {
	det := &fakes.Detector{
		Sequence: [][]track.Detection{
			{{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9}},
		},
	}
	var state sharedstate.State

	stage, err := New(Config{
		Detector:       det,
		ReIDExtractor:  &fakes.ReIDExtractor{},
		NewTracker:     newTrackerFactory(),
		State:          &state,
		AnalysisWidth:  64,
		AnalysisHeight: 64,
		Log:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Frame 0 hits the interval (0 % 5 == 0); frame 1 does not.
	if err := stage.processFrame(testMatFrame(0, 64, 64)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstFeatures := state.Snapshot().ReIDFeatures

	if err := stage.processFrame(testMatFrame(1, 64, 64)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secondFeatures := state.Snapshot().ReIDFeatures

	if len(firstFeatures) == 0 {
		t.Error("expected re-id features to be published on the interval frame")
	}
	if secondFeatures != nil {
		t.Error("expected no re-id features published off the interval")
	}
}

func TestRunDrainsQueueUntilClosed(t *testing.T) {
	det := &fakes.Detector{
		Sequence: [][]track.Detection{
			{{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9}},
		},
	}
	var state sharedstate.State

	stage, err := New(Config{
		Detector:       det,
		NewTracker:     newTrackerFactory(),
		State:          &state,
		AnalysisWidth:  64,
		AnalysisHeight: 64,
		Log:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := decoder.NewFrameQueue(4, decoder.DropOldest)
	q.Offer(testMatFrame(0, 64, 64))
	q.Offer(testMatFrame(1, 64, 64))
	q.Close()

	stop := make(chan struct{})
	if err := stage.Run(q, stop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !state.Snapshot().PersonPresent {
		t.Error("expected the last processed frame to report a person present")
	}
}
