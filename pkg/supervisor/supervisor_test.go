package supervisor

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/decoder"
	"github.com/sentrywatch/sentrywatch/pkg/encoder"
	"github.com/sentrywatch/sentrywatch/pkg/eventsm"
	"github.com/sentrywatch/sentrywatch/pkg/frame"
	"github.com/sentrywatch/sentrywatch/pkg/inference"
	"github.com/sentrywatch/sentrywatch/pkg/inference/fakes"
	"github.com/sentrywatch/sentrywatch/pkg/notifier"
	"github.com/sentrywatch/sentrywatch/pkg/store"
	"github.com/sentrywatch/sentrywatch/pkg/track"
)

// emptySource never produces a frame; it is only used to satisfy
// Supervisor's construction requirements for tests that exercise
// processEvent directly rather than the full concurrent Run loop.
type emptySource struct{}

func (emptySource) Read() (decoder.Frame, bool, error) { return decoder.Frame{}, false, nil }
func (emptySource) Close() error                       { return nil }

func newTestSupervisor(t *testing.T, notify notifier.Notifier) (*Supervisor, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Source.URI = "fake://test"
	cfg.ReID.PersonMatchThreshold = 0.95
	cfg.Encoding.OutputDirectory = dir
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")

	sup, err := New(Config{
		Cfg:        cfg,
		Behavior:   &config.Behavior{},
		Source:     emptySource{},
		Detector:   &fakes.Detector{},
		ReID:       &fakes.ReIDExtractor{Dimension: 4},
		NewTracker: func() (inference.Tracker, error) { return fakes.NewTracker() },
		Store:      st,
		Notifier:   notify,
		NewEncoder: func(path string, _ eventsm.Recording) (encoder.VideoEncoder, error) {
			return encoder.NewFakeEncoder(path), nil
		},
		Log: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("constructing supervisor: %v", err)
	}
	return sup, st, dir
}

func testRecording(t0, t1 float64, tracks []track.Track, features [][]float32) eventsm.Recording {
	return eventsm.Recording{
		Type:      eventsm.EventPersonDetected,
		StartTime: t0,
		EndTime:   t1,
		Frames: []eventsm.RecordedFrame{
			{Frame: frame.Frame{CapturedAt: t0, Mat: gocv.NewMat()}, Tracks: tracks},
			{Frame: frame.Frame{CapturedAt: t1, Mat: gocv.NewMat()}, Tracks: tracks},
		},
		Features: features,
	}
}

func TestRunWithNoFramesProducesNothing(t *testing.T) {
	rec := &notifier.RecordingNotifier{}
	sup, st, dir := newTestSupervisor(t, rec)

	if err := sup.Run(); err != nil {
		t.Fatalf("unexpected error from an immediately-exhausted source: %v", err)
	}

	persons, err := st.AllPersonsWithFeatures()
	if err != nil {
		t.Fatalf("loading persons: %v", err)
	}
	if len(persons) != 0 {
		t.Errorf("expected no persons, got %d", len(persons))
	}
	events, err := st.RecentEvents(10)
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no event rows, got %d", len(events))
	}
	var eventCount int
	// The output directory must hold only the store's own files.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading output dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".mp4" {
			eventCount++
		}
	}
	if eventCount != 0 {
		t.Errorf("expected no video files, got %d", eventCount)
	}
	if len(rec.Messages) != 0 {
		t.Errorf("expected no notifications, got %d", len(rec.Messages))
	}
}

func TestProcessEventPersistsAndNotifiesOnSuccess(t *testing.T) {
	rec := &notifier.RecordingNotifier{}
	sup, st, _ := newTestSupervisor(t, rec)

	tracks := []track.Track{{ID: 1, Box: image.Rect(0, 0, 10, 10), Confidence: 0.9}}
	sup.processEvent(testRecording(0, 1, tracks, [][]float32{{1, 0, 0}}))

	persons, err := st.AllPersonsWithFeatures()
	if err != nil {
		t.Fatalf("loading persons: %v", err)
	}
	if len(persons) != 1 {
		t.Fatalf("expected 1 person created, got %d", len(persons))
	}
	if len(rec.Messages) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(rec.Messages))
	}
}

func TestProcessEventSkipsPersistenceOnEncoderFailure(t *testing.T) {
	rec := &notifier.RecordingNotifier{}
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	cfg := config.Default()
	cfg.Source.URI = "fake://test"
	cfg.ReID.PersonMatchThreshold = 0.95
	cfg.Encoding.OutputDirectory = dir

	sup, err := New(Config{
		Cfg:        cfg,
		Behavior:   &config.Behavior{},
		Source:     emptySource{},
		Detector:   &fakes.Detector{},
		ReID:       &fakes.ReIDExtractor{Dimension: 4},
		NewTracker: func() (inference.Tracker, error) { return fakes.NewTracker() },
		Store:      st,
		Notifier:   rec,
		NewEncoder: func(path string, _ eventsm.Recording) (encoder.VideoEncoder, error) {
			fe := encoder.NewFakeEncoder(path)
			fe.FailAfter = 0
			return fe, nil
		},
		Log: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("constructing supervisor: %v", err)
	}

	tracks := []track.Track{{ID: 1, Box: image.Rect(0, 0, 10, 10), Confidence: 0.9}}
	sup.processEvent(testRecording(0, 1, tracks, [][]float32{{1, 0, 0}}))

	persons, err := st.AllPersonsWithFeatures()
	if err != nil {
		t.Fatalf("loading persons: %v", err)
	}
	if len(persons) != 0 {
		t.Errorf("expected no person committed when the encoder fails, got %d", len(persons))
	}
	if len(rec.Messages) != 0 {
		t.Errorf("expected no notification when the encoder fails, got %d", len(rec.Messages))
	}
}

func TestProcessEventPersistsEventWithNullPersonOnEmptyFeatures(t *testing.T) {
	rec := &notifier.RecordingNotifier{}
	sup, st, _ := newTestSupervisor(t, rec)

	tracks := []track.Track{{ID: 1, Box: image.Rect(0, 0, 10, 10), Confidence: 0.9}}
	sup.processEvent(testRecording(0, 1, tracks, nil))

	persons, err := st.AllPersonsWithFeatures()
	if err != nil {
		t.Fatalf("loading persons: %v", err)
	}
	if len(persons) != 0 {
		t.Errorf("expected no person created without re-id features, got %d", len(persons))
	}
	events, err := st.RecentEvents(10)
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event row, got %d", len(events))
	}
	if events[0].PersonID.Valid {
		t.Errorf("expected a null person_id on the event row, got %d", events[0].PersonID.Int64)
	}
	if len(rec.Messages) != 1 {
		t.Errorf("expected the event to still be notified even with no person id, got %d messages", len(rec.Messages))
	}
}
