// Package encoder consumes a finalized eventsm.Recording and produces a
// compressed video file: per-frame overlay drawing, fps decimation, and
// streamed compression to a container file.
package encoder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/eventsm"
)

// VideoEncoder writes frames one at a time, then finishes and returns the
// resulting path. A concrete implementation shells out to (or links) a
// media library; tests use an in-memory fake.
type VideoEncoder interface {
	WriteFrame(f AnnotatedFrame) error
	Finish() (path string, err error)
}

// TrackPriority classifies a track's overlay color at a given frame: alert
// takes precedence over in-ROI, which takes precedence over normal.
type TrackPriority int

const (
	PriorityNormal TrackPriority = iota
	PriorityInROI
	PriorityAlert
)

// AnnotatedFrame bundles one recorded frame with everything the overlay
// needs to draw it: tracks with their resolved priority, the (precompiled)
// ROI/tripwire geometry to render, and an optional pre/post-event label.
type AnnotatedFrame struct {
	Frame         eventsm.RecordedFrame
	TrackPriority map[int]TrackPriority
	ContextLabel  string // "" when the frame is within the event proper.
}

// DecimationStep returns the frame-skip step for FPS decimation: the
// nearest integer to sourceFPS/targetFPS, floored at 1.
func DecimationStep(sourceFPS, targetFPS float64) int {
	if targetFPS <= 0 {
		return 1
	}
	step := int(math.Round(sourceFPS / targetFPS))
	if step < 1 {
		step = 1
	}
	return step
}

// ObservedFPS computes the source recording's actual frame rate:
// frame count over time span.
func ObservedFPS(frames []eventsm.RecordedFrame) float64 {
	if len(frames) < 2 {
		return 0
	}
	span := frames[len(frames)-1].Frame.CapturedAt - frames[0].Frame.CapturedAt
	if span <= 0 {
		return 0
	}
	return float64(len(frames)) / span
}

// OutputFPS resolves the rate the output file is written at. In source
// mode it is the observed fps unchanged; in target mode it is the observed
// fps divided by the decimation step, which lands near (not necessarily
// exactly on) targetFPS. A recording too short or too degenerate to
// measure falls back to targetFPS.
func OutputFPS(mode config.FPSMode, sourceFPS, targetFPS float64) float64 {
	if sourceFPS <= 0 {
		return targetFPS
	}
	if mode == config.FPSModeSource {
		return sourceFPS
	}
	return sourceFPS / float64(DecimationStep(sourceFPS, targetFPS))
}

// Annotate builds the per-frame overlay metadata for a whole recording:
// track priority resolution (alert > in-ROI > normal) and pre/post-event
// context labels for frames outside [eventStart, eventEnd].
func Annotate(rec eventsm.Recording) []AnnotatedFrame {
	out := make([]AnnotatedFrame, len(rec.Frames))
	for i, rf := range rec.Frames {
		priorities := make(map[int]TrackPriority, len(rf.Tracks))
		for _, tr := range rf.Tracks {
			p := PriorityNormal
			if rf.ROIMembership[tr.ID] {
				p = PriorityInROI
			}
			if rf.ActiveAlertIDs[tr.ID] {
				p = PriorityAlert
			}
			priorities[tr.ID] = p
		}

		label := ""
		switch {
		case rf.Frame.CapturedAt < rec.StartTime:
			label = fmt.Sprintf("pre-event %.0fs", rec.StartTime-rf.Frame.CapturedAt)
		case rf.Frame.CapturedAt > rec.EndTime:
			label = fmt.Sprintf("post-event %.0fs", rf.Frame.CapturedAt-rec.EndTime)
		}

		out[i] = AnnotatedFrame{Frame: rf, TrackPriority: priorities, ContextLabel: label}
	}
	return out
}

// WriteRecording decimates and writes every frame of a recording to enc,
// then finalizes the output file. On a write failure, enc's Finish is still
// called so the partial output is discarded by enc's own cleanup, and this
// function returns the write error wrapped so callers can treat it as a
// dropped event (no Re-ID commit, no Event row, no notification).
func WriteRecording(enc VideoEncoder, rec eventsm.Recording, targetFPS float64, fpsMode config.FPSMode) (string, error) {
	annotated := Annotate(rec)

	sourceFPS := ObservedFPS(rec.Frames)
	step := 1
	if fpsMode == config.FPSModeTarget && sourceFPS > 0 {
		step = DecimationStep(sourceFPS, targetFPS)
	}

	for i, af := range annotated {
		if i%step != 0 {
			continue
		}
		if err := enc.WriteFrame(af); err != nil {
			_, _ = enc.Finish()
			return "", fmt.Errorf("encoder: writing frame %d: %w", i, err)
		}
	}

	path, err := enc.Finish()
	if err != nil {
		return "", fmt.Errorf("encoder: finishing output: %w", err)
	}
	return path, nil
}

// GenerateFilename builds an output path following
// <event_type>_<YYYY-MM-DD_HH-MM-SS>[-N].mp4, resolving same-second
// collisions with a counter suffix.
func GenerateFilename(dir string, eventType string, now time.Time) (string, error) {
	base := fmt.Sprintf("%s_%s", eventType, now.Format("2006-01-02_15-04-05"))
	candidate := filepath.Join(dir, base+".mp4")
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", fmt.Errorf("encoder: stat %q: %w", candidate, err)
	}

	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d.mp4", base, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("encoder: stat %q: %w", candidate, err)
		}
	}
}
