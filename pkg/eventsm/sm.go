// Package eventsm implements the event state machine: pre/post buffering,
// trigger detection, event lifecycle, and duration-based segmentation. It is
// the algorithmic heart of the pipeline.
package eventsm

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/decoder"
	"github.com/sentrywatch/sentrywatch/pkg/frame"
	"github.com/sentrywatch/sentrywatch/pkg/geometry"
	"github.com/sentrywatch/sentrywatch/pkg/sharedstate"
)

// phase is the state machine's coarse state. Cooling is not modeled as a
// distinct phase value: it is derived, each frame, from how long ago the
// last event ended.
type phase int

const (
	phaseIdle phase = iota
	phaseCapturing
)

// Handoff receives a finalized recording, ready for encoding. Implementations
// must not retain Recording.Frames beyond their own processing: the state
// machine does not reuse or close them after handoff.
type Handoff func(Recording) error

// SM is the event state machine driving capture lifecycle. It is
// single-threaded within itself; all cross-stage reads go through
// sharedstate.State, taken only for the duration of a snapshot.
type SM struct {
	behavior *config.Behavior
	ring     *ringBuffer
	handoff  Handoff
	log      zerolog.Logger

	preEventSeconds  float64
	postEventSeconds float64
	cooldownPeriod   float64
	maxEventDuration float64
	ringCapacity     int

	state          phase
	recording      []RecordedFrame
	features       [][]float32
	eventType      EventType
	eventStartTime float64

	hasLastEvent bool
	lastEventEnd float64

	lastPersonSeen    float64
	hasSeenPersonOnce bool
	lastPositions     map[int]geometry.Point
	activeAlertIDs    map[int]bool
	roiEntryTime      map[int]float64
	roiAlerted        map[int]bool
}

// Config bundles the timing parameters and collaborators an SM needs.
type Config struct {
	Behavior         *config.Behavior
	PreEventSeconds  float64
	PostEventSeconds float64
	CooldownPeriod   float64
	MaxEventDuration float64
	TargetFPS        float64
	Handoff          Handoff
	Log              zerolog.Logger
}

// RingBufferCapacity computes ceil(pre_event_seconds * target_fps * 1.5), the
// pre-roll ring buffer's capacity in frames.
func RingBufferCapacity(preEventSeconds, targetFPS float64) int {
	return int(math.Ceil(preEventSeconds * targetFPS * 1.5))
}

// New constructs an idle SM.
func New(cfg Config) *SM {
	capacity := RingBufferCapacity(cfg.PreEventSeconds, cfg.TargetFPS)
	return &SM{
		behavior:         cfg.Behavior,
		ring:             newRingBuffer(capacity),
		handoff:          cfg.Handoff,
		log:              cfg.Log.With().Str("component", "eventsm").Logger(),
		preEventSeconds:  cfg.PreEventSeconds,
		postEventSeconds: cfg.PostEventSeconds,
		cooldownPeriod:   cfg.CooldownPeriod,
		maxEventDuration: cfg.MaxEventDuration,
		ringCapacity:     capacity,
		lastPositions:    map[int]geometry.Point{},
		activeAlertIDs:   map[int]bool{},
		roiEntryTime:     map[int]float64{},
		roiAlerted:       map[int]bool{},
	}
}

// Run consumes frames from q, pairing each with a SharedState snapshot,
// until q is closed and drained or stop fires. A queue poll that times out
// without a frame is treated the same as observed person-absence: if the
// state machine is Capturing, the current event is finalized, but Run keeps
// looping since the queue is still open and more frames may follow. Only a
// closed-and-drained queue or a fired stop signal ends Run.
func (sm *SM) Run(q *decoder.FrameQueue, state *sharedstate.State, stop <-chan struct{}) error {
	var lastNow float64
	for {
		f, ok, timedOut := q.Pop(stop)
		if timedOut {
			if sm.state == phaseCapturing {
				sm.finalize(lastNow, false, sm.eventType)
				state.SetEventEnded(true)
			}
			continue
		}
		if !ok {
			if sm.state == phaseCapturing {
				sm.finalize(lastNow, false, sm.eventType)
				state.SetEventEnded(true)
			}
			return nil
		}
		snap := state.Snapshot()
		sm.step(f, snap, state)
		lastNow = f.CapturedAt
	}
}

func (sm *SM) step(f frame.Frame, snap sharedstate.Snapshot, state *sharedstate.State) {
	now := f.CapturedAt

	triggeredTripwire := sm.updateTripwires(snap, now)
	triggeredDwell := sm.updateDwell(snap, now)

	candidate := EventNone
	switch {
	case triggeredTripwire:
		candidate = EventTripwireAlert
	case triggeredDwell:
		candidate = EventDwellAlert
	case snap.PersonPresent:
		candidate = EventPersonDetected
	}
	triggerFired := triggeredTripwire || triggeredDwell

	rf := RecordedFrame{
		Frame:          f,
		Tracks:         snap.Tracks,
		ROIMembership:  snap.ROIMembership,
		ActiveAlertIDs: copyAlertSet(sm.activeAlertIDs),
	}

	if sm.state == phaseCapturing {
		sm.recording = append(sm.recording, rf)
		for _, feat := range snap.ReIDFeatures {
			sm.features = append(sm.features, feat)
		}
	} else {
		sm.ring.push(rf)
	}

	if sm.state == phaseIdle {
		inCooldown := sm.hasLastEvent && (now-sm.lastEventEnd <= sm.cooldownPeriod)
		if !inCooldown && (triggerFired || snap.PersonPresent) {
			seed := sm.ring.drain()
			sm.recording = seed
			sm.features = nil
			sm.activeAlertIDs = map[int]bool{}
			sm.eventStartTime = now
			sm.eventType = candidate
			if sm.eventType == EventNone {
				sm.eventType = EventPersonDetected
			}
			sm.state = phaseCapturing
		}
	} else {
		if candidate > sm.eventType {
			sm.eventType = candidate
		}

		personAbsentTimeout := !snap.PersonPresent && sm.hasSeenPersonOnce && (now-sm.lastPersonSeen > sm.postEventSeconds)
		durationTimeout := now-sm.eventStartTime > sm.maxEventDuration
		if personAbsentTimeout || durationTimeout {
			sm.finalize(now, durationTimeout, candidate)
			state.SetEventEnded(true)
		}
	}

	if snap.PersonPresent {
		sm.lastPersonSeen = now
		sm.hasSeenPersonOnce = true
	}
}

// finalize hands off the current recording (discarding it if it is too
// short to be meaningful) and transitions back to Idle. If the terminator
// was duration (not person-absence), it immediately re-enters Capturing,
// seeded from the tail of the just-finalized recording, so a long-running
// event is segmented rather than lost.
func (sm *SM) finalize(now float64, durationTerminated bool, candidateType EventType) {
	frames := sm.recording
	rec := Recording{
		Type:      sm.eventType,
		StartTime: sm.eventStartTime,
		EndTime:   now,
		Frames:    frames,
		Features:  sm.features,
	}

	sm.recording = nil
	sm.features = nil
	sm.state = phaseIdle
	sm.lastEventEnd = now
	sm.hasLastEvent = true

	// The continuation seed must be cloned before the handoff: the encoder
	// pool owns the handed-off frames and closes them when it is done.
	var seed []RecordedFrame
	if durationTerminated {
		t := tail(frames, sm.ringCapacity)
		seed = make([]RecordedFrame, len(t))
		for i, rf := range t {
			seed[i] = RecordedFrame{
				Frame:          rf.Frame.Clone(),
				Tracks:         rf.Tracks,
				ROIMembership:  rf.ROIMembership,
				ActiveAlertIDs: copyAlertSet(rf.ActiveAlertIDs),
			}
		}
	}

	if len(frames) < 2 || rec.EndTime-rec.StartTime <= 0 {
		for _, rf := range frames {
			_ = rf.Close()
		}
	} else if sm.handoff != nil {
		if err := sm.handoff(rec); err != nil {
			sm.log.Error().Err(err).Msg("eventsm: handoff failed")
		}
	}

	if durationTerminated {
		sm.recording = seed
		sm.eventStartTime = now
		newType := candidateType
		if newType == EventNone {
			newType = EventPersonDetected
		}
		sm.eventType = newType
		sm.state = phaseCapturing
	}
}

func (sm *SM) updateTripwires(snap sharedstate.Snapshot, now float64) bool {
	if sm.behavior == nil || !sm.behavior.TripwiresEnabled {
		return false
	}

	triggered := false
	current := make(map[int]geometry.Point, len(snap.Tracks))
	for _, tr := range snap.Tracks {
		x, y := tr.BottomCenter()
		cur := geometry.Point{X: x, Y: y}
		current[tr.ID] = cur

		if prev, ok := sm.lastPositions[tr.ID]; ok {
			seg := geometry.Segment{From: prev, To: cur}
			for _, tw := range sm.behavior.Tripwires {
				dir := geometry.Crossing(seg, tw.Line)
				if dir != geometry.DirectionNone && tw.Admits(dir) {
					sm.activeAlertIDs[tr.ID] = true
					triggered = true
				}
			}
		}
	}

	for id := range sm.lastPositions {
		if _, present := current[id]; !present {
			delete(sm.activeAlertIDs, id)
		}
	}
	sm.lastPositions = current

	return triggered
}

func (sm *SM) updateDwell(snap sharedstate.Snapshot, now float64) bool {
	if sm.behavior == nil || !sm.behavior.ROIEnabled {
		return false
	}

	triggered := false
	present := make(map[int]bool, len(snap.Tracks))
	for _, tr := range snap.Tracks {
		present[tr.ID] = true
		inROI := snap.ROIMembership[tr.ID]
		if !inROI {
			delete(sm.roiEntryTime, tr.ID)
			delete(sm.roiAlerted, tr.ID)
			continue
		}
		if _, ok := sm.roiEntryTime[tr.ID]; !ok {
			sm.roiEntryTime[tr.ID] = now
		}
		if !sm.roiAlerted[tr.ID] && now-sm.roiEntryTime[tr.ID] > sm.behavior.DwellTimeThreshold {
			sm.roiAlerted[tr.ID] = true
			triggered = true
		}
	}

	for id := range sm.roiEntryTime {
		if !present[id] {
			delete(sm.roiEntryTime, id)
			delete(sm.roiAlerted, id)
		}
	}

	return triggered
}

func copyAlertSet(in map[int]bool) map[int]bool {
	out := make(map[int]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
