// Package sharedstate holds the single mutex-guarded block of per-frame
// analytics that the inference stage publishes and the event state machine
// (and debug observers) read. There is exactly one writer. Readers take the
// lock, copy out what they need, and release it immediately.
package sharedstate

import (
	"sync"

	"github.com/sentrywatch/sentrywatch/pkg/track"
)

// Snapshot is an immutable copy of the analytics for one frame index. The
// four fields refer consistently to the same frame.
type Snapshot struct {
	FrameIndex     uint64
	PersonPresent  bool
	Tracks         []track.Track
	ROIMembership  map[int]bool
	ReIDFeatures   map[int][]float32
	EventEndedFlag bool
}

// State is the single shared, lock-protected analytics block. The zero
// value is ready to use.
type State struct {
	mu sync.Mutex

	frameIndex    uint64
	personPresent bool
	tracks        []track.Track
	roiMembership map[int]bool
	reidFeatures  map[int][]float32
	eventEnded    bool
}

// Publish atomically replaces all fields in one call, preserving the
// invariant that every exposed snapshot refers to one consistent frame.
// Only the inference stage should call this.
func (s *State) Publish(frameIndex uint64, personPresent bool, tracks []track.Track, roi map[int]bool, reid map[int][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frameIndex = frameIndex
	s.personPresent = personPresent
	s.tracks = tracks
	s.roiMembership = roi
	s.reidFeatures = reid
}

// Snapshot copies out the current analytics under the lock and returns
// them to the caller. The tracks slice and the ROI-membership and Re-ID
// feature maps are shared by reference, not copied: Publish stores what it
// is given and Snapshot hands out those same values.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		FrameIndex:     s.frameIndex,
		PersonPresent:  s.personPresent,
		Tracks:         s.tracks,
		ROIMembership:  s.roiMembership,
		ReIDFeatures:   s.reidFeatures,
		EventEndedFlag: s.eventEnded,
	}
}

// SetEventEnded sets or clears the event-ended flag. The event state
// machine sets it on a Capturing->Idle transition; the inference stage
// clears it after resetting its tracker session.
func (s *State) SetEventEnded(ended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventEnded = ended
}

// EventEnded reports the current value of the event-ended flag.
func (s *State) EventEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventEnded
}
