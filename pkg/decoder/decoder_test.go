package decoder

import (
	"testing"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/sentrywatch/sentrywatch/pkg/frame"
)

func testFrame(t float64) Frame {
	return frame.Frame{CapturedAt: t, Mat: gocv.NewMat()}
}

func drainAll(t *testing.T, q *FrameQueue) []Frame {
	t.Helper()
	stop := make(chan struct{})
	defer close(stop)

	var out []Frame
	for {
		f, ok, timedOut := q.Pop(stop)
		if timedOut {
			continue
		}
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestDecoderPublishesToBothQueues(t *testing.T) {
	frames := []Frame{testFrame(0), testFrame(1), testFrame(2)}
	src := newFakeSource(frames)
	d := New(src, 10, zerolog.Nop())

	done := make(chan error, 1)
	stop := make(chan struct{})
	go func() { done <- d.Run(stop) }()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inf := drainAll(t, d.Inference)
	evt := drainAll(t, d.Event)

	if len(inf) != 3 {
		t.Errorf("expected 3 frames on inference queue, got %d", len(inf))
	}
	if len(evt) != 3 {
		t.Errorf("expected 3 frames on event queue, got %d", len(evt))
	}
}

func TestDecoderTransportFailureSurfacesError(t *testing.T) {
	frames := []Frame{testFrame(0)}
	src := newFakeSource(frames)
	src.failAfter = 1
	d := New(src, 10, zerolog.Nop())

	stop := make(chan struct{})
	err := d.Run(stop)
	if err == nil {
		t.Fatal("expected an error from transport failure")
	}
}

func TestInferenceQueueDropsOldestWhenFull(t *testing.T) {
	q := NewFrameQueue(2, DropOldest)
	q.Offer(testFrame(0))
	q.Offer(testFrame(1))
	q.Offer(testFrame(2)) // should evict frame 0

	stop := make(chan struct{})
	defer close(stop)

	first, ok, _ := q.Pop(stop)
	if !ok || first.CapturedAt != 1 {
		t.Errorf("expected surviving oldest frame to be CapturedAt=1, got %+v", first)
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", q.Dropped())
	}
}

func TestEventQueueDropsNewestWhenFull(t *testing.T) {
	q := NewFrameQueue(2, DropNewest)
	q.Offer(testFrame(0))
	q.Offer(testFrame(1))
	q.Offer(testFrame(2)) // should be discarded

	stop := make(chan struct{})
	defer close(stop)

	first, _, _ := q.Pop(stop)
	second, _, _ := q.Pop(stop)
	if first.CapturedAt != 0 || second.CapturedAt != 1 {
		t.Errorf("expected frames 0 and 1 to survive, got %+v, %+v", first, second)
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", q.Dropped())
	}
}

func TestQueuePopUnblocksOnStop(t *testing.T) {
	q := NewFrameQueue(2, DropOldest)
	stop := make(chan struct{})

	result := make(chan bool, 1)
	go func() {
		_, ok, _ := q.Pop(stop)
		result <- ok
	}()

	close(stop)
	if ok := <-result; ok {
		t.Error("expected Pop to return false after stop fired with no frames")
	}
}
