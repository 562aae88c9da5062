// Package decoder produces a timestamped stream of frames from a source URI
// and fans it out, with asymmetric drop policies, to the inference and event
// stages.
package decoder

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// ErrTransport signals a network transport failure (as opposed to a clean
// end-of-stream on a file source). The supervisor treats this as a
// worker-death health event.
var ErrTransport = errors.New("decoder: transport failure")

// InferenceQueueCapacity is the fixed capacity of the inference queue.
const InferenceQueueCapacity = 2

// Source produces an ordered stream of frames. Read returns io.EOF-style
// termination via ok=false with a nil error for a clean end-of-stream, and a
// non-nil error for a failure. Implementations decide their own pacing:
// native rate for files, arrival rate for network streams.
type Source interface {
	Read() (Frame, bool, error)
	Close() error
}

// Preview displays a frame for debugging. Implemented by *debugview.Window;
// kept as a minimal interface here so decoder does not otherwise depend on
// gocv's window/UI machinery.
type Preview interface {
	Show(mat gocv.Mat)
}

// Decoder owns a Source and publishes every frame it produces into the
// inference queue (capacity 2, newest-wins) and the event queue (elastic,
// oldest-preserved).
type Decoder struct {
	source  Source
	log     zerolog.Logger
	preview Preview

	Inference *FrameQueue
	Event     *FrameQueue
}

// New builds a Decoder. eventQueueCapacity should be sized by the caller as
// target_fps * (pre_event_seconds + post_event_seconds) * 2.
func New(source Source, eventQueueCapacity int, log zerolog.Logger) *Decoder {
	return &Decoder{
		source:    source,
		log:       log.With().Str("component", "decoder").Logger(),
		Inference: NewFrameQueue(InferenceQueueCapacity, DropOldest),
		Event:     NewFrameQueue(eventQueueCapacity, DropNewest),
	}
}

// SetPreview attaches a debug window that mirrors every decoded frame. This
// is purely an operator convenience; it has no effect on pipeline behavior.
func (d *Decoder) SetPreview(p Preview) {
	d.preview = p
}

// Run reads frames until the source reaches end-of-stream, errors, or stop
// fires. It does not retry on end-of-stream; transient read retries are the
// Source implementation's own concern.
func (d *Decoder) Run(stop <-chan struct{}) error {
	defer d.Inference.Close()
	defer d.Event.Close()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		f, ok, err := d.source.Read()
		if err != nil {
			d.log.Error().Err(err).Msg("source read failed")
			return fmt.Errorf("decoder: reading frame: %w", err)
		}
		if !ok {
			d.log.Info().Msg("source reached end of stream")
			return nil
		}

		if d.preview != nil {
			d.preview.Show(f.Mat)
		}

		// Each queue gets an independent copy of the pixel buffer. The
		// clone must happen before the first Offer: a full or closed
		// inference queue closes the frame it is handed.
		evt := f.Clone()
		d.Inference.Offer(f)
		d.Event.Offer(evt)
	}
}

// Close releases the underlying source.
func (d *Decoder) Close() error {
	return d.source.Close()
}
