package encoder

import "fmt"

// FakeEncoder is a deterministic, in-memory VideoEncoder used by encoder
// and supervisor tests: it records every frame it's given and optionally
// simulates a write failure after a configured number of frames.
type FakeEncoder struct {
	Path      string
	FailAfter int // -1 disables

	Written  []AnnotatedFrame
	Finished bool
}

// NewFakeEncoder builds a FakeEncoder that will report path on a
// successful Finish.
func NewFakeEncoder(path string) *FakeEncoder {
	return &FakeEncoder{Path: path, FailAfter: -1}
}

func (f *FakeEncoder) WriteFrame(af AnnotatedFrame) error {
	if f.FailAfter >= 0 && len(f.Written) >= f.FailAfter {
		return fmt.Errorf("fake encoder: simulated write failure")
	}
	f.Written = append(f.Written, af)
	return nil
}

func (f *FakeEncoder) Finish() (string, error) {
	f.Finished = true
	return f.Path, nil
}
