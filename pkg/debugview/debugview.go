// Package debugview provides an optional live preview window for watching
// the raw decoded feed while sentrywatch runs.
package debugview

import (
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// Window is a simple debug window. OpenCV UI calls must happen on the same
// OS thread the window was created on, so the window runs its own loop on a
// goroutine locked to an OS thread.
type Window struct {
	window   *gocv.Window
	frameCh  chan gocv.Mat
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	initDone chan struct{}
}

// New creates a debug window with the given title and starts its display
// loop. It blocks until the window has finished initializing.
func New(title string) *Window {
	w := &Window{
		frameCh:  make(chan gocv.Mat, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}

	go w.loop(title)
	<-w.initDone

	return w
}

func (w *Window) loop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.window = gocv.NewWindow(title)
	close(w.initDone)

	for {
		select {
		case frame := <-w.frameCh:
			w.window.IMShow(frame)
			w.window.WaitKey(1)
			frame.Close()

		case <-w.closeCh:
			if w.window != nil {
				w.window.Close()
			}
			close(w.doneCh)
			return
		}
	}
}

// Show displays a frame, cloning it internally so the caller retains
// ownership of the original. If the window is busy with a previous frame,
// this one is dropped rather than blocking the decoder.
func (w *Window) Show(mat gocv.Mat) {
	if mat.Empty() {
		return
	}

	cloned := mat.Clone()

	select {
	case w.frameCh <- cloned:
	default:
		cloned.Close()
	}
}

// Close shuts down the window and releases its resources.
func (w *Window) Close() error {
	w.once.Do(func() {
		close(w.closeCh)
		<-w.doneCh
	})
	return nil
}
