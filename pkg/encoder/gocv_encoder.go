package encoder

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/geometry"
)

var (
	colorNormal    = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	colorInROI     = color.RGBA{R: 0, G: 180, B: 255, A: 0}
	colorAlert     = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	colorROI       = color.RGBA{R: 255, G: 180, B: 0, A: 0}
	colorWireRight = color.RGBA{R: 255, G: 0, B: 255, A: 0}
	colorWireLeft  = color.RGBA{R: 255, G: 128, B: 0, A: 0}
	colorWireBoth  = color.RGBA{R: 255, G: 255, B: 0, A: 0}
)

// GoCVEncoder writes annotated frames to an HEVC/YUV 4:2:0 MP4 file via
// gocv.VideoWriter, drawing overlays with gocv's primitives (FillPoly,
// ArrowedLine, Rectangle, PutText).
type GoCVEncoder struct {
	writer *gocv.VideoWriter
	path   string

	encodeWidth, encodeHeight     int
	analysisWidth, analysisHeight int
	scaleX, scaleY                float64

	behavior *config.Behavior

	failed bool
}

// NewGoCVEncoder opens a VideoWriter at path, sized and paced per the
// resolved encode resolution and output fps, encoding HEVC in a YUV 4:2:0
// pixel format.
func NewGoCVEncoder(path string, encodeWidth, encodeHeight, analysisWidth, analysisHeight int, fps float64, behavior *config.Behavior) (*GoCVEncoder, error) {
	writer, err := gocv.VideoWriterFile(path, "hvc1", fps, encodeWidth, encodeHeight, true)
	if err != nil {
		return nil, fmt.Errorf("encoder: opening video writer %q: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("encoder: video writer %q did not open", path)
	}

	return &GoCVEncoder{
		writer:         writer,
		path:           path,
		encodeWidth:    encodeWidth,
		encodeHeight:   encodeHeight,
		analysisWidth:  analysisWidth,
		analysisHeight: analysisHeight,
		scaleX:         float64(encodeWidth) / float64(analysisWidth),
		scaleY:         float64(encodeHeight) / float64(analysisHeight),
		behavior:       behavior,
	}, nil
}

// WriteFrame scales the frame to encode resolution, draws the ROI polygon,
// tripwire arrows, and priority-colored track boxes with id labels, then
// writes the composed image.
func (e *GoCVEncoder) WriteFrame(af AnnotatedFrame) error {
	mat := af.Frame.Frame.Mat
	var scaled gocv.Mat
	if mat.Cols() == e.encodeWidth && mat.Rows() == e.encodeHeight {
		scaled = mat.Clone()
	} else {
		scaled = gocv.NewMat()
		gocv.Resize(mat, &scaled, image.Pt(e.encodeWidth, e.encodeHeight), 0, 0, gocv.InterpolationLinear)
	}
	defer scaled.Close()

	e.drawROI(&scaled)
	e.drawTripwires(&scaled)
	e.drawTracks(&scaled, af)
	if af.ContextLabel != "" {
		gocv.PutText(&scaled, af.ContextLabel, image.Pt(10, 30), gocv.FontHersheyPlain, 1.5, color.RGBA{R: 255, G: 255, B: 255, A: 0}, 2)
	}

	if err := e.writer.Write(scaled); err != nil {
		e.failed = true
		return fmt.Errorf("encoder: writing frame to %q: %w", e.path, err)
	}
	return nil
}

func (e *GoCVEncoder) scalePoint(p geometry.Point) image.Point {
	return image.Pt(int(p.X*e.scaleX), int(p.Y*e.scaleY))
}

func (e *GoCVEncoder) drawROI(mat *gocv.Mat) {
	if e.behavior == nil || !e.behavior.ROIEnabled || len(e.behavior.ROI) < 3 {
		return
	}
	pts := make([]image.Point, len(e.behavior.ROI))
	for i, p := range e.behavior.ROI {
		pts[i] = e.scalePoint(p)
	}
	overlay := mat.Clone()
	defer overlay.Close()
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(&overlay, pv, colorROI)
	gocv.AddWeighted(*mat, 0.75, overlay, 0.25, 0, mat)
	gocv.Polylines(mat, pv, true, colorROI, 2)
}

func (e *GoCVEncoder) drawTripwires(mat *gocv.Mat) {
	if e.behavior == nil || !e.behavior.TripwiresEnabled {
		return
	}
	for _, tw := range e.behavior.Tripwires {
		from := e.scalePoint(tw.Line.A)
		to := e.scalePoint(tw.Line.B)
		c := colorWireBoth
		switch tw.Direction {
		case config.AlertCrossToRight:
			c = colorWireRight
		case config.AlertCrossToLeft:
			c = colorWireLeft
		}
		gocv.ArrowedLine(mat, from, to, c, 2)
	}
}

func (e *GoCVEncoder) drawTracks(mat *gocv.Mat, af AnnotatedFrame) {
	for _, tr := range af.Frame.Tracks {
		priority := af.TrackPriority[tr.ID]
		c := colorByPriority(priority)

		box := image.Rectangle{
			Min: e.scalePoint(geometry.Point{X: float64(tr.Box.Min.X), Y: float64(tr.Box.Min.Y)}),
			Max: e.scalePoint(geometry.Point{X: float64(tr.Box.Max.X), Y: float64(tr.Box.Max.Y)}),
		}
		gocv.Rectangle(mat, box, c, 2)
		gocv.PutText(mat, fmt.Sprintf("id:%d", tr.ID), image.Pt(box.Min.X, box.Min.Y-6), gocv.FontHersheyPlain, 1.2, c, 1)
	}
}

func colorByPriority(p TrackPriority) color.RGBA {
	switch p {
	case PriorityAlert:
		return colorAlert
	case PriorityInROI:
		return colorInROI
	default:
		return colorNormal
	}
}

// Finish closes the video writer and returns the output path. On a prior
// write failure, the partial file is discarded and the event is not
// persisted.
func (e *GoCVEncoder) Finish() (string, error) {
	if err := e.writer.Close(); err != nil {
		e.failed = true
	}
	if e.failed {
		_ = os.Remove(e.path)
		return "", fmt.Errorf("encoder: %q failed to encode, output discarded", e.path)
	}
	return e.path, nil
}
