package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sentrywatch/sentrywatch/pkg/geometry"
)

// BehaviorFile is the raw YAML shape of the behavior configuration file: an
// optional ROI polygon with a dwell threshold, and an optional set of
// directed tripwire lines.
type BehaviorFile struct {
	ROI       ROIFile       `yaml:"roi"`
	Tripwires TripwiresFile `yaml:"tripwires"`
}

// ROIFile is the YAML shape of the ROI section.
type ROIFile struct {
	Enabled            bool         `yaml:"enabled"`
	PolygonPoints      [][2]float64 `yaml:"polygon_points"`
	DwellTimeThreshold float64      `yaml:"dwell_time_threshold"`
}

// TripwiresFile is the YAML shape of the tripwires section.
type TripwiresFile struct {
	Enabled bool               `yaml:"enabled"`
	Lines   []TripwireLineFile `yaml:"lines"`
}

// TripwireLineFile is one tripwire entry in the YAML file.
type TripwireLineFile struct {
	Points         [2][2]float64 `yaml:"points"`
	AlertDirection string        `yaml:"alert_direction"`
}

// AlertDirection is the admitted crossing direction for a tripwire.
type AlertDirection int

const (
	// AlertCrossToLeft admits only right-to-left crossings.
	AlertCrossToLeft AlertDirection = iota
	// AlertCrossToRight admits only left-to-right crossings.
	AlertCrossToRight
	// AlertBoth admits crossings in either direction.
	AlertBoth
)

// Tripwire is a precompiled tripwire rule: a directed line plus its
// admitted crossing direction.
type Tripwire struct {
	Line      geometry.Line
	Direction AlertDirection
}

// Behavior is the precompiled, validated behavior configuration: at most
// one ROI polygon and any number of tripwires, stored as ready-to-use
// geometry values rather than raw YAML coordinates.
type Behavior struct {
	ROIEnabled         bool
	ROI                geometry.Polygon
	DwellTimeThreshold float64

	TripwiresEnabled bool
	Tripwires        []Tripwire
}

// LoadBehavior reads and compiles a YAML behavior file. An empty path
// yields a Behavior with everything disabled (no ROI, no tripwires).
func LoadBehavior(path string) (*Behavior, error) {
	if path == "" {
		return &Behavior{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading behavior file: %w", err)
	}

	var raw BehaviorFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing behavior file: %w", err)
	}

	return compileBehavior(raw)
}

func compileBehavior(raw BehaviorFile) (*Behavior, error) {
	b := &Behavior{}

	if raw.ROI.Enabled {
		if len(raw.ROI.PolygonPoints) < 3 {
			return nil, fmt.Errorf("roi.polygon_points must have at least 3 points, got %d", len(raw.ROI.PolygonPoints))
		}
		if raw.ROI.DwellTimeThreshold <= 0 {
			return nil, fmt.Errorf("roi.dwell_time_threshold must be positive, got %f", raw.ROI.DwellTimeThreshold)
		}
		poly := make(geometry.Polygon, len(raw.ROI.PolygonPoints))
		for i, p := range raw.ROI.PolygonPoints {
			poly[i] = geometry.Point{X: p[0], Y: p[1]}
		}
		b.ROIEnabled = true
		b.ROI = poly
		b.DwellTimeThreshold = raw.ROI.DwellTimeThreshold
	}

	if raw.Tripwires.Enabled {
		if len(raw.Tripwires.Lines) == 0 {
			return nil, fmt.Errorf("tripwires.enabled is true but no lines were given")
		}
		tripwires := make([]Tripwire, len(raw.Tripwires.Lines))
		for i, l := range raw.Tripwires.Lines {
			dir, err := parseAlertDirection(l.AlertDirection)
			if err != nil {
				return nil, fmt.Errorf("tripwires.lines[%d]: %w", i, err)
			}
			tripwires[i] = Tripwire{
				Line: geometry.Line{
					A: geometry.Point{X: l.Points[0][0], Y: l.Points[0][1]},
					B: geometry.Point{X: l.Points[1][0], Y: l.Points[1][1]},
				},
				Direction: dir,
			}
		}
		b.TripwiresEnabled = true
		b.Tripwires = tripwires
	}

	return b, nil
}

func parseAlertDirection(s string) (AlertDirection, error) {
	switch s {
	case "cross_to_left":
		return AlertCrossToLeft, nil
	case "cross_to_right":
		return AlertCrossToRight, nil
	case "both":
		return AlertBoth, nil
	default:
		return 0, fmt.Errorf("alert_direction must be %q, %q, or %q, got %q", "cross_to_left", "cross_to_right", "both", s)
	}
}

// Admits reports whether a detected crossing direction is admitted by this
// tripwire's rule.
func (tw Tripwire) Admits(dir geometry.CrossingDirection) bool {
	switch tw.Direction {
	case AlertBoth:
		return dir != geometry.DirectionNone
	case AlertCrossToLeft:
		return dir == geometry.DirectionRightToLeft
	case AlertCrossToRight:
		return dir == geometry.DirectionLeftToRight
	default:
		return false
	}
}
