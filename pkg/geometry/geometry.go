// Package geometry provides the small set of 2D primitives the event state
// machine needs: point-in-polygon for ROI membership and signed side-of-line
// for tripwire crossing detection.
package geometry

// Point is a 2D point in analysis-resolution pixel coordinates.
type Point struct {
	X, Y float64
}

// Polygon is an ordered list of vertices; the last vertex connects back to
// the first.
type Polygon []Point

// Contains reports whether p lies inside the polygon using the crossing
// number (even-odd) rule. Points exactly on an edge are treated as outside.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) < 3 {
		return false
	}

	inside := false
	n := len(poly)
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := poly[i], poly[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) {
			xIntersect := (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if p.X < xIntersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Line is a directed line segment used for tripwires. Direction runs from A
// to B; the "side" sign convention below is defined relative to that
// direction.
type Line struct {
	A, B Point
}

// Side returns the 2D cross product of (B-A) x (P-A). Its sign is
// screen-coordinate aware: the caller's Y axis increases downward, so a
// positive value corresponds to a point to the right of the directed line
// A->B and a negative value to a point on the left. Exactly zero means p
// is collinear with A and B.
func (l Line) Side(p Point) float64 {
	return (l.B.X-l.A.X)*(p.Y-l.A.Y) - (l.B.Y-l.A.Y)*(p.X-l.A.X)
}

// SideSign returns 1 for points to the left of the directed line A->B, -1
// for points to the right, and 0 for collinear points.
func (l Line) SideSign(p Point) int {
	s := l.Side(p)
	switch {
	case s > 0:
		return -1
	case s < 0:
		return 1
	default:
		return 0
	}
}

// Segment is a directed movement segment between two consecutive track
// positions, used to test intersection against a tripwire Line.
type Segment struct {
	From, To Point
}

// Intersects reports whether the movement segment crosses the line segment
// formed by l.A and l.B. This is a standard segment/segment intersection
// test; it does not by itself determine crossing direction, only whether
// the two segments cross at all. Direction is determined separately by
// comparing SideSign(From) and SideSign(To).
func (s Segment) Intersects(l Line) bool {
	d1 := crossSign(l.A, l.B, s.From)
	d2 := crossSign(l.A, l.B, s.To)
	d3 := crossSign(s.From, s.To, l.A)
	d4 := crossSign(s.From, s.To, l.B)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(l.A, l.B, s.From) {
		return true
	}
	if d2 == 0 && onSegment(l.A, l.B, s.To) {
		return true
	}
	if d3 == 0 && onSegment(s.From, s.To, l.A) {
		return true
	}
	if d4 == 0 && onSegment(s.From, s.To, l.B) {
		return true
	}
	return false
}

func crossSign(a, b, c Point) int {
	v := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p Point) bool {
	return min(a.X, b.X) <= p.X && p.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= p.Y && p.Y <= max(a.Y, b.Y)
}

// CrossingDirection classifies an admitted tripwire crossing.
type CrossingDirection int

const (
	// DirectionNone means no admissible crossing occurred.
	DirectionNone CrossingDirection = iota
	// DirectionLeftToRight means the side sign went from +1 (left) to -1 (right).
	DirectionLeftToRight
	// DirectionRightToLeft means the side sign went from -1 (right) to +1 (left).
	DirectionRightToLeft
)

// Crossing determines whether a movement segment represents an admissible
// crossing of the tripwire line: the segment must geometrically intersect
// the line, and the side of the line must strictly change sign (ties do
// not trigger).
func Crossing(seg Segment, l Line) CrossingDirection {
	if !seg.Intersects(l) {
		return DirectionNone
	}

	before := l.SideSign(seg.From)
	after := l.SideSign(seg.To)

	if before == 0 || after == 0 || before == after {
		return DirectionNone
	}

	if before == 1 && after == -1 {
		return DirectionLeftToRight
	}
	if before == -1 && after == 1 {
		return DirectionRightToLeft
	}
	return DirectionNone
}
