package memo

import (
	"fmt"
	"strings"
)

// Point selects one point of an index-space operation. The zero value is
// NoPoint, used by single-point operations.
type Point struct {
	coords []int64
}

// NoPoint is the "no sub-index" marker.
var NoPoint = Point{}

// NewPoint creates a point with the given coordinates. Zero coordinates
// yield NoPoint.
func NewPoint(coords ...int64) Point {
	if len(coords) == 0 {
		return NoPoint
	}
	c := make([]int64, len(coords))
	copy(c, coords)
	return Point{coords: c}
}

// IsNone reports whether p is the "no sub-index" marker.
func (p Point) IsNone() bool { return len(p.coords) == 0 }

// Dim returns the number of coordinates.
func (p Point) Dim() int { return len(p.coords) }

// Coords returns a copy of the coordinates.
func (p Point) Coords() []int64 {
	if p.IsNone() {
		return nil
	}
	c := make([]int64, len(p.coords))
	copy(c, p.coords)
	return c
}

// Equal reports whether p and q name the same point.
func (p Point) Equal(q Point) bool {
	if len(p.coords) != len(q.coords) {
		return false
	}
	for i := range p.coords {
		if p.coords[i] != q.coords[i] {
			return false
		}
	}
	return true
}

// String renders "-" for NoPoint and "(x,y,...)" otherwise.
func (p Point) String() string {
	if p.IsNone() {
		return "-"
	}
	parts := make([]string, len(p.coords))
	for i, c := range p.coords {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// PointRefiner is implemented by analyzers of index-space operations that
// identify one point of a point collection.
type PointRefiner interface {
	TracePoint() Point
}

// TraceLocalID is an operation's deterministic position in its trace.
type TraceLocalID struct {
	Index uint32
	Point Point
}

// Equal reports whether two ids are the same.
func (id TraceLocalID) Equal(other TraceLocalID) bool {
	return id.Index == other.Index && id.Point.Equal(other.Point)
}

// String renders "index" or "index@point".
func (id TraceLocalID) String() string {
	if id.Point.IsNone() {
		return fmt.Sprintf("%d", id.Index)
	}
	return fmt.Sprintf("%d@%s", id.Index, id.Point)
}

// SetTraceLocalIndex records the index assigned at trace registration.
func (m *Memoizable) SetTraceLocalIndex(index uint32) {
	m.localIndex = index
}

// TraceLocalID returns the operation's trace-local identity.
func (m *Memoizable) TraceLocalID() TraceLocalID {
	point := NoPoint
	if r, ok := m.analyzer.(PointRefiner); ok {
		point = r.TracePoint()
	}
	return TraceLocalID{Index: m.localIndex, Point: point}
}
