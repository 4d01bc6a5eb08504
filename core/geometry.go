package core

import (
	"math"

	"github.com/signalsfoundry/grid-hierarchy/model"
)

// Point is a planar position in the scenario's coordinate units.
type Point struct {
	X, Y float64
}

// PositionOf returns the map position of n.
func PositionOf(n *model.Node) Point {
	return Point{X: n.X, Y: n.Y}
}

// DistanceTo returns the straight-line distance between two points.
func (p Point) DistanceTo(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// straightLineLength is the length assumed for a segment whose length was
// not surveyed. Missing endpoints yield 0; the graph rejects the edge anyway.
func straightLineLength(a, b *model.Node) float64 {
	if a == nil || b == nil {
		return 0
	}
	return PositionOf(a).DistanceTo(PositionOf(b))
}
