package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// EdgeCostFunc estimates the cost of carrying power across an edge. It must
// be pure and non-negative; the selector clamps negative values to zero and
// skips NaN.
type EdgeCostFunc func(g *kb.KnowledgeBase, e *model.Edge, power float64) float64

// LengthCost weights each segment by |power| * length, the loss heuristic
// used when no electrical parameters are known.
func LengthCost(_ *kb.KnowledgeBase, e *model.Edge, power float64) float64 {
	if e == nil || power <= 0 {
		return 0
	}
	return math.Abs(power) * e.Length
}

// HopCost charges one unit per edge regardless of length or power.
func HopCost(_ *kb.KnowledgeBase, _ *model.Edge, _ float64) float64 {
	return 1
}

// DistanceCost uses the segment length alone.
func DistanceCost(_ *kb.KnowledgeBase, e *model.Edge, _ float64) float64 {
	if e == nil {
		return 0
	}
	return e.Length
}

// EdgeCostByName resolves a configured cost function name.
func EdgeCostByName(name string) (EdgeCostFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "length", "loss":
		return LengthCost, nil
	case "distance":
		return DistanceCost, nil
	case "hop", "hops":
		return HopCost, nil
	default:
		return nil, fmt.Errorf("unknown edge cost %q", name)
	}
}
