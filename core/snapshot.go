package core

import (
	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/grid-hierarchy/model"
)

// snapshotPlaces is the number of decimals kept in snapshot figures.
const snapshotPlaces = 3

// TreeEntry is one node of a renderable tree snapshot.
type TreeEntry struct {
	ID             string         `json:"id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Type           model.NodeType `json:"type"`
	X              float64        `json:"x"`
	Y              float64        `json:"y"`
	ClusterID      *int           `json:"cluster_id,omitempty"`
	NominalVoltage *float64       `json:"nominal_voltage,omitempty"`
	Capacity       *float64       `json:"capacity,omitempty"`
	CurrentLoad    float64        `json:"current_load"`
	Utilization    *float64       `json:"utilization,omitempty"`
	Status         model.Status   `json:"status"`
	Depth          int            `json:"depth"`
}

// Snapshot is a point-in-time view of the forest for presentation.
type Snapshot struct {
	Tree       []TreeEntry `json:"tree"`
	Unsupplied []string    `json:"unsupplied"`
}

// StatusOf derives the presentation status of id. Unknown ids are Normal.
func (s *RoutingService) StatusOf(id string) model.Status {
	n := s.graph.GetNode(id)
	if n == nil {
		return model.StatusNormal
	}
	return model.StatusFor(n.CurrentLoad, n.Capacity, s.unsupplied.Contains(id))
}

// Snapshot lists every node in forest preorder, parents before children.
// Graph nodes that never joined the forest follow, sorted by id.
func (s *RoutingService) Snapshot() Snapshot {
	order := s.forest.Preorder()
	seen := make(map[string]struct{}, len(order))
	depth := make(map[string]int, len(order))

	out := Snapshot{Tree: make([]TreeEntry, 0, len(order)), Unsupplied: s.unsupplied.IDs()}
	for _, id := range order {
		seen[id] = struct{}{}
		n := s.graph.GetNode(id)
		if n == nil {
			continue
		}
		parent, ok := s.forest.Parent(id)
		if ok {
			depth[id] = depth[parent] + 1
		}
		out.Tree = append(out.Tree, s.entry(n, parent, depth[id]))
	}
	for _, n := range s.graph.ListNodes() {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		out.Tree = append(out.Tree, s.entry(n, "", 0))
	}
	return out
}

func (s *RoutingService) entry(n *model.Node, parent string, depth int) TreeEntry {
	e := TreeEntry{
		ID:          n.ID,
		ParentID:    parent,
		Type:        n.Type,
		X:           round(n.X),
		Y:           round(n.Y),
		CurrentLoad: round(n.CurrentLoad),
		Status:      model.StatusFor(n.CurrentLoad, n.Capacity, s.unsupplied.Contains(n.ID)),
		Depth:       depth,
	}
	if n.ClusterID != nil {
		v := *n.ClusterID
		e.ClusterID = &v
	}
	if n.NominalVoltage != nil {
		e.NominalVoltage = model.Float64(round(*n.NominalVoltage))
	}
	if n.Capacity != nil {
		e.Capacity = model.Float64(round(*n.Capacity))
		if *n.Capacity > 0 {
			e.Utilization = model.Float64(round(n.CurrentLoad / *n.Capacity))
		}
	}
	return e
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(snapshotPlaces).InexactFloat64()
}
