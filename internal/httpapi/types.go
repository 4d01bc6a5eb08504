package httpapi

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

type edgeRequest struct {
	ID       string  `json:"id"`
	EdgeType string  `json:"edge_type"`
	ToNodeID string  `json:"to_node_id"`
	Length   float64 `json:"length"`
}

type attachRequest struct {
	ID             string        `json:"id"`
	NodeType       string        `json:"node_type"`
	PositionX      float64       `json:"position_x"`
	PositionY      float64       `json:"position_y"`
	ClusterID      *int          `json:"cluster_id"`
	NominalVoltage *float64      `json:"nominal_voltage"`
	Capacity       *float64      `json:"capacity"`
	CurrentLoad    float64       `json:"current_load"`
	Edges          []edgeRequest `json:"edges"`
}

func (r attachRequest) toModel() (*model.Node, []*model.Edge, error) {
	if r.ID == "" {
		return nil, nil, fmt.Errorf("%w: node id is required", errBadRequest)
	}
	typ, err := model.ParseNodeType(r.NodeType)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	node := &model.Node{
		ID:             r.ID,
		Type:           typ,
		X:              r.PositionX,
		Y:              r.PositionY,
		ClusterID:      r.ClusterID,
		NominalVoltage: r.NominalVoltage,
		Capacity:       r.Capacity,
		CurrentLoad:    r.CurrentLoad,
	}

	edges := make([]*model.Edge, 0, len(r.Edges))
	for _, e := range r.Edges {
		et := model.EdgeTypeUnknown
		if e.EdgeType != "" {
			if et, err = model.ParseEdgeType(e.EdgeType); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
			}
		}
		id := e.ID
		if id == "" {
			id = r.ID + "--" + e.ToNodeID
		}
		edges = append(edges, &model.Edge{ID: id, Type: et, From: r.ID, To: e.ToNodeID, Length: e.Length})
	}
	return node, edges, nil
}

type parentRequest struct {
	ParentID string `json:"parent_id"`
}

type capacityRequest struct {
	Capacity *float64 `json:"capacity"`
}

type overloadRequest struct {
	Percent *float64 `json:"percent"`
}

type loadRequest struct {
	Load *float64 `json:"load"`
}

// routingResponse is the wire form of core.ChangeParentResult. An
// unreachable cost is omitted rather than encoded as infinity.
type routingResponse struct {
	Success     bool         `json:"success"`
	ChildID     string       `json:"child_id"`
	OldParentID string       `json:"old_parent_id,omitempty"`
	NewParentID string       `json:"new_parent_id,omitempty"`
	TotalCost   *float64     `json:"total_cost,omitempty"`
	Path        []string     `json:"path,omitempty"`
	Reason      string       `json:"reason"`
	Error       string       `json:"error,omitempty"`
	Events      []core.Event `json:"events,omitempty"`
}

func newRoutingResponse(r core.ChangeParentResult) routingResponse {
	out := routingResponse{
		Success:     r.Success,
		ChildID:     r.ChildID,
		OldParentID: r.OldParentID,
		NewParentID: r.NewParentID,
		Path:        r.Path,
		Reason:      r.Reason,
		Events:      r.Events,
	}
	if !math.IsInf(r.TotalCost, 0) && !math.IsNaN(r.TotalCost) {
		out.TotalCost = model.Float64(r.TotalCost)
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func newRoutingResponses(rs []core.ChangeParentResult) []routingResponse {
	out := make([]routingResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, newRoutingResponse(r))
	}
	return out
}

type deletionResponse struct {
	NodeID     string            `json:"node_id"`
	Rerouted   []routingResponse `json:"rerouted,omitempty"`
	Orphaned   []string          `json:"orphaned,omitempty"`
	Unsupplied []string          `json:"unsupplied"`
	Events     []core.Event      `json:"events"`
}

func newDeletionResponse(d state.Deletion) deletionResponse {
	return deletionResponse{
		NodeID:     d.NodeID,
		Rerouted:   newRoutingResponses(d.Rerouted),
		Orphaned:   d.Orphaned,
		Unsupplied: nonNil(d.Unsupplied),
		Events:     nonNilEvents(d.Events),
	}
}

type overloadResponse struct {
	NodeID   string       `json:"node_id"`
	Shed     []string     `json:"shed"`
	Critical bool         `json:"critical"`
	Load     float64      `json:"load"`
	Capacity *float64     `json:"capacity,omitempty"`
	Events   []core.Event `json:"events"`
}

func newOverloadResponse(r core.OverloadReport) overloadResponse {
	return overloadResponse{
		NodeID:   r.NodeID,
		Shed:     nonNil(r.Shed),
		Critical: r.Critical,
		Load:     r.Load,
		Capacity: r.Capacity,
		Events:   nonNilEvents(r.Events),
	}
}

type loadResponse struct {
	NodeID string       `json:"node_id"`
	Load   float64      `json:"load"`
	Events []core.Event `json:"events"`
}

type healthResponse struct {
	Detached   []string     `json:"detached"`
	Reattached []string     `json:"reattached"`
	Unsupplied []string     `json:"unsupplied"`
	Events     []core.Event `json:"events"`
}

func newHealthResponse(r core.HealthReport) healthResponse {
	return healthResponse{
		Detached:   nonNil(r.Detached),
		Reattached: nonNil(r.Retry.Attached),
		Unsupplied: nonNil(r.Retry.Unsupplied),
		Events:     nonNilEvents(r.Events),
	}
}

type nodeResponse struct {
	ID          string         `json:"id"`
	Type        model.NodeType `json:"type"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Capacity    *float64       `json:"capacity,omitempty"`
	CurrentLoad float64        `json:"current_load"`
}

func newNodeResponses(nodes []*model.Node) []nodeResponse {
	out := make([]nodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeResponse{
			ID:          n.ID,
			Type:        n.Type,
			X:           n.X,
			Y:           n.Y,
			Capacity:    n.Capacity,
			CurrentLoad: n.CurrentLoad,
		})
	}
	return out
}

type neighborsResponse struct {
	NodeID    string         `json:"node_id"`
	Type      model.NodeType `json:"type"`
	Degree    int            `json:"degree"`
	Neighbors []string       `json:"neighbors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilEvents(s []core.Event) []core.Event {
	if s == nil {
		return []core.Event{}
	}
	return s
}
