package kb

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/grid-hierarchy/model"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeInvalid  = errors.New("invalid node")
	ErrEdgeExists   = errors.New("edge already exists")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrEdgeInvalid  = errors.New("invalid edge")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
	EventEdgeAdded
	EventEdgeRemoved
)

// Event is emitted to subscribers after a topology change.
type Event struct {
	Type   EventType
	NodeID string
	EdgeID string
}

// KnowledgeBase is the physical grid graph: nodes, undirected edges and an
// adjacency index of incident edge ids kept in insertion order.
//
// The maps are guarded by an RWMutex. Node values are stored by pointer so
// the routing engine can update loads in place; field mutation on those
// pointers is the engine's responsibility.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes     map[string]*model.Node
	edges     map[string]*model.Edge
	incidence map[string][]string

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:     make(map[string]*model.Node),
		edges:     make(map[string]*model.Edge),
		incidence: make(map[string][]string),
	}
}

// AddNode inserts a node. Duplicate ids are rejected.
func (kb *KnowledgeBase) AddNode(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrNodeInvalid)
	}
	if _, ok := n.Type.ParentType(); !ok && n.Type != model.Plant {
		return fmt.Errorf("%w: %q has unknown type", ErrNodeInvalid, n.ID)
	}

	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	kb.nodes[n.ID] = n
	if _, ok := kb.incidence[n.ID]; !ok {
		kb.incidence[n.ID] = nil
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventNodeAdded, NodeID: n.ID})
	return nil
}

// AddEdge inserts an undirected edge. Both endpoints must already exist.
func (kb *KnowledgeBase) AddEdge(e *model.Edge) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrEdgeInvalid)
	}
	if e.From == e.To {
		return fmt.Errorf("%w: %q is a self loop", ErrEdgeInvalid, e.ID)
	}
	if e.Length < 0 || math.IsNaN(e.Length) {
		return fmt.Errorf("%w: %q has negative length", ErrEdgeInvalid, e.ID)
	}

	kb.mu.Lock()
	if _, exists := kb.edges[e.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEdgeExists, e.ID)
	}
	for _, end := range []string{e.From, e.To} {
		if _, ok := kb.nodes[end]; !ok {
			kb.mu.Unlock()
			return fmt.Errorf("%w: %q referenced by edge %q", ErrNodeNotFound, end, e.ID)
		}
	}
	kb.edges[e.ID] = e
	kb.incidence[e.From] = append(kb.incidence[e.From], e.ID)
	kb.incidence[e.To] = append(kb.incidence[e.To], e.ID)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEdgeAdded, EdgeID: e.ID})
	return nil
}

// RemoveNode deletes a node and every incident edge.
func (kb *KnowledgeBase) RemoveNode(id string) error {
	kb.mu.Lock()
	if _, ok := kb.nodes[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	removedEdges := append([]string(nil), kb.incidence[id]...)
	for _, edgeID := range removedEdges {
		kb.removeEdgeLocked(edgeID)
	}
	delete(kb.incidence, id)
	delete(kb.nodes, id)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	for _, edgeID := range removedEdges {
		notify(subs, Event{Type: EventEdgeRemoved, EdgeID: edgeID})
	}
	notify(subs, Event{Type: EventNodeRemoved, NodeID: id})
	return nil
}

// RemoveEdge deletes a single edge.
func (kb *KnowledgeBase) RemoveEdge(id string) error {
	kb.mu.Lock()
	if _, ok := kb.edges[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, id)
	}
	kb.removeEdgeLocked(id)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEdgeRemoved, EdgeID: id})
	return nil
}

func (kb *KnowledgeBase) removeEdgeLocked(id string) {
	e, ok := kb.edges[id]
	if !ok {
		return
	}
	delete(kb.edges, id)
	kb.incidence[e.From] = without(kb.incidence[e.From], id)
	kb.incidence[e.To] = without(kb.incidence[e.To], id)
}

// GetNode returns the node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNode(id string) *model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// GetEdge returns the edge with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetEdge(id string) *model.Edge {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.edges[id]
}

// IncidentEdges returns the edges touching id in insertion order.
func (kb *KnowledgeBase) IncidentEdges(id string) []*model.Edge {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ids := kb.incidence[id]
	res := make([]*model.Edge, 0, len(ids))
	for _, edgeID := range ids {
		if e := kb.edges[edgeID]; e != nil {
			res = append(res, e)
		}
	}
	return res
}

// Neighbors returns the distinct node ids adjacent to id.
func (kb *KnowledgeBase) Neighbors(id string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	seen := make(map[string]struct{})
	var res []string
	for _, edgeID := range kb.incidence[id] {
		e := kb.edges[edgeID]
		if e == nil {
			continue
		}
		other := e.Other(id)
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		res = append(res, other)
	}
	return res
}

// Degree is the number of incident edges, counting parallel edges.
func (kb *KnowledgeBase) Degree(id string) int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.incidence[id])
}

// ListNodes returns all nodes sorted by id.
func (kb *KnowledgeBase) ListNodes() []*model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Node, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ListEdges returns all edges sorted by id.
func (kb *KnowledgeBase) ListEdges() []*model.Edge {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Edge, 0, len(kb.edges))
	for _, e := range kb.edges {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// NodesOfType returns nodes of type t sorted by id.
func (kb *KnowledgeBase) NodesOfType(t model.NodeType) []*model.Node {
	var res []*model.Node
	for _, n := range kb.ListNodes() {
		if n.Type == t {
			res = append(res, n)
		}
	}
	return res
}

// Counts returns the number of nodes and edges.
func (kb *KnowledgeBase) Counts() (nodes, edges int) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes), len(kb.edges)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs[idx] = nil
		idx = -1
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(kb.subs))
	for _, fn := range kb.subs {
		if fn != nil {
			subs = append(subs, fn)
		}
	}
	return subs
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

func without(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
