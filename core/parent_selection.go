package core

import (
	"container/heap"
	"math"

	"github.com/signalsfoundry/grid-hierarchy/kb"
)

// MinRoutingPower is the power used to cost routes for nodes without load so
// that unloaded nodes still get a meaningful path.
const MinRoutingPower = 1.0

// ParentSelection is the outcome of a parent search.
type ParentSelection struct {
	ParentID  string
	Found     bool
	TotalCost float64  // +Inf when Found is false
	Path      []string // child first, parent last
}

// ParentSelector finds the cheapest physically reachable node of the type
// allowed to supply a given child.
type ParentSelector struct {
	graph *kb.KnowledgeBase
	cost  EdgeCostFunc
}

// NewParentSelector builds a selector. A nil cost falls back to LengthCost.
func NewParentSelector(graph *kb.KnowledgeBase, cost EdgeCostFunc) *ParentSelector {
	if cost == nil {
		cost = LengthCost
	}
	return &ParentSelector{graph: graph, cost: cost}
}

// Select runs Dijkstra from childID over the undirected physical graph and
// stops at the first settled node whose type may parent the child. Nodes in
// exclude are neither traversed nor selected.
//
// Equal-cost frontier entries settle in ascending node id order, so results
// are reproducible for a given graph.
func (p *ParentSelector) Select(childID string, exclude map[string]struct{}) ParentSelection {
	miss := ParentSelection{TotalCost: math.Inf(1)}

	child := p.graph.GetNode(childID)
	if child == nil {
		return miss
	}
	want, ok := child.Type.ParentType()
	if !ok {
		return miss
	}

	power := child.CurrentLoad
	if power <= 0 {
		power = MinRoutingPower
	}

	dist := map[string]float64{childID: 0}
	prev := make(map[string]string)
	settled := make(map[string]struct{})

	pq := &frontier{}
	heap.Push(pq, &frontierItem{nodeID: childID, cost: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*frontierItem)
		if _, done := settled[item.nodeID]; done {
			continue
		}
		if item.cost > dist[item.nodeID] {
			continue
		}
		settled[item.nodeID] = struct{}{}

		if item.nodeID != childID {
			if n := p.graph.GetNode(item.nodeID); n != nil && n.Type == want {
				return ParentSelection{
					ParentID:  item.nodeID,
					Found:     true,
					TotalCost: item.cost,
					Path:      buildPath(prev, childID, item.nodeID),
				}
			}
		}

		for _, e := range p.graph.IncidentEdges(item.nodeID) {
			next := e.Other(item.nodeID)
			if next == "" {
				continue
			}
			if _, skip := exclude[next]; skip {
				continue
			}
			if _, done := settled[next]; done {
				continue
			}
			step := p.cost(p.graph, e, power)
			if math.IsNaN(step) {
				continue
			}
			if step < 0 {
				step = 0
			}
			cand := item.cost + step
			if old, seen := dist[next]; seen && cand >= old {
				continue
			}
			dist[next] = cand
			prev[next] = item.nodeID
			heap.Push(pq, &frontierItem{nodeID: next, cost: cand})
		}
	}
	return miss
}

func buildPath(prev map[string]string, from, to string) []string {
	path := []string{to}
	for cur := to; cur != from; {
		p, ok := prev[cur]
		if !ok {
			return nil
		}
		path = append(path, p)
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type frontierItem struct {
	nodeID string
	cost   float64
	index  int
}

// frontier is a min-heap on cost, ties broken by node id.
type frontier []*frontierItem

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].cost != f[j].cost {
		return f[i].cost < f[j].cost
	}
	return f[i].nodeID < f[j].nodeID
}

func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].index = i
	f[j].index = j
}

func (f *frontier) Push(x any) {
	item := x.(*frontierItem)
	item.index = len(*f)
	*f = append(*f, item)
}

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*f = old[:n-1]
	return item
}
