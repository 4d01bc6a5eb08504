package core

import (
	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// DeviceLoadProvider supplies the instantaneous load of a Consumer, summed
// over its devices. ok is false when the provider has no figure for id.
type DeviceLoadProvider interface {
	ConsumerLoad(id string) (load float64, ok bool)
}

// LoadTable is a map-backed DeviceLoadProvider. The zero value is ready to
// use. It is not safe for concurrent use.
type LoadTable struct {
	loads map[string]float64
}

// NewLoadTable returns a table seeded with a copy of initial.
func NewLoadTable(initial map[string]float64) *LoadTable {
	t := &LoadTable{loads: make(map[string]float64, len(initial))}
	for id, v := range initial {
		t.loads[id] = v
	}
	return t
}

// Set records the load reported for a consumer.
func (t *LoadTable) Set(id string, load float64) {
	if t.loads == nil {
		t.loads = make(map[string]float64)
	}
	t.loads[id] = load
}

// Delete drops any figure recorded for id.
func (t *LoadTable) Delete(id string) { delete(t.loads, id) }

func (t *LoadTable) ConsumerLoad(id string) (float64, bool) {
	v, ok := t.loads[id]
	return v, ok
}

// LoadAggregator keeps station loads equal to the sum of their logical
// children. Consumer loads come from a DeviceLoadProvider.
type LoadAggregator struct {
	graph  *kb.KnowledgeBase
	forest *LogicalForest
	loads  DeviceLoadProvider
}

// NewLoadAggregator wires an aggregator over graph and forest. loads may be
// nil, in which case leaf updates keep the consumer's current figure.
func NewLoadAggregator(graph *kb.KnowledgeBase, forest *LogicalForest, loads DeviceLoadProvider) *LoadAggregator {
	return &LoadAggregator{graph: graph, forest: forest, loads: loads}
}

// RecomputeFromChildren sets the node's load to the sum of its children's
// loads and returns it. A missing node yields 0 and changes nothing.
func (a *LoadAggregator) RecomputeFromChildren(id string) float64 {
	node := a.graph.GetNode(id)
	if node == nil {
		return 0
	}
	total := 0.0
	for _, childID := range a.forest.Children(id) {
		if child := a.graph.GetNode(childID); child != nil {
			total += child.CurrentLoad
		}
	}
	node.CurrentLoad = total
	return total
}

// PropagateUpward recomputes every ancestor of start, nearest first. start
// itself is not recomputed.
func (a *LoadAggregator) PropagateUpward(start string) {
	for _, id := range a.forest.Ancestors(start) {
		a.RecomputeFromChildren(id)
	}
}

// RefreshFrom recomputes id from its children and then its ancestors. It is
// used after a structural change under id.
func (a *LoadAggregator) RefreshFrom(id string) {
	if id == "" {
		return
	}
	a.RecomputeFromChildren(id)
	a.PropagateUpward(id)
}

// UpdateAfterLeafChange reloads a consumer's figure from the provider and
// propagates it upward. It returns the consumer's resulting load; non
// consumers are left untouched and yield 0.
func (a *LoadAggregator) UpdateAfterLeafChange(consumerID string) float64 {
	node := a.graph.GetNode(consumerID)
	if node == nil || node.Type != model.Consumer {
		return 0
	}
	if a.loads != nil {
		if v, ok := a.loads.ConsumerLoad(consumerID); ok {
			node.CurrentLoad = v
		}
	}
	a.PropagateUpward(consumerID)
	return node.CurrentLoad
}

// RecomputeAll rebuilds every station load bottom-up from the consumer
// figures currently on the graph.
func (a *LoadAggregator) RecomputeAll() {
	order := a.forest.Preorder()
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		node := a.graph.GetNode(id)
		if node == nil || node.Type == model.Consumer {
			continue
		}
		a.RecomputeFromChildren(id)
	}
}
