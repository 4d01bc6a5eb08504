package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// CapacityPerSlot is the headroom granted per child slot (plus one for the
// station itself) when capacities are derived from topology.
const CapacityPerSlot = 13.0

// InitializeCapacities derives station capacities from the current forest,
// leaves first: capacity = 13*(children+1) + sum of child capacities.
// Consumers never carry a capacity and have theirs cleared.
func InitializeCapacities(graph *kb.KnowledgeBase, forest *LogicalForest) {
	order := forest.Preorder()
	for i := len(order) - 1; i >= 0; i-- {
		node := graph.GetNode(order[i])
		if node == nil {
			continue
		}
		if node.Type == model.Consumer {
			node.Capacity = nil
			continue
		}
		children := forest.Children(node.ID)
		total := CapacityPerSlot * float64(len(children)+1)
		for _, childID := range children {
			if child := graph.GetNode(childID); child != nil && child.Capacity != nil {
				total += *child.Capacity
			}
		}
		node.SetCapacity(&total)
	}
}

// InitializeCapacities applies the topology-derived capacity rule to the
// service's forest and records it in the journal.
func (s *RoutingService) InitializeCapacities(ctx context.Context) []Event {
	InitializeCapacities(s.graph, s.forest)
	ev := s.newLog()
	ev.add(EventCapacityChanged, "", "", fmt.Sprintf("capacities derived from topology for %d nodes", s.forest.Len()))
	s.log.Info(ctx, "capacities initialised", logging.Int("nodes", s.forest.Len()))
	return s.commit(ev)
}
