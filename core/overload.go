package core

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// OverloadReport describes what HandleOverload did to one node.
type OverloadReport struct {
	NodeID   string
	Shed     []string // detached children, in shedding order
	Critical bool     // still over capacity with nothing left to shed
	Load     float64
	Capacity *float64
	Events   []Event
}

// Overloaded reports whether the node was over capacity when handled.
func (r OverloadReport) Overloaded() bool {
	return len(r.Shed) > 0 || r.Critical
}

// OverloadManager sheds children of over-capacity nodes in a random order
// drawn from an injected source.
type OverloadManager struct {
	graph      *kb.KnowledgeBase
	forest     *LogicalForest
	aggregator *LoadAggregator
	unsupplied *UnsuppliedSet
	rng        *rand.Rand
	log        logging.Logger
	now        func() time.Time
}

// NewOverloadManager builds a manager. A nil rng is seeded from the clock.
func NewOverloadManager(graph *kb.KnowledgeBase, forest *LogicalForest, agg *LoadAggregator, unsupplied *UnsuppliedSet, rng *rand.Rand, log logging.Logger) *OverloadManager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logging.Noop()
	}
	return &OverloadManager{
		graph:      graph,
		forest:     forest,
		aggregator: agg,
		unsupplied: unsupplied,
		rng:        rng,
		log:        log,
		now:        time.Now,
	}
}

// HandleOverload detaches children of id one at a time until its load fits
// its capacity. Nodes without capacity, or within it, are left alone.
//
// After it returns, either load <= capacity or the node has no children. The
// latter is reported as Critical; it is never an error.
func (m *OverloadManager) HandleOverload(ctx context.Context, id string) OverloadReport {
	ev := &eventLog{now: m.now}
	rep := m.handle(ctx, id, ev)
	rep.Events = ev.events
	return rep
}

func (m *OverloadManager) handle(ctx context.Context, id string, ev *eventLog) OverloadReport {
	rep := OverloadReport{NodeID: id}
	node := m.graph.GetNode(id)
	if node == nil {
		return rep
	}
	rep.Load = node.CurrentLoad
	rep.Capacity = node.Capacity
	if !node.Overloaded() {
		return rep
	}

	capacity := *node.Capacity
	m.log.Warn(ctx, "node over capacity, shedding load",
		logging.String("node_id", id),
		logging.Float64("load", node.CurrentLoad),
		logging.Float64("capacity", capacity),
	)

	children := m.forest.Children(id)
	m.rng.Shuffle(len(children), func(i, j int) {
		children[i], children[j] = children[j], children[i]
	})

	for _, childID := range children {
		if node.CurrentLoad <= capacity {
			break
		}
		m.forest.Detach(childID)
		rep.Shed = append(rep.Shed, childID)
		ev.add(EventLoadShed, childID, id, fmt.Sprintf("node %s shed from %s", childID, id))

		if child := m.graph.GetNode(childID); child != nil && child.Type == model.Consumer {
			m.unsupplied.Add(childID)
			ev.add(EventUnsupplied, childID, "", fmt.Sprintf("consumer %s unsupplied after load shedding", childID))
		}
		m.aggregator.RecomputeFromChildren(id)
	}
	m.aggregator.PropagateUpward(id)
	rep.Load = node.CurrentLoad

	if node.CurrentLoad > capacity {
		rep.Critical = true
		ev.add(EventCriticalOverload, id, "", fmt.Sprintf("node %s remains over capacity (%.3f > %.3f) with no children left to shed", id, node.CurrentLoad, capacity))
		m.log.Error(ctx, "critical overload",
			logging.String("node_id", id),
			logging.Float64("load", node.CurrentLoad),
			logging.Float64("capacity", capacity),
		)
		return rep
	}

	ev.add(EventOverloadResolved, id, "", fmt.Sprintf("node %s back within capacity after shedding %d children", id, len(rep.Shed)))
	m.log.Info(ctx, "overload resolved",
		logging.String("node_id", id),
		logging.Int("shed", len(rep.Shed)),
	)
	return rep
}
