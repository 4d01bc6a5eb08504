package core

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

func addNode(t *testing.T, g *kb.KnowledgeBase, id string, typ model.NodeType, load float64, capacity *float64) *model.Node {
	t.Helper()
	n := &model.Node{ID: id, Type: typ, CurrentLoad: load, Capacity: capacity}
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode(%q): %v", id, err)
	}
	return n
}

func link(t *testing.T, g *kb.KnowledgeBase, from, to string, length float64) {
	t.Helper()
	e := &model.Edge{ID: from + "--" + to, From: from, To: to, Length: length}
	if err := g.AddEdge(e); err != nil {
		t.Fatalf("AddEdge(%s): %v", e.ID, err)
	}
}

func seeded(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func fixedClock() func() time.Time {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

// backbone builds plant -> ts -> ds physically (edges of length 1) with the
// given capacities, without any forest state.
func backbone(t *testing.T, tsCap, dsCap *float64) *kb.KnowledgeBase {
	t.Helper()
	g := kb.NewKnowledgeBase()
	addNode(t, g, "plant", model.Plant, 0, nil)
	addNode(t, g, "ts", model.TransmissionSubstation, 0, tsCap)
	addNode(t, g, "ds", model.DistributionSubstation, 0, dsCap)
	link(t, g, "plant", "ts", 1)
	link(t, g, "ts", "ds", 1)
	return g
}

func mustAttach(t *testing.T, s *RoutingService, childID string) ChangeParentResult {
	t.Helper()
	res := s.ChangeParentWithRouting(t.Context(), childID)
	if !res.Success {
		t.Fatalf("routing %q failed: %s (%v)", childID, res.Reason, res.Err)
	}
	return res
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// checkForest asserts single-parent bookkeeping and acyclicity for every
// node known to the graph or the forest.
func checkForest(t *testing.T, s *RoutingService) {
	t.Helper()
	f := s.Forest()
	ids := map[string]struct{}{}
	for _, n := range s.Graph().ListNodes() {
		ids[n.ID] = struct{}{}
	}
	for _, id := range f.Preorder() {
		ids[id] = struct{}{}
	}

	for id := range ids {
		if chain := f.Ancestors(id); len(chain) > len(ids) {
			t.Fatalf("ancestor chain of %q longer than node count", id)
		}
		seen := map[string]struct{}{id: {}}
		for _, a := range f.Ancestors(id) {
			if _, dup := seen[a]; dup {
				t.Fatalf("cycle through %q", a)
			}
			seen[a] = struct{}{}
		}

		parent, ok := f.Parent(id)
		if ok {
			count := 0
			for _, c := range f.Children(parent) {
				if c == id {
					count++
				}
			}
			if count != 1 {
				t.Fatalf("%q listed %d times under its parent %q", id, count, parent)
			}
		}
		for _, c := range f.Children(id) {
			if p, _ := f.Parent(c); p != id {
				t.Fatalf("%q lists child %q whose parent is %q", id, c, p)
			}
		}
	}
}

// checkLoads asserts every node with children carries the sum of their loads.
func checkLoads(t *testing.T, s *RoutingService) {
	t.Helper()
	for _, id := range s.Forest().Preorder() {
		children := s.Forest().Children(id)
		if len(children) == 0 {
			continue
		}
		node := s.Graph().GetNode(id)
		sum := 0.0
		for _, c := range children {
			sum += s.Graph().GetNode(c).CurrentLoad
		}
		if !approx(node.CurrentLoad, sum) {
			t.Fatalf("load of %q = %v, children sum to %v", id, node.CurrentLoad, sum)
		}
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	shed     int
	critical int
}

func (r *recordingMetrics) ObserveRouting(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingMetrics) ObserveShed(shed int, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shed += shed
	if critical {
		r.critical++
	}
}
