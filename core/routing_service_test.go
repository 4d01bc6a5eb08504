package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

func hydrated(t *testing.T, g *kb.KnowledgeBase, opts ...Option) *RoutingService {
	t.Helper()
	s := NewRoutingService(g, opts...)
	if _, err := s.Hydrate(t.Context()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	s.DrainEvents()
	return s
}

func TestAttachConsumerPropagatesLoad(t *testing.T) {
	g := backbone(t, model.Float64(100), model.Float64(50))
	s := hydrated(t, g)

	res, err := s.Attach(t.Context(),
		&model.Node{ID: "c", Type: model.Consumer, CurrentLoad: 30},
		[]*model.Edge{{ID: "c--ds", From: "c", To: "ds", Length: 1}},
	)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !res.Success || res.NewParentID != "ds" || res.Reason != "parent changed via routing" {
		t.Fatalf("Attach result = %+v", res)
	}
	if got := g.GetNode("ds").CurrentLoad; got != 30 {
		t.Fatalf("ds load = %v, want 30", got)
	}
	if got := g.GetNode("ts").CurrentLoad; got != 30 {
		t.Fatalf("ts load = %v, want 30", got)
	}
	if got := g.GetNode("plant").CurrentLoad; got != 30 {
		t.Fatalf("plant load = %v, want 30", got)
	}
	checkForest(t, s)
	checkLoads(t, s)
}

func TestForceAttachRejectsWhenParentFull(t *testing.T) {
	g := backbone(t, nil, model.Float64(50))
	addNode(t, g, "c1", model.Consumer, 45, nil)
	link(t, g, "c1", "ds", 1)
	s := hydrated(t, g)
	if got := g.GetNode("ds").CurrentLoad; got != 45 {
		t.Fatalf("ds load = %v, want 45", got)
	}

	addNode(t, g, "c2", model.Consumer, 10, nil)
	res := s.ForceAttach(t.Context(), "c2", "ds")

	if res.Success || !errors.Is(res.Err, ErrInsufficientCapacity) {
		t.Fatalf("ForceAttach = %+v, want insufficient capacity", res)
	}
	if res.Reason != "new parent has insufficient capacity" {
		t.Fatalf("Reason = %q", res.Reason)
	}
	if got := g.GetNode("ds").CurrentLoad; got != 45 {
		t.Fatalf("ds load changed to %v", got)
	}
	if _, ok := s.Forest().Parent("c2"); ok {
		t.Fatalf("c2 attached despite failure")
	}
	if s.IsUnsupplied("c2") {
		t.Fatalf("a rejected forced attach must not flag the consumer")
	}
}

func TestForceAttachEnforcesTypes(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "c", model.Consumer, 1, nil)
	link(t, g, "c", "ds", 1)
	s := hydrated(t, g)

	ids := []string{"plant", "ts", "ds", "c"}
	for _, child := range ids {
		for _, parent := range ids {
			before, _ := s.Forest().Parent(child)
			res := s.ForceAttach(t.Context(), child, parent)

			cn, pn := g.GetNode(child), g.GetNode(parent)
			if res.Success {
				if !cn.Type.AcceptsParent(pn.Type) {
					t.Fatalf("ForceAttach(%s, %s) succeeded across incompatible types", child, parent)
				}
				continue
			}
			if !cn.Type.AcceptsParent(pn.Type) && !errors.Is(res.Err, ErrIncompatibleType) {
				t.Fatalf("ForceAttach(%s, %s) err = %v, want ErrIncompatibleType", child, parent, res.Err)
			}
			if after, _ := s.Forest().Parent(child); after != before {
				t.Fatalf("failed ForceAttach(%s, %s) moved child from %q to %q", child, parent, before, after)
			}
		}
	}
	checkForest(t, s)
}

func TestForceAttachReasons(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "ds-2", model.DistributionSubstation, 0, nil)
	addNode(t, g, "c", model.Consumer, 3, nil)
	link(t, g, "c", "ds", 1)
	link(t, g, "ts", "ds-2", 1)
	s := hydrated(t, g)

	tests := []struct {
		child, parent string
		reason        string
		err           error
	}{
		{"nope", "ds", "child node not found", ErrNodeNotFound},
		{"c", "nope", "new parent node not found", ErrNodeNotFound},
		{"c", "ts", "incompatible parent type", ErrIncompatibleType},
		{"c", "ds", "parent unchanged (forced parent is current parent)", nil},
		{"c", "ds-2", "parent changed by force", nil},
	}
	for _, tt := range tests {
		res := s.ForceAttach(t.Context(), tt.child, tt.parent)
		if res.Reason != tt.reason {
			t.Fatalf("ForceAttach(%s, %s) reason = %q, want %q", tt.child, tt.parent, res.Reason, tt.reason)
		}
		if tt.err == nil && !res.Success {
			t.Fatalf("ForceAttach(%s, %s) failed: %v", tt.child, tt.parent, res.Err)
		}
		if tt.err != nil && !errors.Is(res.Err, tt.err) {
			t.Fatalf("ForceAttach(%s, %s) err = %v, want %v", tt.child, tt.parent, res.Err, tt.err)
		}
	}
	if g.GetNode("ds").CurrentLoad != 0 || g.GetNode("ds-2").CurrentLoad != 3 {
		t.Fatalf("loads after forced move: ds %v ds-2 %v", g.GetNode("ds").CurrentLoad, g.GetNode("ds-2").CurrentLoad)
	}
	checkLoads(t, s)
}

func TestChangeParentWithRoutingUnchangedAndMissing(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "c", model.Consumer, 2, nil)
	link(t, g, "c", "ds", 1)
	s := hydrated(t, g)

	res := s.ChangeParentWithRouting(t.Context(), "c")
	if !res.Success || res.Changed() || res.Reason != "parent unchanged (best parent is current parent)" {
		t.Fatalf("second routing = %+v", res)
	}

	res = s.ChangeParentWithRouting(t.Context(), "ghost")
	if res.Success || !errors.Is(res.Err, ErrNodeNotFound) || res.Reason != "child node not found" {
		t.Fatalf("routing unknown node = %+v", res)
	}
}

func TestRoutingFailureKeepsSupplierButFlagsConsumer(t *testing.T) {
	g := backbone(t, nil, model.Float64(100))
	addNode(t, g, "ds-near", model.DistributionSubstation, 0, model.Float64(1))
	link(t, g, "ts", "ds-near", 1)
	addNode(t, g, "c", model.Consumer, 5, nil)
	link(t, g, "c", "ds", 10)
	s := hydrated(t, g)

	// A closer station appears but cannot take the load.
	link(t, g, "c", "ds-near", 1)
	res := s.ChangeParentWithRouting(t.Context(), "c")

	if res.Success || !errors.Is(res.Err, ErrInsufficientCapacity) {
		t.Fatalf("routing = %+v, want insufficient capacity", res)
	}
	if p, _ := s.Forest().Parent("c"); p != "ds" {
		t.Fatalf("consumer moved to %q", p)
	}
	if got := g.GetNode("ds").CurrentLoad; got != 5 {
		t.Fatalf("ds load = %v, want 5", got)
	}
	if !s.IsUnsupplied("c") {
		t.Fatalf("consumer whose routing failed should be flagged unsupplied")
	}

	// Still blocked: the sweep retries it and leaves it flagged.
	rep, err := s.RetryUnsupplied(t.Context())
	if err != nil {
		t.Fatalf("RetryUnsupplied: %v", err)
	}
	if !reflect.DeepEqual(rep.Unsupplied, []string{"c"}) {
		t.Fatalf("sweep unsupplied = %v, want [c]", rep.Unsupplied)
	}

	// Once the near station has room the sweep moves it and clears the flag.
	g.GetNode("ds-near").SetCapacity(model.Float64(50))
	rep, err = s.RetryUnsupplied(t.Context())
	if err != nil {
		t.Fatalf("RetryUnsupplied: %v", err)
	}
	if p, _ := s.Forest().Parent("c"); p != "ds-near" || s.IsUnsupplied("c") {
		t.Fatalf("after sweep parent=%q unsupplied=%v", p, s.IsUnsupplied("c"))
	}
	checkForest(t, s)
	checkLoads(t, s)
}

func TestNoRouteMarksConsumerUnsupplied(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "island", model.Consumer, 1, nil)
	metrics := &recordingMetrics{}
	s := hydrated(t, g, WithMetricsRecorder(metrics))

	res := s.ChangeParentWithRouting(t.Context(), "island")
	if res.Success || !errors.Is(res.Err, ErrNoRouteFound) {
		t.Fatalf("routing = %+v, want no route", res)
	}
	if got := s.Unsupplied(); !reflect.DeepEqual(got, []string{"island"}) {
		t.Fatalf("Unsupplied = %v", got)
	}
	last := metrics.outcomes[len(metrics.outcomes)-1]
	if last != OutcomeNoRoute {
		t.Fatalf("last outcome = %q, want %q", last, OutcomeNoRoute)
	}
}

// stationRemovalFixture: ts feeds ds-1 (c1, c2) and ds-2, which is
// physically reachable from both consumers at a higher cost.
func stationRemovalFixture(t *testing.T, ds2Cap *float64) (*RoutingService, *kb.KnowledgeBase) {
	t.Helper()
	g := kb.NewKnowledgeBase()
	addNode(t, g, "plant", model.Plant, 0, nil)
	addNode(t, g, "ts", model.TransmissionSubstation, 0, nil)
	addNode(t, g, "ds-1", model.DistributionSubstation, 0, nil)
	addNode(t, g, "ds-2", model.DistributionSubstation, 0, ds2Cap)
	addNode(t, g, "c1", model.Consumer, 10, nil)
	addNode(t, g, "c2", model.Consumer, 10, nil)
	link(t, g, "plant", "ts", 1)
	link(t, g, "ts", "ds-1", 1)
	link(t, g, "ts", "ds-2", 1)
	link(t, g, "c1", "ds-1", 1)
	link(t, g, "c2", "ds-1", 1)
	link(t, g, "c1", "ds-2", 5)
	link(t, g, "c2", "ds-2", 5)

	s := hydrated(t, g)
	if !reflect.DeepEqual(s.Forest().Children("ds-1"), []string{"c1", "c2"}) {
		t.Fatalf("fixture: ds-1 children = %v", s.Forest().Children("ds-1"))
	}
	return s, g
}

func TestStationRemovalReroutesChildren(t *testing.T) {
	s, g := stationRemovalFixture(t, model.Float64(100))

	out, err := s.DetachAndRerouteChildren(t.Context(), "ds-1")
	if err != nil {
		t.Fatalf("DetachAndRerouteChildren: %v", err)
	}
	if len(out.Rerouted) != 2 || len(out.Unsupplied) != 0 {
		t.Fatalf("result = %+v", out)
	}
	for _, c := range []string{"c1", "c2"} {
		if p, _ := s.Forest().Parent(c); p != "ds-2" {
			t.Fatalf("%s parent = %q, want ds-2", c, p)
		}
	}
	if g.GetNode("ds-1") != nil || s.Forest().Contains("ds-1") {
		t.Fatalf("station still present")
	}
	if got := s.Unsupplied(); len(got) != 0 {
		t.Fatalf("Unsupplied = %v", got)
	}
	if g.GetNode("ds-2").CurrentLoad != 20 || g.GetNode("ts").CurrentLoad != 20 {
		t.Fatalf("loads: ds-2 %v ts %v", g.GetNode("ds-2").CurrentLoad, g.GetNode("ts").CurrentLoad)
	}
	checkForest(t, s)
	checkLoads(t, s)
}

func TestStationRemovalWithoutAlternative(t *testing.T) {
	s, g := stationRemovalFixture(t, model.Float64(5))

	out, err := s.DetachAndRerouteChildren(t.Context(), "ds-1")
	if err != nil {
		t.Fatalf("DetachAndRerouteChildren: %v", err)
	}
	if got := s.Unsupplied(); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("Unsupplied = %v, want [c1 c2]", got)
	}
	if !reflect.DeepEqual(out.Unsupplied, []string{"c1", "c2"}) {
		t.Fatalf("result unsupplied = %v", out.Unsupplied)
	}
	if g.GetNode("ts").CurrentLoad != 0 {
		t.Fatalf("ts load = %v, want 0", g.GetNode("ts").CurrentLoad)
	}
	checkForest(t, s)
}

func TestStationRemovalRejectsNonStations(t *testing.T) {
	s, _ := stationRemovalFixture(t, nil)

	if _, err := s.DetachAndRerouteChildren(t.Context(), "c1"); !errors.Is(err, ErrNotStation) {
		t.Fatalf("consumer removal err = %v, want ErrNotStation", err)
	}
	if _, err := s.DetachAndRerouteChildren(t.Context(), "plant"); !errors.Is(err, ErrNotStation) {
		t.Fatalf("plant removal err = %v, want ErrNotStation", err)
	}
	if _, err := s.DetachAndRerouteChildren(t.Context(), "gone"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("missing removal err = %v, want ErrNodeNotFound", err)
	}
}

func TestRemoveNodeOrphansChildren(t *testing.T) {
	s, g := stationRemovalFixture(t, model.Float64(100))

	out, err := s.RemoveNode(t.Context(), "ds-1")
	if err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if !reflect.DeepEqual(out.Orphaned, []string{"c1", "c2"}) {
		t.Fatalf("Orphaned = %v", out.Orphaned)
	}
	for _, c := range []string{"c1", "c2"} {
		if _, ok := s.Forest().Parent(c); ok {
			t.Fatalf("%s rerouted by orphaning removal", c)
		}
		if g.GetNode(c) == nil {
			t.Fatalf("%s deleted", c)
		}
	}
	if got := s.Unsupplied(); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("Unsupplied = %v", got)
	}
	if g.GetNode("ts").CurrentLoad != 0 {
		t.Fatalf("ts load = %v, want 0", g.GetNode("ts").CurrentLoad)
	}

	rep, err := s.RetryUnsupplied(t.Context())
	if err != nil {
		t.Fatalf("RetryUnsupplied: %v", err)
	}
	if !reflect.DeepEqual(rep.Attached, []string{"c1", "c2"}) || len(rep.Unsupplied) != 0 {
		t.Fatalf("retry = %+v", rep)
	}
	checkLoads(t, s)
}

func TestHydrateConnectsChain(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "c", model.Consumer, 5, nil)
	link(t, g, "c", "ds", 1)

	s := NewRoutingService(g)
	rep, err := s.Hydrate(t.Context())
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if rep.Attempted != 3 || len(rep.Attached) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if got := s.Forest().Ancestors("c"); !reflect.DeepEqual(got, []string{"ds", "ts", "plant"}) {
		t.Fatalf("Ancestors(c) = %v", got)
	}
	if got := s.Unsupplied(); len(got) != 0 {
		t.Fatalf("Unsupplied = %v", got)
	}
	checkForest(t, s)
	checkLoads(t, s)
}

func TestHydrateStopsOnCancel(t *testing.T) {
	g := backbone(t, nil, nil)
	s := NewRoutingService(g)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rep, err := s.Hydrate(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep.Attempted != 0 {
		t.Fatalf("attempted %d nodes after cancel", rep.Attempted)
	}
	if got := s.Forest().Roots(); !reflect.DeepEqual(got, []string{"plant"}) {
		t.Fatalf("Roots = %v", got)
	}
}

func TestRetryUnsuppliedIsIdempotent(t *testing.T) {
	g := backbone(t, nil, model.Float64(15))
	for _, id := range []string{"c1", "c2"} {
		addNode(t, g, id, model.Consumer, 10, nil)
		link(t, g, id, "ds", 1)
	}
	s := hydrated(t, g)

	first, err := s.RetryUnsupplied(t.Context())
	if err != nil {
		t.Fatalf("RetryUnsupplied: %v", err)
	}
	second, err := s.RetryUnsupplied(t.Context())
	if err != nil {
		t.Fatalf("RetryUnsupplied: %v", err)
	}
	if !reflect.DeepEqual(first.Unsupplied, []string{"c2"}) {
		t.Fatalf("first sweep unsupplied = %v, want [c2]", first.Unsupplied)
	}
	if !reflect.DeepEqual(first.Unsupplied, second.Unsupplied) {
		t.Fatalf("sweeps disagree: %v vs %v", first.Unsupplied, second.Unsupplied)
	}
}

func TestCheckSystemHealthDetachesUntilWithinCapacity(t *testing.T) {
	g := backbone(t, nil, model.Float64(100))
	for _, id := range []string{"c1", "c2"} {
		addNode(t, g, id, model.Consumer, 30, nil)
		link(t, g, id, "ds", 1)
	}
	s := hydrated(t, g)
	g.GetNode("ds").SetCapacity(model.Float64(40))

	rep, err := s.CheckSystemHealth(t.Context())
	if err != nil {
		t.Fatalf("CheckSystemHealth: %v", err)
	}
	if !reflect.DeepEqual(rep.Detached, []string{"c1"}) {
		t.Fatalf("Detached = %v, want [c1]", rep.Detached)
	}
	if !reflect.DeepEqual(rep.Retry.Failed, []string{"c1"}) {
		t.Fatalf("retry failed = %v, want [c1]", rep.Retry.Failed)
	}
	if got := g.GetNode("ds").CurrentLoad; got != 30 {
		t.Fatalf("ds load = %v, want 30", got)
	}
	if got := s.Unsupplied(); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("Unsupplied = %v", got)
	}
	checkForest(t, s)
	checkLoads(t, s)
}

func TestSetCapacityAndForceOverload(t *testing.T) {
	s, g := overloadFixture(t, 7)
	g.GetNode("ds").SetCapacity(model.Float64(100))

	if _, err := s.SetCapacity(t.Context(), "ds", model.Float64(-1)); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("negative capacity err = %v", err)
	}
	if _, err := s.SetCapacity(t.Context(), "ghost", nil); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("missing node err = %v", err)
	}
	if _, err := s.ForceOverload(t.Context(), "ds", -0.5); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("negative pct err = %v", err)
	}

	rep, err := s.ForceOverload(t.Context(), "ds", 0.125)
	if err != nil {
		t.Fatalf("ForceOverload: %v", err)
	}
	if got := *g.GetNode("ds").Capacity; !approx(got, 40) {
		t.Fatalf("capacity = %v, want 40", got)
	}
	if len(rep.Shed) == 0 || g.GetNode("ds").CurrentLoad > 40 {
		t.Fatalf("force overload report = %+v", rep)
	}

	rep, err = s.SetCapacity(t.Context(), "ds", nil)
	if err != nil || rep.Overloaded() || g.GetNode("ds").HasCapacity() {
		t.Fatalf("removing capacity: rep %+v err %v", rep, err)
	}
	checkLoads(t, s)
}

func TestUpdateLeafLoad(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "c", model.Consumer, 5, nil)
	link(t, g, "c", "ds", 1)
	loads := NewLoadTable(map[string]float64{"c": 5})
	s := hydrated(t, g, WithLoadProvider(loads))

	loads.Set("c", 12.5)
	up, err := s.UpdateLeafLoad(t.Context(), "c")
	if err != nil {
		t.Fatalf("UpdateLeafLoad: %v", err)
	}
	if up.Load != 12.5 || g.GetNode("plant").CurrentLoad != 12.5 {
		t.Fatalf("update = %+v, plant %v", up, g.GetNode("plant").CurrentLoad)
	}
	if _, err := s.UpdateLeafLoad(t.Context(), "ds"); !errors.Is(err, ErrIncompatibleType) {
		t.Fatalf("station leaf update err = %v", err)
	}
}

func TestAttachRollsBackOnBadEdge(t *testing.T) {
	g := backbone(t, nil, nil)
	s := hydrated(t, g)

	_, err := s.Attach(t.Context(),
		&model.Node{ID: "c", Type: model.Consumer},
		[]*model.Edge{
			{ID: "ok", From: "c", To: "ds", Length: 1},
			{ID: "bad", From: "c", To: "nowhere", Length: 1},
		},
	)
	if !errors.Is(err, kb.ErrNodeNotFound) {
		t.Fatalf("Attach err = %v, want ErrNodeNotFound", err)
	}
	if g.GetNode("c") != nil || g.GetEdge("ok") != nil {
		t.Fatalf("partial attach left in graph")
	}
	if s.Forest().Contains("c") {
		t.Fatalf("forest touched by failed attach")
	}
}

func TestAttachRollsBackEdgesBetweenOtherNodes(t *testing.T) {
	g := backbone(t, nil, nil)
	s := hydrated(t, g)

	_, err := s.Attach(t.Context(),
		&model.Node{ID: "c", Type: model.Consumer},
		[]*model.Edge{
			{ID: "stray", From: "ds", To: "plant", Length: 1},
			{ID: "bad", From: "c", To: "missing", Length: 1},
		},
	)
	if !errors.Is(err, kb.ErrNodeNotFound) {
		t.Fatalf("Attach err = %v, want ErrNodeNotFound", err)
	}
	if e := g.GetEdge("stray"); e != nil {
		t.Fatalf("edge %+v left in graph after failed attach", e)
	}
	if g.Degree("ds") != 1 || g.Degree("plant") != 1 {
		t.Fatalf("degrees ds=%d plant=%d, want 1 and 1", g.Degree("ds"), g.Degree("plant"))
	}
}

func TestAttachStationDropsArrivalLoad(t *testing.T) {
	g := backbone(t, nil, nil)
	s := hydrated(t, g)

	res, err := s.Attach(t.Context(),
		&model.Node{ID: "ds-2", Type: model.DistributionSubstation, CurrentLoad: 80},
		[]*model.Edge{{ID: "ts--ds-2", From: "ts", To: "ds-2", Length: 1}},
	)
	if err != nil || !res.Success || res.NewParentID != "ts" {
		t.Fatalf("Attach = %+v, %v", res, err)
	}
	if got := g.GetNode("ds-2").CurrentLoad; got != 0 {
		t.Fatalf("childless station load = %v, want 0", got)
	}
	if got := g.GetNode("plant").CurrentLoad; got != 0 {
		t.Fatalf("plant load = %v, want 0", got)
	}
	checkLoads(t, s)
}

func TestAttachPlantBecomesRoot(t *testing.T) {
	s := NewRoutingService(nil)
	res, err := s.Attach(t.Context(), &model.Node{ID: "p2", Type: model.Plant}, nil)
	if err != nil || !res.Success {
		t.Fatalf("Attach plant: %+v %v", res, err)
	}
	if got := s.Forest().Roots(); !reflect.DeepEqual(got, []string{"p2"}) {
		t.Fatalf("Roots = %v", got)
	}
}

func TestEventsAreReturnedAndJournaled(t *testing.T) {
	g := backbone(t, nil, nil)
	addNode(t, g, "c", model.Consumer, 1, nil)
	link(t, g, "c", "ds", 1)
	clock := fixedClock()
	s := NewRoutingService(g, WithClock(clock))

	rep, err := s.Hydrate(t.Context())
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	drained := s.DrainEvents()
	if !reflect.DeepEqual(drained, rep.Events) {
		t.Fatalf("journal %d events, result %d", len(drained), len(rep.Events))
	}
	if len(drained) == 0 {
		t.Fatalf("hydration produced no events")
	}
	if last := drained[len(drained)-1]; last.Kind != EventHydrated {
		t.Fatalf("last event = %+v", last)
	}
	ids := map[string]struct{}{}
	for _, e := range drained {
		if !e.Time.Equal(clock()) {
			t.Fatalf("event time %v not from injected clock", e.Time)
		}
		if _, dup := ids[e.ID]; dup || e.ID == "" {
			t.Fatalf("event id %q missing or duplicated", e.ID)
		}
		ids[e.ID] = struct{}{}
	}
	if again := s.DrainEvents(); len(again) != 0 {
		t.Fatalf("second drain returned %d events", len(again))
	}
}

func TestMixedOperationsKeepInvariants(t *testing.T) {
	g := kb.NewKnowledgeBase()
	addNode(t, g, "plant", model.Plant, 0, nil)
	for _, ts := range []string{"ts-1", "ts-2"} {
		addNode(t, g, ts, model.TransmissionSubstation, 0, model.Float64(200))
		link(t, g, "plant", ts, 10)
	}
	dss := map[string]string{"ds-1": "ts-1", "ds-2": "ts-1", "ds-3": "ts-2"}
	for ds, ts := range dss {
		addNode(t, g, ds, model.DistributionSubstation, 0, model.Float64(60))
		link(t, g, ts, ds, 4)
	}
	consumers := []struct {
		id   string
		ds   string
		load float64
	}{
		{"c-1", "ds-1", 20}, {"c-2", "ds-1", 25}, {"c-3", "ds-2", 30},
		{"c-4", "ds-2", 15}, {"c-5", "ds-3", 40}, {"c-6", "ds-3", 10},
	}
	for _, c := range consumers {
		addNode(t, g, c.id, model.Consumer, c.load, nil)
		link(t, g, c.id, c.ds, 1)
	}
	link(t, g, "c-2", "ds-3", 3)
	link(t, g, "c-4", "ds-1", 2)

	s := hydrated(t, g, WithRand(seeded(11)))
	checkForest(t, s)
	checkLoads(t, s)

	steps := []func(){
		func() { s.ForceAttach(t.Context(), "c-4", "ds-1") },
		func() { _, _ = s.ForceOverload(t.Context(), "ds-1", 0.5) },
		func() { _, _ = s.CheckSystemHealth(t.Context()) },
		func() { _, _ = s.DetachAndRerouteChildren(t.Context(), "ds-3") },
		func() { _, _ = s.RemoveNode(t.Context(), "ts-2") },
		func() { _, _ = s.RetryUnsupplied(t.Context()) },
	}
	for i, step := range steps {
		step()
		checkForest(t, s)
		checkLoads(t, s)
		for _, id := range s.Forest().Preorder() {
			p, ok := s.Forest().Parent(id)
			if !ok {
				continue
			}
			if !g.GetNode(id).Type.AcceptsParent(g.GetNode(p).Type) {
				t.Fatalf("step %d: %s under incompatible %s", i, id, p)
			}
		}
	}
}
