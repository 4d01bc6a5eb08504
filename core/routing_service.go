package core

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// Routing outcome labels reported to a MetricsRecorder.
const (
	OutcomeAttached             = "attached"
	OutcomeUnchanged            = "unchanged"
	OutcomeNotFound             = "not_found"
	OutcomeNoRoute              = "no_route"
	OutcomeInsufficientCapacity = "insufficient_capacity"
	OutcomeIncompatibleType     = "incompatible_type"
	OutcomeRejected             = "rejected"
)

// MetricsRecorder receives engine measurements. Implementations must be
// cheap; they are called inline on every routing attempt.
type MetricsRecorder interface {
	ObserveRouting(outcome string, d time.Duration)
	ObserveShed(shed int, critical bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRouting(string, time.Duration) {}
func (noopMetrics) ObserveShed(int, bool)                {}

// Option configures a RoutingService.
type Option func(*RoutingService)

// WithEdgeCost sets the routing cost function (default LengthCost).
func WithEdgeCost(fn EdgeCostFunc) Option {
	return func(s *RoutingService) {
		if fn != nil {
			s.cost = fn
		}
	}
}

// WithRand injects the randomness source used for load shedding order.
func WithRand(r *rand.Rand) Option {
	return func(s *RoutingService) { s.rng = r }
}

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *RoutingService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder wires routing and shedding measurements.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *RoutingService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(s *RoutingService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoadProvider sets the source of consumer loads for leaf updates.
func WithLoadProvider(p DeviceLoadProvider) Option {
	return func(s *RoutingService) { s.loads = p }
}

// ChangeParentResult describes one attempt to (re)assign a node's supplier.
type ChangeParentResult struct {
	Success     bool
	ChildID     string
	OldParentID string
	NewParentID string
	TotalCost   float64
	Path        []string
	Reason      string
	Err         error
	Events      []Event
}

// Changed reports whether the attempt moved the child to a new parent.
func (r ChangeParentResult) Changed() bool {
	return r.Success && r.NewParentID != r.OldParentID
}

// StationRemovalResult is the outcome of DetachAndRerouteChildren.
type StationRemovalResult struct {
	StationID  string
	Rerouted   []ChangeParentResult
	Unsupplied []string
	Events     []Event
}

// RemovalResult is the outcome of RemoveNode.
type RemovalResult struct {
	NodeID   string
	Orphaned []string
	Events   []Event
}

// SweepReport summarises a batch of routing attempts.
type SweepReport struct {
	Attempted  int
	Attached   []string
	Failed     []string
	Unsupplied []string
	Events     []Event
}

// HealthReport is the outcome of CheckSystemHealth.
type HealthReport struct {
	Detached []string
	Retry    SweepReport
	Events   []Event
}

// LoadUpdate is the outcome of UpdateLeafLoad.
type LoadUpdate struct {
	NodeID string
	Load   float64
	Events []Event
}

// RoutingService keeps the logical forest consistent with the physical
// graph. It owns the forest, the unsupplied set and the event journal.
//
// RoutingService is not safe for concurrent use; wrap it in a single owner
// such as state.ScenarioState.
type RoutingService struct {
	graph      *kb.KnowledgeBase
	forest     *LogicalForest
	unsupplied *UnsuppliedSet
	selector   *ParentSelector
	aggregator *LoadAggregator
	overload   *OverloadManager
	journal    Journal

	cost    EdgeCostFunc
	rng     *rand.Rand
	loads   DeviceLoadProvider
	log     logging.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewRoutingService builds a service over graph with an empty forest.
func NewRoutingService(graph *kb.KnowledgeBase, opts ...Option) *RoutingService {
	if graph == nil {
		graph = kb.NewKnowledgeBase()
	}
	s := &RoutingService{
		graph:      graph,
		forest:     NewLogicalForest(),
		unsupplied: NewUnsuppliedSet(),
		cost:       LengthCost,
		log:        logging.Noop(),
		metrics:    noopMetrics{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.selector = NewParentSelector(graph, s.cost)
	s.aggregator = NewLoadAggregator(graph, s.forest, s.loads)
	s.overload = NewOverloadManager(graph, s.forest, s.aggregator, s.unsupplied, s.rng, s.log)
	s.overload.now = s.now
	return s
}

// Graph returns the physical graph.
func (s *RoutingService) Graph() *kb.KnowledgeBase { return s.graph }

// Forest returns the logical forest. Callers must not mutate it.
func (s *RoutingService) Forest() *LogicalForest { return s.forest }

// Unsupplied returns the sorted ids of consumers without a supplier.
func (s *RoutingService) Unsupplied() []string { return s.unsupplied.IDs() }

// IsUnsupplied reports whether id is in the unsupplied set.
func (s *RoutingService) IsUnsupplied(id string) bool { return s.unsupplied.Contains(id) }

// Aggregator exposes the load aggregator bound to this service.
func (s *RoutingService) Aggregator() *LoadAggregator { return s.aggregator }

// SelectParent runs the parent search for id without changing anything.
func (s *RoutingService) SelectParent(id string) ParentSelection {
	return s.selector.Select(id, nil)
}

// DrainEvents returns and clears the journal.
func (s *RoutingService) DrainEvents() []Event { return s.journal.Drain() }

func (s *RoutingService) newLog() *eventLog { return &eventLog{now: s.now} }

func (s *RoutingService) commit(ev *eventLog) []Event {
	s.journal.append(ev.events)
	return ev.events
}

// ChangeParentWithRouting finds the cheapest compatible supplier for childID
// and moves the child under it when the candidate has room.
func (s *RoutingService) ChangeParentWithRouting(ctx context.Context, childID string) ChangeParentResult {
	ev := s.newLog()
	res := s.changeParent(ctx, childID, nil, ev)
	res.Events = s.commit(ev)
	return res
}

func (s *RoutingService) changeParent(ctx context.Context, childID string, exclude map[string]struct{}, ev *eventLog) ChangeParentResult {
	start := time.Now()
	res := ChangeParentResult{ChildID: childID, TotalCost: math.Inf(1)}

	child := s.graph.GetNode(childID)
	if child == nil {
		return s.fail(ctx, res, ev, start, OutcomeNotFound, "child node not found",
			fmt.Errorf("%w: %q", ErrNodeNotFound, childID))
	}
	res.OldParentID, _ = s.forest.Parent(childID)

	sel := s.selector.Select(childID, exclude)
	if !sel.Found {
		s.markUnsupplied(child, ev)
		return s.fail(ctx, res, ev, start, OutcomeNoRoute, "no compatible parent found via routing",
			fmt.Errorf("%w: %q", ErrNoRouteFound, childID))
	}
	res.TotalCost = sel.TotalCost
	res.Path = sel.Path

	if sel.ParentID == res.OldParentID {
		return s.unchanged(ctx, res, child, ev, start, "parent unchanged (best parent is current parent)")
	}

	parent := s.graph.GetNode(sel.ParentID)
	if parent == nil {
		return s.fail(ctx, res, ev, start, OutcomeNotFound, "new parent node not found",
			fmt.Errorf("%w: %q", ErrNodeNotFound, sel.ParentID))
	}
	res.NewParentID = sel.ParentID
	if !hasCapacityFor(parent, child) {
		s.markUnsupplied(child, ev)
		return s.fail(ctx, res, ev, start, OutcomeInsufficientCapacity, "new parent has insufficient capacity",
			fmt.Errorf("%w: %q cannot take %q", ErrInsufficientCapacity, sel.ParentID, childID))
	}
	return s.apply(ctx, res, child, sel.ParentID, "parent changed via routing", ev, start)
}

// ForceAttach moves childID under parentID without searching. Type
// compatibility and capacity are still enforced.
func (s *RoutingService) ForceAttach(ctx context.Context, childID, parentID string) ChangeParentResult {
	ev := s.newLog()
	res := s.forceAttach(ctx, childID, parentID, ev)
	res.Events = s.commit(ev)
	return res
}

func (s *RoutingService) forceAttach(ctx context.Context, childID, parentID string, ev *eventLog) ChangeParentResult {
	start := time.Now()
	res := ChangeParentResult{ChildID: childID, TotalCost: math.Inf(1)}

	child := s.graph.GetNode(childID)
	if child == nil {
		return s.fail(ctx, res, ev, start, OutcomeNotFound, "child node not found",
			fmt.Errorf("%w: %q", ErrNodeNotFound, childID))
	}
	res.OldParentID, _ = s.forest.Parent(childID)

	parent := s.graph.GetNode(parentID)
	if parent == nil {
		return s.fail(ctx, res, ev, start, OutcomeNotFound, "new parent node not found",
			fmt.Errorf("%w: %q", ErrNodeNotFound, parentID))
	}
	res.NewParentID = parentID
	res.TotalCost = 0
	res.Path = []string{childID, parentID}

	if !child.Type.AcceptsParent(parent.Type) {
		return s.fail(ctx, res, ev, start, OutcomeIncompatibleType, "incompatible parent type",
			fmt.Errorf("%w: %s cannot be supplied by %s", ErrIncompatibleType, child.Type, parent.Type))
	}
	if !hasCapacityFor(parent, child) {
		return s.fail(ctx, res, ev, start, OutcomeInsufficientCapacity, "new parent has insufficient capacity",
			fmt.Errorf("%w: %q cannot take %q", ErrInsufficientCapacity, parentID, childID))
	}
	if parentID == res.OldParentID {
		return s.unchanged(ctx, res, child, ev, start, "parent unchanged (forced parent is current parent)")
	}
	return s.apply(ctx, res, child, parentID, "parent changed by force", ev, start)
}

func (s *RoutingService) apply(ctx context.Context, res ChangeParentResult, child *model.Node, parentID, reason string, ev *eventLog, start time.Time) ChangeParentResult {
	if err := s.forest.SetParent(child.ID, parentID); err != nil {
		return s.fail(ctx, res, ev, start, OutcomeRejected, "parent update rejected", err)
	}
	if res.OldParentID != "" {
		s.aggregator.RefreshFrom(res.OldParentID)
	}
	s.aggregator.RefreshFrom(parentID)
	s.resupply(child, ev)

	res.Success = true
	res.NewParentID = parentID
	res.Reason = reason
	ev.add(EventAttached, child.ID, parentID, fmt.Sprintf("node %s attached to %s (%s)", child.ID, parentID, reason))
	s.metrics.ObserveRouting(OutcomeAttached, time.Since(start))
	s.log.Info(ctx, "parent changed",
		logging.String("node_id", child.ID),
		logging.String("old_parent", res.OldParentID),
		logging.String("new_parent", parentID),
		logging.Float64("cost", res.TotalCost),
	)
	return res
}

func (s *RoutingService) unchanged(ctx context.Context, res ChangeParentResult, child *model.Node, ev *eventLog, start time.Time, reason string) ChangeParentResult {
	res.Success = true
	res.NewParentID = res.OldParentID
	res.Reason = reason
	s.resupply(child, ev)
	ev.add(EventParentUnchanged, child.ID, res.OldParentID, fmt.Sprintf("node %s kept on %s", child.ID, res.OldParentID))
	s.metrics.ObserveRouting(OutcomeUnchanged, time.Since(start))
	s.log.Debug(ctx, reason, logging.String("node_id", child.ID))
	return res
}

func (s *RoutingService) fail(ctx context.Context, res ChangeParentResult, ev *eventLog, start time.Time, outcome, reason string, err error) ChangeParentResult {
	res.Success = false
	res.Reason = reason
	res.Err = err
	ev.add(EventAttachFailed, res.ChildID, res.NewParentID, fmt.Sprintf("node %s not attached: %s", res.ChildID, reason))
	s.metrics.ObserveRouting(outcome, time.Since(start))
	s.log.Warn(ctx, "routing attempt failed",
		logging.String("node_id", res.ChildID),
		logging.String("reason", reason),
		logging.Err(err),
	)
	return res
}

func hasCapacityFor(parent, child *model.Node) bool {
	if !parent.HasCapacity() {
		return true
	}
	return parent.CurrentLoad+child.CurrentLoad <= *parent.Capacity
}

// markUnsupplied flags a consumer whose routing failed. The consumer keeps
// any supplier it already had; it stays flagged until a later routing
// attempt succeeds.
func (s *RoutingService) markUnsupplied(n *model.Node, ev *eventLog) {
	if n == nil || n.Type != model.Consumer || s.unsupplied.Contains(n.ID) {
		return
	}
	s.unsupplied.Add(n.ID)
	ev.add(EventUnsupplied, n.ID, "", fmt.Sprintf("consumer %s is not supplied", n.ID))
}

// markIfRootless flags a consumer left without a parent by a detach.
func (s *RoutingService) markIfRootless(n *model.Node, ev *eventLog) {
	if n == nil {
		return
	}
	if _, ok := s.forest.Parent(n.ID); ok {
		return
	}
	s.markUnsupplied(n, ev)
}

func (s *RoutingService) resupply(n *model.Node, ev *eventLog) {
	if n == nil || n.Type != model.Consumer || !s.unsupplied.Contains(n.ID) {
		return
	}
	s.unsupplied.Remove(n.ID)
	ev.add(EventResupplied, n.ID, "", fmt.Sprintf("consumer %s supplied again", n.ID))
}

// Attach inserts node and its edges into the graph and routes it. Plants
// become roots. If any edge is rejected the node and the edges already added
// are removed again and the error is returned.
//
// A new station or plant has no children yet, so any load it arrives with is
// discarded before routing.
func (s *RoutingService) Attach(ctx context.Context, node *model.Node, edges []*model.Edge) (ChangeParentResult, error) {
	if node == nil {
		return ChangeParentResult{}, fmt.Errorf("%w: nil node", kb.ErrNodeInvalid)
	}
	if node.Type != model.Consumer {
		node.CurrentLoad = 0
	}
	if err := s.graph.AddNode(node); err != nil {
		return ChangeParentResult{ChildID: node.ID}, err
	}
	added := make([]string, 0, len(edges))
	for _, e := range edges {
		if err := s.graph.AddEdge(e); err != nil {
			for _, id := range added {
				_ = s.graph.RemoveEdge(id)
			}
			_ = s.graph.RemoveNode(node.ID)
			return ChangeParentResult{ChildID: node.ID}, err
		}
		added = append(added, e.ID)
	}

	ev := s.newLog()
	var res ChangeParentResult
	if node.Type == model.Plant {
		s.forest.AddRoot(node.ID)
		res = ChangeParentResult{Success: true, ChildID: node.ID, Reason: "plant registered as root"}
		ev.add(EventAttached, node.ID, "", fmt.Sprintf("plant %s registered as root", node.ID))
		s.log.Info(ctx, "plant attached", logging.String("node_id", node.ID))
	} else {
		res = s.changeParent(ctx, node.ID, nil, ev)
	}
	res.Events = s.commit(ev)
	return res, nil
}

// DetachAndRerouteChildren takes a transmission or distribution substation
// out of service. Each child is detached and rerouted with the station
// excluded from the search; the station is then removed from the forest
// and the graph.
func (s *RoutingService) DetachAndRerouteChildren(ctx context.Context, stationID string) (StationRemovalResult, error) {
	station := s.graph.GetNode(stationID)
	if station == nil {
		return StationRemovalResult{StationID: stationID}, fmt.Errorf("%w: %q", ErrNodeNotFound, stationID)
	}
	if !station.Type.IsStation() {
		return StationRemovalResult{StationID: stationID}, fmt.Errorf("%w: %q is %s", ErrNotStation, stationID, station.Type)
	}

	ev := s.newLog()
	out := StationRemovalResult{StationID: stationID}
	exclude := map[string]struct{}{stationID: {}}

	for _, childID := range s.forest.Children(stationID) {
		s.forest.Detach(childID)
		s.aggregator.RefreshFrom(stationID)
		ev.add(EventDetached, childID, stationID, fmt.Sprintf("node %s detached from station %s", childID, stationID))

		res := s.changeParent(ctx, childID, exclude, ev)
		out.Rerouted = append(out.Rerouted, res)
		if !res.Success && s.unsupplied.Contains(childID) {
			out.Unsupplied = append(out.Unsupplied, childID)
		}
	}

	formerParent, _ := s.forest.Parent(stationID)
	s.forest.Remove(stationID)
	if err := s.graph.RemoveNode(stationID); err != nil {
		s.log.Warn(ctx, "station missing from graph during removal", logging.String("node_id", stationID), logging.Err(err))
	}
	s.unsupplied.Remove(stationID)
	s.aggregator.RefreshFrom(formerParent)

	ev.add(EventNodeRemoved, stationID, formerParent, fmt.Sprintf("station %s removed, %d children rerouted", stationID, len(out.Rerouted)))
	s.log.Info(ctx, "station removed",
		logging.String("node_id", stationID),
		logging.Int("children", len(out.Rerouted)),
		logging.Int("unsupplied", len(out.Unsupplied)),
	)
	out.Events = s.commit(ev)
	return out, nil
}

// RemoveNode deletes id from the graph and the forest. Its children are
// orphaned, not rerouted: they become roots, and orphaned consumers are
// marked unsupplied until a recovery sweep finds them a new supplier.
func (s *RoutingService) RemoveNode(ctx context.Context, id string) (RemovalResult, error) {
	if s.graph.GetNode(id) == nil {
		return RemovalResult{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}

	ev := s.newLog()
	out := RemovalResult{NodeID: id, Orphaned: s.forest.Children(id)}
	formerParent, _ := s.forest.Parent(id)

	s.forest.Remove(id)
	if err := s.graph.RemoveNode(id); err != nil {
		return out, err
	}
	s.unsupplied.Remove(id)
	s.aggregator.RefreshFrom(formerParent)

	for _, childID := range out.Orphaned {
		ev.add(EventDetached, childID, id, fmt.Sprintf("node %s orphaned by removal of %s", childID, id))
		s.markIfRootless(s.graph.GetNode(childID), ev)
	}
	ev.add(EventNodeRemoved, id, formerParent, fmt.Sprintf("node %s removed, %d children orphaned", id, len(out.Orphaned)))
	s.log.Info(ctx, "node removed", logging.String("node_id", id), logging.Int("orphaned", len(out.Orphaned)))
	out.Events = s.commit(ev)
	return out, nil
}

// byHierarchy orders nodes transmission first, then distribution, then
// consumers, ties broken by id.
func byHierarchy(nodes []*model.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := nodes[i].Type.HierarchyRank(), nodes[j].Type.HierarchyRank()
		if ri != rj {
			return ri < rj
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// Hydrate builds the forest from the physical graph: plants become roots,
// then every other node is routed in hierarchy priority order. Station
// loads that are not backed by children are reset first.
//
// Cancellation is checked between nodes; the forest is valid at every stop.
func (s *RoutingService) Hydrate(ctx context.Context) (SweepReport, error) {
	ev := s.newLog()
	var pending []*model.Node
	for _, n := range s.graph.ListNodes() {
		if n.Type == model.Plant {
			s.forest.AddRoot(n.ID)
			continue
		}
		if n.Type != model.Consumer && len(s.forest.Children(n.ID)) == 0 {
			n.CurrentLoad = 0
		}
		pending = append(pending, n)
	}
	s.aggregator.RecomputeAll()
	byHierarchy(pending)

	rep, err := s.sweep(ctx, pending, ev)
	ev.add(EventHydrated, "", "", fmt.Sprintf("hydration routed %d of %d nodes", len(rep.Attached), rep.Attempted))
	s.log.Info(ctx, "forest hydrated",
		logging.Int("attempted", rep.Attempted),
		logging.Int("attached", len(rep.Attached)),
		logging.Int("unsupplied", len(rep.Unsupplied)),
	)
	rep.Events = s.commit(ev)
	return rep, err
}

// RetryUnsupplied re-routes every non-plant node without a parent, and
// every consumer still flagged unsupplied, in
// hierarchy priority order. Running it twice with no change in between
// leaves the unsupplied set as the first run left it.
func (s *RoutingService) RetryUnsupplied(ctx context.Context) (SweepReport, error) {
	ev := s.newLog()
	rep, err := s.retry(ctx, ev)
	rep.Events = s.commit(ev)
	return rep, err
}

func (s *RoutingService) retry(ctx context.Context, ev *eventLog) (SweepReport, error) {
	var pending []*model.Node
	for _, n := range s.graph.ListNodes() {
		if n.Type == model.Plant {
			continue
		}
		if _, ok := s.forest.Parent(n.ID); ok && !s.unsupplied.Contains(n.ID) {
			continue
		}
		pending = append(pending, n)
	}
	byHierarchy(pending)

	rep, err := s.sweep(ctx, pending, ev)
	if rep.Attempted > 0 {
		ev.add(EventRecoverySweepDone, "", "", fmt.Sprintf("recovery sweep reattached %d of %d nodes", len(rep.Attached), rep.Attempted))
		s.log.Debug(ctx, "recovery sweep finished",
			logging.Int("attempted", rep.Attempted),
			logging.Int("attached", len(rep.Attached)),
		)
	}
	return rep, err
}

func (s *RoutingService) sweep(ctx context.Context, nodes []*model.Node, ev *eventLog) (SweepReport, error) {
	var rep SweepReport
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			rep.Unsupplied = s.unsupplied.IDs()
			return rep, err
		}
		rep.Attempted++
		res := s.changeParent(ctx, n.ID, nil, ev)
		if res.Success {
			rep.Attached = append(rep.Attached, n.ID)
		} else {
			rep.Failed = append(rep.Failed, n.ID)
		}
	}
	rep.Unsupplied = s.unsupplied.IDs()
	return rep, nil
}

// CheckSystemHealth walks the forest top-down and detaches any node whose
// parent is over capacity at that moment, recomputing the parent after each
// detach. It then runs a recovery sweep.
func (s *RoutingService) CheckSystemHealth(ctx context.Context) (HealthReport, error) {
	ev := s.newLog()
	var out HealthReport

	for _, id := range s.forest.Preorder() {
		parentID, ok := s.forest.Parent(id)
		if !ok {
			continue
		}
		parent := s.graph.GetNode(parentID)
		if parent == nil || !parent.Overloaded() {
			continue
		}
		s.forest.Detach(id)
		s.aggregator.RefreshFrom(parentID)
		out.Detached = append(out.Detached, id)
		ev.add(EventPreventiveDetach, id, parentID, fmt.Sprintf("node %s detached from overloaded %s", id, parentID))
		s.markIfRootless(s.graph.GetNode(id), ev)
	}
	if len(out.Detached) > 0 {
		s.log.Warn(ctx, "preventive detach on overloaded parents", logging.Int("detached", len(out.Detached)))
	}

	rep, err := s.retry(ctx, ev)
	rep.Events = nil
	out.Retry = rep
	out.Events = s.commit(ev)
	return out, err
}

// HandleOverload sheds children of id until it is within capacity.
func (s *RoutingService) HandleOverload(ctx context.Context, id string) OverloadReport {
	ev := s.newLog()
	rep := s.overload.handle(ctx, id, ev)
	if rep.Overloaded() {
		s.metrics.ObserveShed(len(rep.Shed), rep.Critical)
	}
	rep.Events = s.commit(ev)
	return rep
}

// SetCapacity replaces the declared capacity of id (nil removes the limit)
// and sheds load if the node is now over it.
func (s *RoutingService) SetCapacity(ctx context.Context, id string, capacity *float64) (OverloadReport, error) {
	node := s.graph.GetNode(id)
	if node == nil {
		return OverloadReport{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	if capacity != nil && (math.IsNaN(*capacity) || math.IsInf(*capacity, 0) || *capacity < 0) {
		return OverloadReport{NodeID: id}, fmt.Errorf("%w: %v", ErrInvalidCapacity, *capacity)
	}
	return s.changeCapacity(ctx, node, capacity), nil
}

// ForceOverload lowers the capacity of id to load/(1+pct) so the node is
// overloaded by pct, then sheds load.
func (s *RoutingService) ForceOverload(ctx context.Context, id string, pct float64) (OverloadReport, error) {
	node := s.graph.GetNode(id)
	if node == nil {
		return OverloadReport{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
		return OverloadReport{NodeID: id}, fmt.Errorf("%w: overload percentage %v", ErrInvalidCapacity, pct)
	}
	capacity := node.CurrentLoad / (1 + pct)
	return s.changeCapacity(ctx, node, &capacity), nil
}

func (s *RoutingService) changeCapacity(ctx context.Context, node *model.Node, capacity *float64) OverloadReport {
	ev := s.newLog()
	node.SetCapacity(capacity)
	msg := fmt.Sprintf("capacity of %s removed", node.ID)
	if capacity != nil {
		msg = fmt.Sprintf("capacity of %s set to %.3f", node.ID, *capacity)
	}
	ev.add(EventCapacityChanged, node.ID, "", msg)
	s.log.Info(ctx, "capacity changed", logging.String("node_id", node.ID), logging.Any("capacity", capacity))

	rep := s.overload.handle(ctx, node.ID, ev)
	if rep.Overloaded() {
		s.metrics.ObserveShed(len(rep.Shed), rep.Critical)
	}
	rep.Events = s.commit(ev)
	return rep
}

// UpdateLeafLoad refreshes a consumer's load from the device-load provider
// and propagates it to every ancestor. Overloads it causes are left for
// the next health check.
func (s *RoutingService) UpdateLeafLoad(ctx context.Context, consumerID string) (LoadUpdate, error) {
	node := s.graph.GetNode(consumerID)
	if node == nil {
		return LoadUpdate{NodeID: consumerID}, fmt.Errorf("%w: %q", ErrNodeNotFound, consumerID)
	}
	if node.Type != model.Consumer {
		return LoadUpdate{NodeID: consumerID}, fmt.Errorf("%w: %q is %s, not a consumer", ErrIncompatibleType, consumerID, node.Type)
	}

	ev := s.newLog()
	load := s.aggregator.UpdateAfterLeafChange(consumerID)
	if _, ok := s.forest.Parent(consumerID); ok {
		s.resupply(node, ev)
	}
	ev.add(EventLoadUpdated, consumerID, "", fmt.Sprintf("load of %s updated to %.3f", consumerID, load))
	s.log.Debug(ctx, "leaf load updated", logging.String("node_id", consumerID), logging.Float64("load", load))
	return LoadUpdate{NodeID: consumerID, Load: load, Events: s.commit(ev)}, nil
}
