// Package state wraps the routing engine in a single-owner actor so that
// HTTP handlers, the sweep ticker and the CLI can share one engine.
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/observability"
	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

var (
	// ErrStopped is returned by every call made after Close.
	ErrStopped = errors.New("scenario state stopped")
	// ErrInvalidLoad indicates a negative or non-finite consumer load.
	ErrInvalidLoad = errors.New("load must be a non-negative number")
	// ErrNodeNotFound indicates a requested node was not found.
	ErrNodeNotFound = core.ErrNodeNotFound
)

// ScenarioMetricsRecorder receives count updates for the scenario.
type ScenarioMetricsRecorder interface {
	SetScenarioCounts(nodes, edges, roots, unsupplied int)
}

// Counts is a point-in-time size summary of the scenario.
type Counts struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Roots      int `json:"roots"`
	Unsupplied int `json:"unsupplied"`
}

// Deletion is the outcome of DeleteNode. Stations are rerouted; other nodes
// orphan their children.
type Deletion struct {
	NodeID     string
	Rerouted   []core.ChangeParentResult
	Orphaned   []string
	Unsupplied []string
	Events     []core.Event
}

// Option customises ScenarioState construction.
type Option func(*ScenarioState)

// WithMetricsRecorder attaches an optional metrics recorder for entity counts.
func WithMetricsRecorder(m ScenarioMetricsRecorder) Option {
	return func(s *ScenarioState) {
		s.metrics = m
	}
}

// WithLogger sets the logger used for state-level events.
func WithLogger(l logging.Logger) Option {
	return func(s *ScenarioState) {
		if l != nil {
			s.log = l
		}
	}
}

type command struct {
	ctx  context.Context
	run  func(ctx context.Context, svc *core.RoutingService)
	done chan struct{}
}

// ScenarioState owns a RoutingService on a dedicated goroutine. Every
// method is a command executed there in arrival order, so the engine only
// ever sees one writer.
//
// A caller whose context ends stops waiting, but a command that was already
// accepted still runs to completion.
type ScenarioState struct {
	svc   *core.RoutingService
	graph *kb.KnowledgeBase
	loads *core.LoadTable

	log     logging.Logger
	metrics ScenarioMetricsRecorder

	cmds      chan command
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	unsubscribe func()
}

// NewScenarioState starts the actor. loads must be the provider the service
// was built with so SetLoad reaches the aggregator; it may be nil when the
// service has none, in which case SetLoad writes the node directly.
func NewScenarioState(svc *core.RoutingService, loads *core.LoadTable, opts ...Option) *ScenarioState {
	if svc == nil {
		svc = core.NewRoutingService(nil)
	}
	s := &ScenarioState{
		svc:     svc,
		graph:   svc.Graph(),
		loads:   loads,
		log:     logging.Noop(),
		cmds:    make(chan command),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	// Topology changes only happen on the actor goroutine once it runs.
	s.unsubscribe = s.graph.Subscribe(s.onGraphEvent)
	s.publishCounts()
	go s.loop()
	return s
}

func (s *ScenarioState) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case cmd := <-s.cmds:
			cmd.run(context.WithoutCancel(cmd.ctx), s.svc)
			s.publishCounts()
			close(cmd.done)
		}
	}
}

// Close stops the actor after the running command, if any, finishes.
func (s *ScenarioState) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.stopped
		s.unsubscribe()
	})
}

// do submits fn and waits for it. It returns ErrStopped after Close and the
// context error if the caller gives up first.
func (s *ScenarioState) do(ctx context.Context, name, nodeID string, fn func(ctx context.Context, svc *core.RoutingService) error) error {
	ctx, span := observability.StartChildSpan(ctx, "state."+name, "node", nodeID, attribute.String("command", name))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var cmdErr error
	cmd := command{ctx: ctx, done: make(chan struct{})}
	cmd.run = func(ctx context.Context, svc *core.RoutingService) {
		cmdErr = fn(ctx, svc)
	}

	if err = ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.stop:
		err = ErrStopped
		return err
	case <-ctx.Done():
		err = ctx.Err()
		return err
	case s.cmds <- cmd:
	}

	select {
	case <-cmd.done:
		err = cmdErr
		return err
	case <-ctx.Done():
		s.log.Warn(ctx, "caller abandoned command", logging.String("command", name), logging.String("node_id", nodeID))
		err = ctx.Err()
		return err
	}
}

func call[T any](ctx context.Context, s *ScenarioState, name, nodeID string, fn func(context.Context, *core.RoutingService) (T, error)) (T, error) {
	var out T
	err := s.do(ctx, name, nodeID, func(ctx context.Context, svc *core.RoutingService) error {
		var err error
		out, err = fn(ctx, svc)
		return err
	})
	if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, err
	}
	return out, err
}

func (s *ScenarioState) onGraphEvent(ev kb.Event) {
	if ev.Type == kb.EventNodeRemoved && s.loads != nil {
		s.loads.Delete(ev.NodeID)
	}
}

func (s *ScenarioState) counts() Counts {
	nodes, edges := s.graph.Counts()
	return Counts{
		Nodes:      nodes,
		Edges:      edges,
		Roots:      len(s.svc.Forest().Roots()),
		Unsupplied: len(s.svc.Unsupplied()),
	}
}

func (s *ScenarioState) publishCounts() {
	if s.metrics == nil {
		return
	}
	c := s.counts()
	s.metrics.SetScenarioCounts(c.Nodes, c.Edges, c.Roots, c.Unsupplied)
}

// Counts reports the current scenario size.
func (s *ScenarioState) Counts(ctx context.Context) (Counts, error) {
	return call(ctx, s, "counts", "", func(context.Context, *core.RoutingService) (Counts, error) {
		return s.counts(), nil
	})
}

// Snapshot returns the current hierarchy view.
func (s *ScenarioState) Snapshot(ctx context.Context) (core.Snapshot, error) {
	return call(ctx, s, "snapshot", "", func(_ context.Context, svc *core.RoutingService) (core.Snapshot, error) {
		return svc.Snapshot(), nil
	})
}

// Tree retries every unsupplied node, then returns the snapshot, as one
// command.
func (s *ScenarioState) Tree(ctx context.Context) (core.Snapshot, error) {
	return call(ctx, s, "tree", "", func(ctx context.Context, svc *core.RoutingService) (core.Snapshot, error) {
		if _, err := svc.RetryUnsupplied(ctx); err != nil {
			return core.Snapshot{}, err
		}
		return svc.Snapshot(), nil
	})
}

// DrainEvents returns and clears the event journal.
func (s *ScenarioState) DrainEvents(ctx context.Context) ([]core.Event, error) {
	return call(ctx, s, "drain_events", "", func(_ context.Context, svc *core.RoutingService) ([]core.Event, error) {
		return svc.DrainEvents(), nil
	})
}

// Node returns a copy of the node with the given id.
func (s *ScenarioState) Node(ctx context.Context, id string) (*model.Node, error) {
	return call(ctx, s, "node", id, func(_ context.Context, svc *core.RoutingService) (*model.Node, error) {
		n := svc.Graph().GetNode(id)
		if n == nil {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		return n.Clone(), nil
	})
}

// Adjacency is the physical neighbourhood of one node.
type Adjacency struct {
	NodeID    string
	Type      model.NodeType
	Degree    int
	Neighbors []string
}

// Neighbors reports the nodes physically adjacent to id, sorted by id.
func (s *ScenarioState) Neighbors(ctx context.Context, id string) (Adjacency, error) {
	return call(ctx, s, "neighbors", id, func(_ context.Context, svc *core.RoutingService) (Adjacency, error) {
		g := svc.Graph()
		n := g.GetNode(id)
		if n == nil {
			return Adjacency{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		neighbors := g.Neighbors(id)
		sort.Strings(neighbors)
		return Adjacency{NodeID: id, Type: n.Type, Degree: g.Degree(id), Neighbors: neighbors}, nil
	})
}

// NodesOfType returns copies of every node of type t, sorted by id.
func (s *ScenarioState) NodesOfType(ctx context.Context, t model.NodeType) ([]*model.Node, error) {
	return call(ctx, s, "nodes_of_type", "", func(_ context.Context, svc *core.RoutingService) ([]*model.Node, error) {
		nodes := svc.Graph().NodesOfType(t)
		out := make([]*model.Node, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, n.Clone())
		}
		return out, nil
	})
}

// SelectParent runs parent selection for id without applying it.
func (s *ScenarioState) SelectParent(ctx context.Context, id string) (core.ParentSelection, error) {
	return call(ctx, s, "select_parent", id, func(_ context.Context, svc *core.RoutingService) (core.ParentSelection, error) {
		if svc.Graph().GetNode(id) == nil {
			return core.ParentSelection{}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		return svc.SelectParent(id), nil
	})
}

// Hydrate builds the forest from the graph.
func (s *ScenarioState) Hydrate(ctx context.Context) (core.SweepReport, error) {
	return call(ctx, s, "hydrate", "", func(ctx context.Context, svc *core.RoutingService) (core.SweepReport, error) {
		return svc.Hydrate(ctx)
	})
}

// InitializeCapacities derives station capacities from the current forest.
func (s *ScenarioState) InitializeCapacities(ctx context.Context) ([]core.Event, error) {
	return call(ctx, s, "initialize_capacities", "", func(ctx context.Context, svc *core.RoutingService) ([]core.Event, error) {
		return svc.InitializeCapacities(ctx), nil
	})
}

// ChangeParent reroutes id to its best compatible supplier. A failed
// attempt is reported in the result, not as an error.
func (s *ScenarioState) ChangeParent(ctx context.Context, id string) (core.ChangeParentResult, error) {
	return call(ctx, s, "change_parent", id, func(ctx context.Context, svc *core.RoutingService) (core.ChangeParentResult, error) {
		return svc.ChangeParentWithRouting(ctx, id), nil
	})
}

// ForceAttach moves child under parent, bypassing routing.
func (s *ScenarioState) ForceAttach(ctx context.Context, childID, parentID string) (core.ChangeParentResult, error) {
	return call(ctx, s, "force_attach", childID, func(ctx context.Context, svc *core.RoutingService) (core.ChangeParentResult, error) {
		return svc.ForceAttach(ctx, childID, parentID), nil
	})
}

// Attach adds node and its edges to the graph and routes it.
func (s *ScenarioState) Attach(ctx context.Context, node *model.Node, edges []*model.Edge) (core.ChangeParentResult, error) {
	id := ""
	if node != nil {
		id = node.ID
	}
	return call(ctx, s, "attach", id, func(ctx context.Context, svc *core.RoutingService) (core.ChangeParentResult, error) {
		res, err := svc.Attach(ctx, node, edges)
		if err == nil && node.Type == model.Consumer && s.loads != nil {
			s.loads.Set(node.ID, node.CurrentLoad)
		}
		return res, err
	})
}

// RerouteStation detaches every child of a substation, reroutes them around
// it and removes it.
func (s *ScenarioState) RerouteStation(ctx context.Context, id string) (core.StationRemovalResult, error) {
	return call(ctx, s, "reroute_station", id, func(ctx context.Context, svc *core.RoutingService) (core.StationRemovalResult, error) {
		return svc.DetachAndRerouteChildren(ctx, id)
	})
}

// DeleteNode removes id. Substations have their children rerouted; any
// other node orphans its children.
func (s *ScenarioState) DeleteNode(ctx context.Context, id string) (Deletion, error) {
	return call(ctx, s, "delete_node", id, func(ctx context.Context, svc *core.RoutingService) (Deletion, error) {
		n := svc.Graph().GetNode(id)
		if n == nil {
			return Deletion{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		if n.Type.IsStation() {
			res, err := svc.DetachAndRerouteChildren(ctx, id)
			return Deletion{NodeID: id, Rerouted: res.Rerouted, Unsupplied: res.Unsupplied, Events: res.Events}, err
		}
		res, err := svc.RemoveNode(ctx, id)
		return Deletion{NodeID: id, Orphaned: res.Orphaned, Unsupplied: svc.Unsupplied(), Events: res.Events}, err
	})
}

// RetryUnsupplied routes every rootless non-plant node and every flagged
// consumer again.
func (s *ScenarioState) RetryUnsupplied(ctx context.Context) (core.SweepReport, error) {
	return call(ctx, s, "retry_unsupplied", "", func(ctx context.Context, svc *core.RoutingService) (core.SweepReport, error) {
		return svc.RetryUnsupplied(ctx)
	})
}

// CheckSystemHealth relieves overloaded parents and retries unsupplied nodes.
func (s *ScenarioState) CheckSystemHealth(ctx context.Context) (core.HealthReport, error) {
	return call(ctx, s, "check_system_health", "", func(ctx context.Context, svc *core.RoutingService) (core.HealthReport, error) {
		return svc.CheckSystemHealth(ctx)
	})
}

// Sweep is the periodic recovery pass: a retry of unsupplied nodes followed
// by a health check.
func (s *ScenarioState) Sweep(ctx context.Context) (core.HealthReport, error) {
	return call(ctx, s, "sweep", "", func(ctx context.Context, svc *core.RoutingService) (core.HealthReport, error) {
		retry, err := svc.RetryUnsupplied(ctx)
		if err != nil {
			return core.HealthReport{Retry: retry}, err
		}
		rep, err := svc.CheckSystemHealth(ctx)
		rep.Events = append(retry.Events, rep.Events...)
		return rep, err
	})
}

// HandleOverload sheds load at id until it is within capacity.
func (s *ScenarioState) HandleOverload(ctx context.Context, id string) (core.OverloadReport, error) {
	return call(ctx, s, "handle_overload", id, func(ctx context.Context, svc *core.RoutingService) (core.OverloadReport, error) {
		if svc.Graph().GetNode(id) == nil {
			return core.OverloadReport{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		return svc.HandleOverload(ctx, id), nil
	})
}

// SetCapacity replaces the capacity of id; nil removes the limit.
func (s *ScenarioState) SetCapacity(ctx context.Context, id string, capacity *float64) (core.OverloadReport, error) {
	return call(ctx, s, "set_capacity", id, func(ctx context.Context, svc *core.RoutingService) (core.OverloadReport, error) {
		return svc.SetCapacity(ctx, id, capacity)
	})
}

// ForceOverload shrinks the capacity of id so it is overloaded by pct.
func (s *ScenarioState) ForceOverload(ctx context.Context, id string, pct float64) (core.OverloadReport, error) {
	return call(ctx, s, "force_overload", id, func(ctx context.Context, svc *core.RoutingService) (core.OverloadReport, error) {
		return svc.ForceOverload(ctx, id, pct)
	})
}

// SetLoad records a new device-load figure for a consumer and propagates it.
func (s *ScenarioState) SetLoad(ctx context.Context, id string, load float64) (core.LoadUpdate, error) {
	return call(ctx, s, "set_load", id, func(ctx context.Context, svc *core.RoutingService) (core.LoadUpdate, error) {
		if math.IsNaN(load) || math.IsInf(load, 0) || load < 0 {
			return core.LoadUpdate{NodeID: id}, fmt.Errorf("%w: %v", ErrInvalidLoad, load)
		}
		n := svc.Graph().GetNode(id)
		if n == nil {
			return core.LoadUpdate{NodeID: id}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		if n.Type != model.Consumer {
			return core.LoadUpdate{NodeID: id}, fmt.Errorf("%w: %q is %s, not a consumer", core.ErrIncompatibleType, id, n.Type)
		}
		if s.loads != nil {
			s.loads.Set(id, load)
		} else {
			n.CurrentLoad = load
		}
		return svc.UpdateLeafLoad(ctx, id)
	})
}
