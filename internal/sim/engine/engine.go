// Package engine assembles a running ScenarioState from configuration.
package engine

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/internal/config"
	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/observability"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/timectrl"
)

type buildOptions struct {
	clock timectrl.Clock
}

// Option customises Build.
type Option func(*buildOptions)

// WithClock stamps engine events with clock instead of the wall clock.
func WithClock(clock timectrl.Clock) Option {
	return func(o *buildOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Build loads the configured scenario, wires the routing service and wraps
// it in a ScenarioState. metrics may be nil.
func Build(ctx context.Context, cfg config.Config, log logging.Logger, metrics *observability.GridCollector, opts ...Option) (*state.ScenarioState, error) {
	if log == nil {
		log = logging.Noop()
	}
	bo := buildOptions{clock: timectrl.SystemClock{}}
	for _, opt := range opts {
		opt(&bo)
	}

	graph := kb.NewKnowledgeBase()
	loads := core.NewLoadTable(nil)
	if cfg.ScenarioPath != "" {
		sc, err := core.LoadScenarioFile(graph, cfg.ScenarioPath)
		if err != nil {
			return nil, err
		}
		loads = core.NewLoadTable(sc.ConsumerLoads)
		log.Info(ctx, "scenario loaded",
			logging.String("path", cfg.ScenarioPath),
			logging.Int("nodes", len(sc.NodeIDs)),
			logging.Int("edges", len(sc.EdgeIDs)),
		)
	}

	cost, err := core.EdgeCostByName(cfg.EdgeCost)
	if err != nil {
		return nil, err
	}

	svcOpts := []core.Option{
		core.WithEdgeCost(cost),
		core.WithClock(bo.clock.Now),
		core.WithRand(rand.New(rand.NewSource(cfg.Seed))),
		core.WithLogger(log),
		core.WithLoadProvider(loads),
	}
	stateOpts := []state.Option{state.WithLogger(log)}
	if metrics != nil {
		svcOpts = append(svcOpts, core.WithMetricsRecorder(metrics))
		stateOpts = append(stateOpts, state.WithMetricsRecorder(metrics))
	}

	st := state.NewScenarioState(core.NewRoutingService(graph, svcOpts...), loads, stateOpts...)

	if cfg.HydrateOnStartup {
		rep, err := st.Hydrate(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("hydrate: %w", err)
		}
		log.Info(ctx, "forest hydrated on startup",
			logging.Int("attached", len(rep.Attached)),
			logging.Int("unsupplied", len(rep.Unsupplied)),
		)
		if cfg.InitCapacities {
			if _, err := st.InitializeCapacities(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("initialize capacities: %w", err)
			}
		}
	}
	return st, nil
}
