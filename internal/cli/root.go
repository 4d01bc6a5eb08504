// Package cli implements gridctl, an offline front end to the routing engine.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/grid-hierarchy/internal/config"
	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/engine"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
)

const defaultScenario = "configs/scenario.json"

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath     string
	scenario       string
	edgeCost       string
	seed           int64
	initCapacities bool
	verbose        bool
}

// NewRootCommand builds the gridctl command tree. Command output goes to
// stdout and logs to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:          "gridctl",
		Short:        "gridctl inspects the logical supply hierarchy of a power grid scenario",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			log := logging.New(logging.Config{Level: level, Format: "text", Output: stderr})
			cmd.SetContext(logging.ContextWithLogger(cmd.Context(), log))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "TOML configuration file")
	pf.StringVar(&opts.scenario, "scenario", defaultScenario, "scenario JSON file")
	pf.StringVar(&opts.edgeCost, "edge-cost", "", "edge cost function: length, loss or hops")
	pf.Int64Var(&opts.seed, "seed", 0, "seed for overload shedding (0 keeps the configured seed)")
	pf.BoolVar(&opts.initCapacities, "init-capacities", false, "derive station capacities from the hydrated forest")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newSnapshotCmd(opts))
	root.AddCommand(newRouteCmd(opts))
	root.AddCommand(newRenderCmd(opts))
	root.AddCommand(newSimulateCmd(opts))
	return root
}

// open loads the scenario named by the flags and hydrates it.
func (o *globalOpts) open(ctx context.Context, opts ...engine.Option) (*state.ScenarioState, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.scenario != "" {
		cfg.ScenarioPath = o.scenario
	}
	if o.edgeCost != "" {
		cfg.EdgeCost = o.edgeCost
	}
	if o.seed != 0 {
		cfg.Seed = o.seed
	}
	cfg.InitCapacities = cfg.InitCapacities || o.initCapacities
	cfg.HydrateOnStartup = true
	return engine.Build(ctx, cfg, logging.LoggerFromContext(ctx), nil, opts...)
}
