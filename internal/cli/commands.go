package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/internal/render"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/engine"
	"github.com/signalsfoundry/grid-hierarchy/timectrl"
)

const (
	formatDOT = "dot"
	formatSVG = "svg"
)

func newSnapshotCmd(g *globalOpts) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Hydrate the scenario and print the logical forest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := st.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Tree(snap))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func newRouteCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "route <node-id>",
		Short: "Show the cheapest compatible parent for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			sel, err := st.SelectParent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !sel.Found {
				fmt.Fprintf(out, "%s: no compatible parent reachable\n", args[0])
				return nil
			}
			cost := "inf"
			if !math.IsInf(sel.TotalCost, 0) {
				cost = fmt.Sprintf("%.3f", sel.TotalCost)
			}
			fmt.Fprintf(out, "%s -> %s (cost %s)\n", args[0], sel.ParentID, cost)
			fmt.Fprintf(out, "path: %s\n", strings.Join(sel.Path, " - "))
			return nil
		},
	}
}

func newRenderCmd(g *globalOpts) *cobra.Command {
	var (
		format   string
		output   string
		detailed bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the logical forest as Graphviz DOT or SVG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != formatDOT && format != formatSVG {
				return fmt.Errorf("unsupported format %q (want dot or svg)", format)
			}
			st, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := st.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			data := []byte(render.ToDOT(snap, render.Options{Detailed: detailed}))
			if format == formatSVG {
				if data, err = render.RenderSVG(cmd.Context(), string(data)); err != nil {
					return err
				}
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatDOT, "output format: dot or svg")
	cmd.Flags().StringVarP(&output, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include load and capacity in node labels")
	return cmd
}

func newSimulateCmd(g *globalOpts) *cobra.Command {
	var (
		steps    int
		tick     time.Duration
		start    string
		overload string
		percent  float64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run recovery sweeps over the hydrated scenario and print the events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("steps must not be negative: %d", steps)
			}
			ctx := cmd.Context()
			startAt := time.Now().UTC().Truncate(time.Second)
			if start != "" {
				parsed, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				startAt = parsed.UTC()
			}
			tc := timectrl.NewTimeController(startAt, tick, timectrl.Accelerated)

			st, err := g.open(ctx, engine.WithClock(tc))
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if overload != "" {
				if _, err := st.ForceOverload(ctx, overload, percent/100); err != nil {
					return err
				}
			}
			if err := printEvents(cmd, st.DrainEvents); err != nil {
				return err
			}

			var sweepErr error
			tc.AddListener(func(ctx context.Context, now time.Time) {
				if sweepErr != nil {
					return
				}
				if _, err := st.Sweep(ctx); err != nil {
					sweepErr = err
					return
				}
				fmt.Fprintf(out, "-- step t+%s\n", now.Sub(tc.StartTime))
				sweepErr = printEvents(cmd, st.DrainEvents)
			})
			if err := tc.Steps(ctx, steps); err != nil {
				return err
			}
			if sweepErr != nil {
				return sweepErr
			}

			c, err := st.Counts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "nodes=%d edges=%d roots=%d unsupplied=%d\n", c.Nodes, c.Edges, c.Roots, c.Unsupplied)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 3, "number of sweeps to run")
	cmd.Flags().DurationVar(&tick, "tick", 10*time.Second, "simulated time between sweeps")
	cmd.Flags().StringVar(&start, "start", "", "simulated start time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&overload, "overload", "", "node to force into overload before sweeping")
	cmd.Flags().Float64Var(&percent, "percent", 20, "overload size in percent of the node's load")
	return cmd
}

func printEvents(cmd *cobra.Command, drain func(context.Context) ([]core.Event, error)) error {
	events, err := drain(cmd.Context())
	if err != nil {
		return err
	}
	for _, e := range events {
		line := fmt.Sprintf("%s %-22s %s", e.Time.Format(time.RFC3339), e.Kind, e.NodeID)
		if e.ParentID != "" {
			line += " -> " + e.ParentID
		}
		if e.Message != "" {
			line += "  " + e.Message
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
