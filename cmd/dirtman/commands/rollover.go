package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allenheltondev/dirt-man/internal/aggregate"
	"github.com/allenheltondev/dirt-man/internal/devstatus"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// NewRolloverCommand creates the daily/weekly aggregate rollover
// command, meant to run from cron shortly after the period boundary.
func NewRolloverCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "rollover {daily|weekly}",
		Short:     "Combine closed windows into daily or weekly aggregates",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollover(cmd.Context(), *configPath, args[0])
		},
	}

	return cmd
}

func runRollover(ctx context.Context, configPath, period string) error {
	rt, teardown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}

	defer func() { _ = teardown(context.Background()) }()

	clk := clock.System{}
	maintainer := devstatus.NewMaintainer(rt.store.Statuses(), clk, rt.log)
	aggregator := aggregate.New(
		rt.store.Readings(), rt.store.Aggregates(), rt.store.Ledger(), rt.store.Profiles(),
		maintainer, clk, rt.log,
	)

	switch period {
	case "daily":
		err = aggregator.ComputeDaily(ctx)
	case "weekly":
		err = aggregator.ComputeWeekly(ctx)
	default:
		return fmt.Errorf("unknown rollover period %q", period)
	}

	if err != nil {
		return fmt.Errorf("rollover %s: %w", period, err)
	}

	rt.log.InfoContext(ctx, "rollover complete", "period", period)

	return nil
}
