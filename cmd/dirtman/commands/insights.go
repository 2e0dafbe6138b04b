package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allenheltondev/dirt-man/internal/devstatus"
	"github.com/allenheltondev/dirt-man/internal/insight"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// NewInsightsCommand creates the insight scheduling and processing
// commands. Both are one-shot and meant to run from cron.
func NewInsightsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Schedule and process plant insight requests",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "schedule",
			Short: "Enqueue scheduled insight requests for active devices",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runInsightSchedule(cmd.Context(), *configPath)
			},
		},
		&cobra.Command{
			Use:   "process",
			Short: "Process a batch of pending insight requests",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runInsightProcess(cmd.Context(), *configPath)
			},
		},
	)

	return cmd
}

func runInsightSchedule(ctx context.Context, configPath string) error {
	rt, teardown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}

	defer func() { _ = teardown(context.Background()) }()

	scheduler := insight.NewScheduler(
		rt.store.Statuses(), rt.store.Requests(),
		clock.System{}, rt.log, rt.cfg.Insights.ActiveThresholdHours,
	)

	err = scheduler.Run(ctx)
	if err != nil {
		return fmt.Errorf("schedule insights: %w", err)
	}

	return nil
}

func runInsightProcess(ctx context.Context, configPath string) error {
	rt, teardown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}

	defer func() { _ = teardown(context.Background()) }()

	clk := clock.System{}
	maintainer := devstatus.NewMaintainer(rt.store.Statuses(), clk, rt.log)

	// No API key means the degraded placeholder mode: requests still
	// complete, with canned low-confidence insights.
	var llm insight.Client
	if rt.cfg.LLM.APIKey != "" {
		llm = insight.NewHTTPClient(rt.cfg.LLM.Endpoint, rt.cfg.LLM.Model, rt.cfg.LLM.APIKey)
	}

	generator := insight.NewGenerator(
		rt.store.Requests(), rt.store.Aggregates(), rt.store.Events(), rt.store.Profiles(),
		rt.store.Insights(), maintainer, llm, clk, rt.log, rt.cfg.Insights.BatchSize,
	)

	err = generator.ProcessPending(ctx)
	if err != nil {
		return fmt.Errorf("process insights: %w", err)
	}

	return nil
}
