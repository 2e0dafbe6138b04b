package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// NewDevicesCommand creates the device fleet listing command.
func NewDevicesCommand(configPath *string) *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List known devices with health and freshness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDevices(cmd.Context(), *configPath, noColor, cmd)
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored health output")

	return cmd
}

func runDevices(ctx context.Context, configPath string, noColor bool, cmd *cobra.Command) error {
	rt, teardown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}

	defer func() { _ = teardown(context.Background()) }()

	statuses, err := rt.store.Statuses().List(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].HardwareID < statuses[j].HardwareID
	})

	if noColor {
		color.NoColor = true
	}

	nowMS := clock.NowMS(clock.System{})

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Device", "Health", "Last Seen", "Coverage 1h", "Sensors", "Last Error"})

	for _, s := range statuses {
		tw.AppendRow(table.Row{
			s.HardwareID,
			healthCell(s.Health(nowMS)),
			lastSeenCell(s.LastSeenIngestTimeMS),
			coverageCell(s.CoveragePctLastHour),
			string(s.SensorStatusSummary),
			s.LastErrorCode,
		})
	}

	tw.SetStyle(table.StyleLight)
	tw.Render()

	return nil
}

func healthCell(h domain.HealthCategory) string {
	switch h {
	case domain.HealthHealthy:
		return color.GreenString(string(h))
	case domain.HealthStale:
		return color.YellowString(string(h))
	case domain.HealthFailing:
		return color.RedString(string(h))
	case domain.HealthMissing:
		return color.HiBlackString(string(h))
	default:
		return string(h)
	}
}

func lastSeenCell(tsMS *int64) string {
	if tsMS == nil {
		return "never"
	}

	return humanize.Time(time.UnixMilli(*tsMS))
}

func coverageCell(pct *float64) string {
	if pct == nil {
		return "-"
	}

	return fmt.Sprintf("%.0f%%", *pct*100)
}
