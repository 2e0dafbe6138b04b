package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/allenheltondev/dirt-man/internal/aggregate"
	"github.com/allenheltondev/dirt-man/internal/devstatus"
	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/event"
	"github.com/allenheltondev/dirt-man/internal/profile"
	"github.com/allenheltondev/dirt-man/internal/rollup"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/stream"
	"github.com/allenheltondev/dirt-man/pkg/clock"
	"github.com/allenheltondev/dirt-man/pkg/observability"
)

// Consumer names, used for logging and metric attribution.
const (
	consumerReadings   = "readings"
	consumerEvents     = "events"
	consumerAggregates = "aggregates"
	consumerInsights   = "insights"
)

// NewWorkerCommand creates the long-running change feed worker command.
func NewWorkerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the change feed workers until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), *configPath)
		},
	}
}

func runWorker(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, teardown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}

	defer func() { _ = teardown(context.Background()) }()

	metrics, err := observability.NewPipelineMetrics(rt.obs.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	clk := clock.System{}
	log := rt.log

	maintainer := devstatus.NewMaintainer(rt.store.Statuses(), clk, log)
	learner := profile.NewLearner(rt.store.Events(), rt.store.Aggregates(), rt.store.Profiles(), clk, log)
	aggregator := aggregate.New(
		rt.store.Readings(), rt.store.Aggregates(), rt.store.Ledger(), rt.store.Profiles(),
		maintainer, clk, log,
	)
	detector := event.NewWorker(
		rt.store.Readings(), rt.store.Events(), rt.store.Ledger(), rt.store.Requests(),
		maintainer, learner, clk, log, rt.cfg.Insights.EventDailyCap,
	)
	statuses := devstatus.NewWorker(rt.store.Ledger(), maintainer, clk, log)
	rollups := rollup.NewUpdater(rt.store.Rollups(), clk, log)

	fanout := &readingFanout{
		aggregator: aggregator,
		detector:   detector,
		statuses:   statuses,
		rollups:    rollups,
	}

	feeds := rt.store.Feeds()

	log.InfoContext(ctx, "worker starting",
		"group", rt.cfg.Worker.Group,
		"batch_size", rt.cfg.Worker.BatchSize,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(runConsumer(gctx, &stream.Consumer[domain.Reading]{
		Name:      consumerReadings,
		Feed:      feeds.Readings,
		Handle:    instrument(metrics, consumerReadings, fanout.handle),
		BatchSize: rt.cfg.Worker.BatchSize,
		Block:     rt.cfg.Worker.Block,
		Log:       log,
	}))
	g.Go(runConsumer(gctx, &stream.Consumer[domain.Event]{
		Name:      consumerEvents,
		Feed:      feeds.Events,
		Handle:    instrument(metrics, consumerEvents, stream.PerRecord(log, rollups.HandleEvent)),
		BatchSize: rt.cfg.Worker.BatchSize,
		Block:     rt.cfg.Worker.Block,
		Log:       log,
	}))
	g.Go(runConsumer(gctx, &stream.Consumer[domain.Aggregate]{
		Name:      consumerAggregates,
		Feed:      feeds.Aggregates,
		Handle:    instrument(metrics, consumerAggregates, stream.PerRecord(log, rollups.HandleAggregate)),
		BatchSize: rt.cfg.Worker.BatchSize,
		Block:     rt.cfg.Worker.Block,
		Log:       log,
	}))
	g.Go(runConsumer(gctx, &stream.Consumer[domain.Insight]{
		Name:      consumerInsights,
		Feed:      feeds.Insights,
		Handle:    instrument(metrics, consumerInsights, stream.PerRecord(log, rollups.HandleInsight)),
		BatchSize: rt.cfg.Worker.BatchSize,
		Block:     rt.cfg.Worker.Block,
		Log:       log,
	}))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("worker stopped")

		return nil
	}

	return err
}

func runConsumer[T any](ctx context.Context, c *stream.Consumer[T]) func() error {
	return func() error { return c.Run(ctx) }
}

// readingFanout drives every reading-stage worker off one feed read.
// The per-stage ledger marks keep redelivered records idempotent, so a
// failure in any stage can safely redrive the whole record.
type readingFanout struct {
	aggregator *aggregate.Aggregator
	detector   *event.Worker
	statuses   *devstatus.Worker
	rollups    *rollup.Updater
}

func (f *readingFanout) handle(ctx context.Context, recs []store.Record[domain.Reading]) []stream.FailedItem {
	failed := f.rollups.HandleReadingBatch(ctx, recs)

	failedSet := make(map[string]struct{}, len(failed))
	for _, item := range failed {
		failedSet[item.ItemIdentifier] = struct{}{}
	}

	for _, rec := range recs {
		if _, bad := failedSet[rec.Seq]; bad {
			continue
		}

		err := f.handleOne(ctx, rec)
		if err != nil {
			failed = append(failed, stream.FailedItem{ItemIdentifier: rec.Seq})
		}
	}

	return failed
}

func (f *readingFanout) handleOne(ctx context.Context, rec store.Record[domain.Reading]) error {
	if err := f.statuses.HandleReading(ctx, rec); err != nil {
		return fmt.Errorf("status stage: %w", err)
	}

	if err := f.aggregator.HandleReading(ctx, rec); err != nil {
		return fmt.Errorf("aggregate stage: %w", err)
	}

	if err := f.detector.HandleReading(ctx, rec); err != nil {
		return fmt.Errorf("event stage: %w", err)
	}

	return nil
}

// instrument wraps a batch handler with pipeline metrics.
func instrument[T any](
	pm *observability.PipelineMetrics, consumer string, inner stream.BatchHandler[T],
) stream.BatchHandler[T] {
	return func(ctx context.Context, recs []store.Record[T]) []stream.FailedItem {
		release := pm.TrackInflight(ctx, consumer, len(recs))
		defer release()

		start := time.Now()
		failed := inner(ctx, recs)
		pm.RecordBatch(ctx, consumer, len(recs), len(failed), time.Since(start))

		return failed
	}
}
