package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/allenheltondev/dirt-man/internal/store"
)

// Default consumer knobs.
const (
	DefaultBatchSize = 100
	DefaultBlock     = 2 * time.Second
)

// BatchHandler processes a whole batch and reports the records to
// redrive. Workers that keep per-batch scratch (like the rollup
// updater's devices-seen set) implement this directly; others wrap a
// per-record Handler via PerRecord.
type BatchHandler[T any] func(ctx context.Context, recs []store.Record[T]) []FailedItem

// PerRecord lifts a per-record handler into a batch handler.
func PerRecord[T any](log *slog.Logger, fn Handler[T]) BatchHandler[T] {
	return func(ctx context.Context, recs []store.Record[T]) []FailedItem {
		return ProcessBatch(ctx, log, recs, fn)
	}
}

// Consumer drives one change feed into a batch handler until the
// context is cancelled. Successfully processed records are acked;
// failed ones are left for the feed to redeliver.
type Consumer[T any] struct {
	Name      string
	Feed      store.Feed[T]
	Handle    BatchHandler[T]
	BatchSize int
	Block     time.Duration
	Log       *slog.Logger
}

// Run loops until the context is done. Feed read errors are logged and
// retried after a short pause rather than crashing the worker.
func (c *Consumer[T]) Run(ctx context.Context) error {
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	block := c.Block
	if block <= 0 {
		block = DefaultBlock
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("consumer %s: %w", c.Name, err)
		}

		recs, err := c.Feed.Read(ctx, batchSize, block)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("consumer %s: %w", c.Name, err)
			}

			c.Log.WarnContext(ctx, "feed read failed", slog.String("consumer", c.Name), slog.Any("error", err))
			sleepCtx(ctx, block)

			continue
		}

		if len(recs) == 0 {
			sleepCtx(ctx, block)

			continue
		}

		failed := c.Handle(ctx, recs)

		acks := ackList(recs, failed)
		if len(acks) > 0 {
			if err := c.Feed.Ack(ctx, acks...); err != nil {
				c.Log.WarnContext(ctx, "ack failed", slog.String("consumer", c.Name), slog.Any("error", err))
			}
		}
	}
}

// ackList returns the sequence numbers of every record not listed as failed.
func ackList[T any](recs []store.Record[T], failed []FailedItem) []string {
	failedSet := make(map[string]struct{}, len(failed))
	for _, f := range failed {
		failedSet[f.ItemIdentifier] = struct{}{}
	}

	var acks []string

	for _, rec := range recs {
		if _, bad := failedSet[rec.Seq]; !bad {
			acks = append(acks, rec.Seq)
		}
	}

	return acks
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
