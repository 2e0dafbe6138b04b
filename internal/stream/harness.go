// Package stream provides the fan-in harness shared by all change-feed
// workers: per-record error isolation, tombstone filtering, and the
// failed-item report the broker uses to redrive individual records.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/store"
)

// FailedItem identifies one record that failed processing and must be
// redriven. The JSON shape is the broker's partial-failure contract.
type FailedItem struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// Handler processes a single change feed record.
type Handler[T any] func(ctx context.Context, rec store.Record[T]) error

// ProcessBatch runs the handler over a batch. Tombstones are filtered
// out. A failure (error or panic) in one record is logged and recorded;
// the rest of the batch still runs. The returned list names exactly the
// records to redrive.
func ProcessBatch[T any](ctx context.Context, log *slog.Logger, recs []store.Record[T], fn Handler[T]) []FailedItem {
	var failed []FailedItem

	for _, rec := range recs {
		if rec.Op == store.OpRemove {
			continue
		}

		err := runIsolated(ctx, rec, fn)
		if err != nil {
			log.ErrorContext(ctx, "record processing failed",
				slog.String("seq", rec.Seq),
				slog.String("op", string(rec.Op)),
				slog.Any("error", err),
			)

			failed = append(failed, FailedItem{ItemIdentifier: rec.Seq})
		}
	}

	return failed
}

func runIsolated[T any](ctx context.Context, rec store.Record[T], fn Handler[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx, rec)
}
