package devstatus

import (
	"context"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// Worker consumes the reading change feed and keeps the liveness fields
// of DeviceStatus current: last seen event/ingest times and the
// per-reading sensor status summary.
type Worker struct {
	ledger     store.LedgerStore
	maintainer *Maintainer
	clock      clock.Clock
	log        *slog.Logger
}

// NewWorker wires the status worker.
func NewWorker(ledger store.LedgerStore, maintainer *Maintainer, clk clock.Clock, log *slog.Logger) *Worker {
	return &Worker{ledger: ledger, maintainer: maintainer, clock: clk, log: log}
}

// HandleReading processes one reading feed record.
func (w *Worker) HandleReading(ctx context.Context, rec store.Record[domain.Reading]) error {
	r := rec.Row

	owned, err := w.ledger.MarkIfAbsent(ctx, r.ReadingID(), store.StageStatus, r.HardwareID, clock.NowMS(w.clock))
	if err != nil {
		return err
	}

	if !owned {
		return nil
	}

	w.maintainer.ApplyIngest(ctx, r.HardwareID, IngestFields{
		LastSeenEventTimeMS:  r.TimestampMS,
		LastSeenIngestTimeMS: r.IngestTimeMS,
		SensorStatusSummary:  SummarizeSensors(r),
	})

	return nil
}

// SummarizeSensors classifies a reading's sensor availability. Sensors
// that report neither value nor status are treated as absent hardware
// and excluded, so a three-sensor device can still be "ok".
func SummarizeSensors(r domain.Reading) domain.SummaryStatus {
	present := 0
	ok := 0

	for _, name := range domain.SensorNames() {
		sv := r.Sensor(name)
		if sv.Value == nil && sv.Status == "" {
			continue
		}

		present++

		if sv.Status == domain.StatusOK {
			ok++
		}
	}

	switch {
	case present == 0:
		return domain.SummaryMissing
	case ok == present:
		return domain.SummaryOK
	default:
		return domain.SummaryDegraded
	}
}
