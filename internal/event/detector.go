package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/devstatus"
	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// Context fetch bounds.
const (
	historyLookbackMS = 6 * timeutil.HourMS
	historyLimit      = 200
)

// Rate limits on event-driven insight requests.
const (
	requestDedupWindowMS = timeutil.HourMS

	// DefaultRequestDailyCap bounds event-driven insight requests per
	// device over a rolling day.
	DefaultRequestDailyCap = 6
)

// Cooldowns per event type; zero means none.
var cooldowns = map[domain.EventType]int64{
	domain.EventWatering:     60 * timeutil.MinuteMS,
	domain.EventTempStress:   30 * timeutil.MinuteMS,
	domain.EventHumidityAnom: 30 * timeutil.MinuteMS,
	domain.EventEnvChange:    120 * timeutil.MinuteMS,
	domain.EventDryingCycle:  0,
}

// WateringObserver is notified when a watering event is persisted, so
// the profile learner can refresh its learned fields.
type WateringObserver interface {
	OnWatering(ctx context.Context, hardwareID string) error
}

// Worker runs the five detectors over the reading change feed and owns
// event persistence, cooldowns, and the critical-event insight requests.
type Worker struct {
	readings   store.ReadingStore
	events     store.EventStore
	ledger     store.LedgerStore
	requests   store.RequestStore
	maintainer *devstatus.Maintainer
	learner    WateringObserver
	clock      clock.Clock
	log        *slog.Logger
	dailyCap   int
}

// NewWorker wires the event detection worker. The learner may be nil;
// a non-positive dailyCap falls back to DefaultRequestDailyCap.
func NewWorker(
	readings store.ReadingStore,
	events store.EventStore,
	ledger store.LedgerStore,
	requests store.RequestStore,
	maintainer *devstatus.Maintainer,
	learner WateringObserver,
	clk clock.Clock,
	log *slog.Logger,
	dailyCap int,
) *Worker {
	if dailyCap <= 0 {
		dailyCap = DefaultRequestDailyCap
	}

	return &Worker{
		readings:   readings,
		events:     events,
		ledger:     ledger,
		requests:   requests,
		maintainer: maintainer,
		learner:    learner,
		clock:      clk,
		log:        log,
		dailyCap:   dailyCap,
	}
}

// HandleReading runs all detectors against one reading. A failing
// detector is logged and skipped; siblings still run, and the reading
// is marked event-processed once all detectors have been attempted.
func (w *Worker) HandleReading(ctx context.Context, rec store.Record[domain.Reading]) error {
	r := rec.Row

	processed, err := w.ledger.IsProcessed(ctx, r.ReadingID(), store.StageEvent)
	if err != nil {
		return fmt.Errorf("ledger check: %w", err)
	}

	if processed {
		return nil
	}

	history, err := w.readings.Range(ctx, r.HardwareID, r.TimestampMS-historyLookbackMS, r.TimestampMS, historyLimit)
	if err != nil {
		return fmt.Errorf("history fetch: %w", err)
	}

	dc := Context{Current: r, History: history}

	anyPersisted := false

	for et, detect := range Detectors() {
		candidate := w.runDetector(ctx, et, detect, dc)
		if candidate == nil {
			continue
		}

		persisted, err := w.persist(ctx, *candidate)
		if err != nil {
			w.log.ErrorContext(ctx, "event persist failed",
				slog.String("hardware_id", r.HardwareID),
				slog.String("event_type", string(et)),
				slog.Any("error", err),
			)

			continue
		}

		if !persisted {
			continue
		}

		anyPersisted = true

		w.afterPersist(ctx, *candidate)
	}

	if anyPersisted {
		w.maintainer.ApplyEvents(ctx, r.HardwareID, devstatus.EventFields{
			LastEventDetectedAtMS:    clock.NowMS(w.clock),
			LastProcessedEventTimeMS: r.TimestampMS,
		})
	}

	_, err = w.ledger.MarkIfAbsent(ctx, r.ReadingID(), store.StageEvent, r.HardwareID, clock.NowMS(w.clock))
	if err != nil {
		return fmt.Errorf("ledger mark: %w", err)
	}

	return nil
}

// runDetector isolates one detector: a panic or unexpected failure must
// not stop the siblings.
func (w *Worker) runDetector(ctx context.Context, et domain.EventType, detect Detector, dc Context) (candidate *domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "detector panicked",
				slog.String("event_type", string(et)),
				slog.String("hardware_id", dc.Current.HardwareID),
				slog.Any("panic", r),
			)

			candidate = nil
		}
	}()

	return detect(dc)
}

// persist checks the cooldown and conditionally inserts the event.
// Returns false both on cooldown suppression and key-exists dedup.
func (w *Worker) persist(ctx context.Context, e domain.Event) (bool, error) {
	cooldownMS := cooldowns[e.Type]

	if cooldownMS > 0 {
		since := e.EndTimeMS - cooldownMS

		prior, err := w.events.ListByTypeSince(ctx, e.HardwareID, e.Type, since, 1)
		if err != nil {
			return false, fmt.Errorf("cooldown check: %w", err)
		}

		if len(prior) > 0 {
			return false, nil
		}
	}

	e.DetectedAtMS = clock.NowMS(w.clock)

	inserted, err := w.events.Put(ctx, e)
	if err != nil {
		return false, fmt.Errorf("conditional insert: %w", err)
	}

	return inserted, nil
}

// afterPersist runs the per-type side effects of a fresh event.
func (w *Worker) afterPersist(ctx context.Context, e domain.Event) {
	switch e.Type {
	case domain.EventWatering:
		if w.learner == nil {
			return
		}

		if err := w.learner.OnWatering(ctx, e.HardwareID); err != nil {
			w.log.WarnContext(ctx, "profile learning failed",
				slog.String("hardware_id", e.HardwareID),
				slog.Any("error", err),
			)
		}

	case domain.EventTempStress:
		w.requestInsight(ctx, e.HardwareID)
	}
}

// requestInsight enqueues an event-driven insight request, deduping on
// recent pending requests and the rolling daily cap.
func (w *Worker) requestInsight(ctx context.Context, hardwareID string) {
	nowMS := clock.NowMS(w.clock)

	pending, err := w.requests.HasPendingSince(ctx, hardwareID, nowMS-requestDedupWindowMS)
	if err != nil {
		w.log.WarnContext(ctx, "pending request check failed", slog.Any("error", err))

		return
	}

	if pending {
		return
	}

	count, err := w.requests.CountEventSince(ctx, hardwareID, nowMS-timeutil.DayMS)
	if err != nil {
		w.log.WarnContext(ctx, "request cap check failed", slog.Any("error", err))

		return
	}

	if count >= w.dailyCap {
		w.log.InfoContext(ctx, "event request cap reached",
			slog.String("hardware_id", hardwareID),
			slog.Int("count", count),
		)

		return
	}

	err = w.requests.Create(ctx, domain.InsightRequest{
		HardwareID:    hardwareID,
		RequestTimeMS: nowMS,
		Type:          domain.RequestEvent,
		Status:        domain.RequestPending,
	})
	if err != nil {
		w.log.WarnContext(ctx, "insight request create failed", slog.Any("error", err))
	}
}
