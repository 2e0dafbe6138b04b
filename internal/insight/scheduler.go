package insight

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// DefaultActiveThresholdHours bounds how long a silent device still
// receives scheduled insights.
const DefaultActiveThresholdHours = 24

// Scheduler enqueues scheduled insight requests for active devices.
// Invoked from a cron, typically twice daily.
type Scheduler struct {
	statuses       store.StatusStore
	requests       store.RequestStore
	clock          clock.Clock
	log            *slog.Logger
	thresholdHours int
}

// NewScheduler wires an insight scheduler.
func NewScheduler(statuses store.StatusStore, requests store.RequestStore, clk clock.Clock, log *slog.Logger, thresholdHours int) *Scheduler {
	if thresholdHours <= 0 {
		thresholdHours = DefaultActiveThresholdHours
	}

	return &Scheduler{
		statuses:       statuses,
		requests:       requests,
		clock:          clk,
		log:            log,
		thresholdHours: thresholdHours,
	}
}

// Run enumerates active devices and creates one pending request each.
func (s *Scheduler) Run(ctx context.Context) error {
	nowMS := clock.NowMS(s.clock)
	sinceMS := nowMS - int64(s.thresholdHours)*timeutil.HourMS

	devices, err := s.statuses.ActiveSince(ctx, sinceMS)
	if err != nil {
		return fmt.Errorf("active device scan: %w", err)
	}

	created := 0

	for _, hardwareID := range devices {
		err := s.requests.Create(ctx, domain.InsightRequest{
			HardwareID:    hardwareID,
			RequestTimeMS: nowMS,
			Type:          domain.RequestScheduled,
			Status:        domain.RequestPending,
		})
		if err != nil {
			s.log.WarnContext(ctx, "request create failed",
				slog.String("hardware_id", hardwareID),
				slog.Any("error", err),
			)

			continue
		}

		created++
	}

	s.log.InfoContext(ctx, "insight scheduling pass complete",
		slog.Int("active_devices", len(devices)),
		slog.Int("requests_created", created),
	)

	return nil
}
