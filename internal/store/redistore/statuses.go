package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

// Device status rows are hashes; every update is field-scoped so the
// workers' disjoint ownership survives concurrent writes. The bounded
// error log is a separate capped list.

func (s *Store) getStatus(ctx context.Context, hardwareID string) (domain.DeviceStatus, error) {
	pipe := s.rdb.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, s.key("status", hardwareID))
	errsCmd := pipe.LRange(ctx, s.key("status_errors", hardwareID), 0, int64(domain.MaxStatusErrors-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.DeviceStatus{}, fmt.Errorf("status get: %w", err)
	}

	fields := fieldsCmd.Val()
	rawErrs := errsCmd.Val()

	if len(fields) == 0 && len(rawErrs) == 0 {
		return domain.DeviceStatus{}, store.ErrNotFound
	}

	st := domain.DeviceStatus{
		HardwareID:          hardwareID,
		SensorStatusSummary: domain.SummaryStatus(fields["sensor_status_summary"]),
		LastErrorCode:       fields["last_error_code"],
	}

	intPtr := func(name string) (*int64, error) {
		raw, ok := fields[name]
		if !ok {
			return nil, nil
		}

		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}

		return domain.Ptr(v), nil
	}

	var err error

	if st.LastSeenEventTimeMS, err = intPtr("last_seen_event_time_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if st.LastSeenIngestTimeMS, err = intPtr("last_seen_ingest_time_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if st.LastAggregateComputedAtMS, err = intPtr("last_aggregate_computed_at_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if st.LastEventDetectedAtMS, err = intPtr("last_event_detected_at_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if st.LastProcessedEventTimeMS, err = intPtr("last_processed_event_time_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if st.LastInsightGeneratedAtMS, err = intPtr("last_insight_generated_at_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if st.LastErrorAtMS, err = intPtr("last_error_at_ms"); err != nil {
		return domain.DeviceStatus{}, err
	}

	if raw, ok := fields["coverage_pct_last_hour"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.DeviceStatus{}, fmt.Errorf("field coverage_pct_last_hour: %w", err)
		}

		st.CoveragePctLastHour = domain.Ptr(v)
	}

	for _, raw := range rawErrs {
		var se domain.StatusError
		if err := json.Unmarshal([]byte(raw), &se); err != nil {
			return domain.DeviceStatus{}, fmt.Errorf("decode status error: %w", err)
		}

		st.LastErrors = append(st.LastErrors, se)
	}

	return st, nil
}

// applyStatus merges the non-nil fields into the row, creating it when
// absent, and maintains the activity index.
func (s *Store) applyStatus(ctx context.Context, hardwareID string, upd store.StatusUpdate) error {
	fields := map[string]any{}

	setInt := func(name string, v *int64) {
		if v != nil {
			fields[name] = *v
		}
	}

	setInt("last_seen_event_time_ms", upd.LastSeenEventTimeMS)
	setInt("last_seen_ingest_time_ms", upd.LastSeenIngestTimeMS)
	setInt("last_aggregate_computed_at_ms", upd.LastAggregateComputedAtMS)
	setInt("last_event_detected_at_ms", upd.LastEventDetectedAtMS)
	setInt("last_processed_event_time_ms", upd.LastProcessedEventTimeMS)
	setInt("last_insight_generated_at_ms", upd.LastInsightGeneratedAtMS)

	if upd.SensorStatusSummary != "" {
		fields["sensor_status_summary"] = string(upd.SensorStatusSummary)
	}

	if upd.CoveragePctLastHour != nil {
		fields["coverage_pct_last_hour"] = *upd.CoveragePctLastHour
	}

	if len(fields) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key("status", hardwareID), fields)
	pipe.SAdd(ctx, s.key("devices"), hardwareID)

	if upd.LastSeenIngestTimeMS != nil {
		pipe.ZAdd(ctx, s.key("active"), redis.Z{
			Score:  float64(*upd.LastSeenIngestTimeMS),
			Member: hardwareID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("status apply: %w", err)
	}

	return nil
}

// recordError appends to the capped error log and stamps the summary
// fields, atomically.
func (s *Store) recordError(ctx context.Context, hardwareID, code, message string, nowMS int64) error {
	if len(message) > domain.MaxErrorMessageLen {
		message = message[:domain.MaxErrorMessageLen]
	}

	entry, err := json.Marshal(domain.StatusError{AtMS: nowMS, Code: code, Message: message})
	if err != nil {
		return fmt.Errorf("marshal status error: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.key("status_errors", hardwareID), entry)
	pipe.LTrim(ctx, s.key("status_errors", hardwareID), 0, int64(domain.MaxStatusErrors-1))
	pipe.HSet(ctx, s.key("status", hardwareID), map[string]any{
		"last_error_at_ms": nowMS,
		"last_error_code":  code,
	})
	pipe.SAdd(ctx, s.key("devices"), hardwareID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("status error record: %w", err)
	}

	return nil
}

func (s *Store) listStatuses(ctx context.Context) ([]domain.DeviceStatus, error) {
	devices, err := s.rdb.SMembers(ctx, s.key("devices")).Result()
	if err != nil {
		return nil, fmt.Errorf("device set: %w", err)
	}

	out := make([]domain.DeviceStatus, 0, len(devices))

	for _, hw := range devices {
		st, err := s.getStatus(ctx, hw)
		if err != nil {
			return nil, err
		}

		out = append(out, st)
	}

	return out, nil
}

func (s *Store) activeSince(ctx context.Context, sinceMS int64) ([]string, error) {
	devices, err := s.rdb.ZRangeByScore(ctx, s.key("active"), &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMS, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("active index: %w", err)
	}

	return devices, nil
}
