package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
)

// Aggregate rows are hashes so incremental deltas can run as atomic
// HINCRBY / HINCRBYFLOAT / HSETNX operations without read-modify-write.
// Derived avg and stddev are computed on read.

func (s *Store) aggKey(hardwareID string, wt domain.WindowType, startMS int64) string {
	return s.key("agg", hardwareID, string(wt), startMS)
}

func (s *Store) getAggregate(ctx context.Context, hardwareID string, wt domain.WindowType, startMS int64) (domain.Aggregate, error) {
	fields, err := s.rdb.HGetAll(ctx, s.aggKey(hardwareID, wt, startMS)).Result()
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("aggregate get: %w", err)
	}

	if len(fields) == 0 {
		return domain.Aggregate{}, store.ErrNotFound
	}

	return decodeAggregate(hardwareID, wt, startMS, fields)
}

// putAggregate overwrites the full row. Used by rebuilds and rollovers.
func (s *Store) putAggregate(ctx context.Context, a domain.Aggregate) error {
	rowKey := s.aggKey(a.HardwareID, a.WindowType, a.WindowStartMS)

	fields := map[string]any{
		"window_end_ms":  a.WindowEndMS,
		"computed_at_ms": a.ComputedAtMS,
		"is_complete":    boolField(a.IsComplete),
	}

	for _, name := range domain.SensorNames() {
		st := a.Stat(name)
		p := string(name)

		fields[p+"_total"] = st.TotalCount
		fields[p+"_valid"] = st.ValidCount
		fields[p+"_sum"] = st.Sum
		fields[p+"_sumsq"] = st.SumSq

		if st.Min != nil {
			fields[p+"_min"] = *st.Min
		}

		if st.Max != nil {
			fields[p+"_max"] = *st.Max
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, rowKey)
	pipe.HSet(ctx, rowKey, fields)
	added := s.indexAggregate(ctx, pipe, a.HardwareID, a.WindowType, a.WindowStartMS)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("aggregate put: %w", err)
	}

	return s.emitAggregate(ctx, a.HardwareID, a.WindowType, a.WindowStartMS, added.Val() > 0)
}

// applyAggregate performs one atomic incremental update, creating the
// row when absent. Seed min/max are set-if-absent only.
func (s *Store) applyAggregate(ctx context.Context, delta store.AggregateDelta) error {
	wt := domain.WindowHourly
	rowKey := s.aggKey(delta.HardwareID, wt, delta.WindowStartMS)

	pipe := s.rdb.TxPipeline()
	pipe.HSetNX(ctx, rowKey, "window_end_ms", delta.WindowStartMS+timeutil.HourMS)
	pipe.HSetNX(ctx, rowKey, "is_complete", boolField(false))
	pipe.HSet(ctx, rowKey, "computed_at_ms", delta.ComputedAtMS)

	for name, d := range delta.Sensors {
		p := string(name)

		if d.TotalInc != 0 {
			pipe.HIncrBy(ctx, rowKey, p+"_total", d.TotalInc)
		}

		if d.ValidInc != 0 {
			pipe.HIncrBy(ctx, rowKey, p+"_valid", d.ValidInc)
		}

		if d.SumAdd != 0 {
			pipe.HIncrByFloat(ctx, rowKey, p+"_sum", d.SumAdd)
		}

		if d.SumSqAdd != 0 {
			pipe.HIncrByFloat(ctx, rowKey, p+"_sumsq", d.SumSqAdd)
		}

		if d.SeedMin != nil {
			pipe.HSetNX(ctx, rowKey, p+"_min", *d.SeedMin)
		}

		if d.SeedMax != nil {
			pipe.HSetNX(ctx, rowKey, p+"_max", *d.SeedMax)
		}
	}

	added := s.indexAggregate(ctx, pipe, delta.HardwareID, wt, delta.WindowStartMS)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("aggregate apply: %w", err)
	}

	return s.emitAggregate(ctx, delta.HardwareID, wt, delta.WindowStartMS, added.Val() > 0)
}

func (s *Store) listAggRange(ctx context.Context, hardwareID string, wt domain.WindowType, fromMS, toMS int64) ([]domain.Aggregate, error) {
	members, err := s.zRangeAsc(ctx, s.key("aggs", hardwareID, string(wt)), fromMS, toMS, 0)
	if err != nil {
		return nil, fmt.Errorf("aggregate range: %w", err)
	}

	out := make([]domain.Aggregate, 0, len(members))

	for _, m := range members {
		startMS, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("aggregate index member %q: %w", m, err)
		}

		a, err := s.getAggregate(ctx, hardwareID, wt, startMS)
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	return out, nil
}

// aggregateDevices lists the distinct devices with aggregates of the
// window type in [fromMS, toMS), from the global window index.
func (s *Store) aggregateDevices(ctx context.Context, wt domain.WindowType, fromMS, toMS int64) ([]string, error) {
	members, err := s.zRangeAsc(ctx, s.key("aggindex", string(wt)), fromMS, toMS, 0)
	if err != nil {
		return nil, fmt.Errorf("aggregate device index: %w", err)
	}

	seen := make(map[string]struct{}, len(members))

	var devices []string

	for _, m := range members {
		hw, _, ok := strings.Cut(m, "#")
		if !ok {
			continue
		}

		if _, dup := seen[hw]; dup {
			continue
		}

		seen[hw] = struct{}{}
		devices = append(devices, hw)
	}

	return devices, nil
}

// indexAggregate queues the per-device and global index writes. The
// returned command reports whether the window is new for the device.
func (s *Store) indexAggregate(ctx context.Context, pipe redis.Pipeliner, hardwareID string, wt domain.WindowType, startMS int64) *redis.IntCmd {
	score := float64(startMS)

	added := pipe.ZAdd(ctx, s.key("aggs", hardwareID, string(wt)), redis.Z{
		Score:  score,
		Member: strconv.FormatInt(startMS, 10),
	})

	pipe.ZAdd(ctx, s.key("aggindex", string(wt)), redis.Z{
		Score:  score,
		Member: fmt.Sprintf("%s#%d", hardwareID, startMS),
	})

	return added
}

// emitAggregate reloads the row and publishes it on the aggregate feed.
func (s *Store) emitAggregate(ctx context.Context, hardwareID string, wt domain.WindowType, startMS int64, fresh bool) error {
	a, err := s.getAggregate(ctx, hardwareID, wt, startMS)
	if err != nil {
		return fmt.Errorf("aggregate feed image: %w", err)
	}

	blob, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal aggregate: %w", err)
	}

	op := store.OpModify
	if fresh {
		op = store.OpInsert
	}

	return s.emit(ctx, streamAggregates, op, blob)
}

func decodeAggregate(hardwareID string, wt domain.WindowType, startMS int64, fields map[string]string) (domain.Aggregate, error) {
	a := domain.Aggregate{
		HardwareID:    hardwareID,
		WindowType:    wt,
		WindowStartMS: startMS,
	}

	var err error

	if a.WindowEndMS, err = hashInt(fields, "window_end_ms"); err != nil {
		return domain.Aggregate{}, err
	}

	if a.ComputedAtMS, err = hashInt(fields, "computed_at_ms"); err != nil {
		return domain.Aggregate{}, err
	}

	a.IsComplete = fields["is_complete"] == "1"

	for _, name := range domain.SensorNames() {
		st := a.Stat(name)
		p := string(name)

		if st.TotalCount, err = hashInt(fields, p+"_total"); err != nil {
			return domain.Aggregate{}, err
		}

		if st.ValidCount, err = hashInt(fields, p+"_valid"); err != nil {
			return domain.Aggregate{}, err
		}

		if st.Sum, err = hashFloat(fields, p+"_sum"); err != nil {
			return domain.Aggregate{}, err
		}

		if st.SumSq, err = hashFloat(fields, p+"_sumsq"); err != nil {
			return domain.Aggregate{}, err
		}

		if raw, ok := fields[p+"_min"]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return domain.Aggregate{}, fmt.Errorf("field %s_min: %w", p, err)
			}

			st.Min = domain.Ptr(v)
		}

		if raw, ok := fields[p+"_max"]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return domain.Aggregate{}, fmt.Errorf("field %s_max: %w", p, err)
			}

			st.Max = domain.Ptr(v)
		}
	}

	a.Finalize()

	return a, nil
}

func hashInt(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}

	return v, nil
}

func hashFloat(fields map[string]string, name string) (float64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}

	return v, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
