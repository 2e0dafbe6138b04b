package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

// putReading conditionally inserts the immutable row and always emits on
// the reading feed: insert for a fresh row, modify for the dedup signal.
func (s *Store) putReading(ctx context.Context, r domain.Reading) (bool, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("marshal reading: %w", err)
	}

	rowKey := s.key("reading", r.HardwareID, r.TimestampMS)

	inserted, err := s.rdb.SetNX(ctx, rowKey, blob, 0).Result()
	if err != nil {
		return false, fmt.Errorf("reading setnx: %w", err)
	}

	if inserted {
		err = s.rdb.ZAdd(ctx, s.key("readings", r.HardwareID), redis.Z{
			Score:  float64(r.TimestampMS),
			Member: strconv.FormatInt(r.TimestampMS, 10),
		}).Err()
		if err != nil {
			return false, fmt.Errorf("reading index: %w", err)
		}
	}

	op := store.OpInsert
	if !inserted {
		op = store.OpModify
	}

	if err := s.emit(ctx, streamReadings, op, blob); err != nil {
		return false, err
	}

	return inserted, nil
}

// rangeReadings returns readings with timestamp_ms in [fromMS, toMS),
// ascending, at most limit rows.
func (s *Store) rangeReadings(ctx context.Context, hardwareID string, fromMS, toMS int64, limit int) ([]domain.Reading, error) {
	members, err := s.zRangeAsc(ctx, s.key("readings", hardwareID), fromMS, toMS, limit)
	if err != nil {
		return nil, fmt.Errorf("reading range: %w", err)
	}

	out := make([]domain.Reading, 0, len(members))

	for _, m := range members {
		var r domain.Reading

		ok, err := s.getJSON(ctx, s.key("reading", hardwareID, m), &r)
		if err != nil {
			return nil, fmt.Errorf("reading row %s: %w", m, err)
		}

		if ok {
			out = append(out, r)
		}
	}

	return out, nil
}

// putEvent conditionally inserts an event. A duplicate start time is a
// successful dedup: nothing is written and nothing is emitted.
func (s *Store) putEvent(ctx context.Context, e domain.Event) (bool, error) {
	blob, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}

	rowKey := s.key("event", e.HardwareID, e.StartTimeMS)

	inserted, err := s.rdb.SetNX(ctx, rowKey, blob, 0).Result()
	if err != nil {
		return false, fmt.Errorf("event setnx: %w", err)
	}

	if !inserted {
		return false, nil
	}

	member := strconv.FormatInt(e.StartTimeMS, 10)
	z := redis.Z{Score: float64(e.StartTimeMS), Member: member}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, s.key("events", e.HardwareID), z)
	pipe.ZAdd(ctx, s.key("events", e.HardwareID, string(e.Type)), z)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("event index: %w", err)
	}

	if err := s.emit(ctx, streamEvents, store.OpInsert, blob); err != nil {
		return false, err
	}

	return true, nil
}

func (s *Store) listEventsSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Event, error) {
	return s.eventsFromIndex(ctx, hardwareID, s.key("events", hardwareID), sinceMS, limit)
}

func (s *Store) listEventsByTypeSince(ctx context.Context, hardwareID string, et domain.EventType, sinceMS int64, limit int) ([]domain.Event, error) {
	return s.eventsFromIndex(ctx, hardwareID, s.key("events", hardwareID, string(et)), sinceMS, limit)
}

func (s *Store) eventsFromIndex(ctx context.Context, hardwareID, indexKey string, sinceMS int64, limit int) ([]domain.Event, error) {
	opt := &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMS, 10),
		Max: "+inf",
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	members, err := s.rdb.ZRangeByScore(ctx, indexKey, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("event range: %w", err)
	}

	out := make([]domain.Event, 0, len(members))

	for _, m := range members {
		var e domain.Event

		ok, err := s.getJSON(ctx, s.key("event", hardwareID, m), &e)
		if err != nil {
			return nil, fmt.Errorf("event row %s: %w", m, err)
		}

		if ok {
			out = append(out, e)
		}
	}

	return out, nil
}

// zRangeAsc lists members with score in [fromMS, toMS), ascending.
func (s *Store) zRangeAsc(ctx context.Context, key string, fromMS, toMS int64, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: strconv.FormatInt(fromMS, 10),
		Max: "(" + strconv.FormatInt(toMS, 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	return s.rdb.ZRangeByScore(ctx, key, opt).Result()
}

// getJSON loads and decodes one JSON row. Missing keys report false.
func (s *Store) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	blob, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(blob, dst); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}

	return true, nil
}
