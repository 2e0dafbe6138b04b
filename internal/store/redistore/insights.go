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
)

func (s *Store) putInsight(ctx context.Context, ins domain.Insight) error {
	blob, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key("insight", ins.HardwareID, ins.TimestampMS), blob, 0)
	pipe.ZAdd(ctx, s.key("insights", ins.HardwareID), redis.Z{
		Score:  float64(ins.TimestampMS),
		Member: strconv.FormatInt(ins.TimestampMS, 10),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insight put: %w", err)
	}

	return s.emit(ctx, streamInsights, store.OpInsert, blob)
}

func (s *Store) listInsightsSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Insight, error) {
	opt := &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMS, 10),
		Max: "+inf",
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	members, err := s.rdb.ZRangeByScore(ctx, s.key("insights", hardwareID), opt).Result()
	if err != nil {
		return nil, fmt.Errorf("insight range: %w", err)
	}

	out := make([]domain.Insight, 0, len(members))

	for _, m := range members {
		var ins domain.Insight

		ok, err := s.getJSON(ctx, s.key("insight", hardwareID, m), &ins)
		if err != nil {
			return nil, fmt.Errorf("insight row %s: %w", m, err)
		}

		if ok {
			out = append(out, ins)
		}
	}

	return out, nil
}

// claimScript is the pending -> processing CAS. It flips the status and
// drops the pending index entries in one atomic step.
var claimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'pending' then
  redis.call('HSET', KEYS[1], 'status', 'processing')
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  return 1
end
return 0
`)

func (s *Store) reqKey(hardwareID string, requestTimeMS int64) string {
	return s.key("req", hardwareID, requestTimeMS)
}

func reqMember(hardwareID string, requestTimeMS int64) string {
	return fmt.Sprintf("%s#%d", hardwareID, requestTimeMS)
}

func (s *Store) createRequest(ctx context.Context, req domain.InsightRequest) error {
	member := reqMember(req.HardwareID, req.RequestTimeMS)
	z := redis.Z{Score: float64(req.RequestTimeMS), Member: member}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.reqKey(req.HardwareID, req.RequestTimeMS), map[string]any{
		"hardware_id":     req.HardwareID,
		"request_time_ms": req.RequestTimeMS,
		"request_type":    string(req.Type),
		"status":          string(domain.RequestPending),
	})
	pipe.ZAdd(ctx, s.key("req_pending"), z)
	pipe.ZAdd(ctx, s.key("req_pending", req.HardwareID), z)

	if req.Type == domain.RequestEvent {
		pipe.ZAdd(ctx, s.key("req_event", req.HardwareID), z)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("request create: %w", err)
	}

	return nil
}

func (s *Store) pendingBatch(ctx context.Context, limit int) ([]domain.InsightRequest, error) {
	members, err := s.rdb.ZRange(ctx, s.key("req_pending"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("pending index: %w", err)
	}

	out := make([]domain.InsightRequest, 0, len(members))

	for _, m := range members {
		req, ok, err := s.getRequestByMember(ctx, m)
		if err != nil {
			return nil, err
		}

		// A row can disappear between the index read and the fetch; the
		// next batch self-heals.
		if ok && req.Status == domain.RequestPending {
			out = append(out, req)
		}
	}

	return out, nil
}

func (s *Store) claimRequest(ctx context.Context, hardwareID string, requestTimeMS, _ int64) (bool, error) {
	member := reqMember(hardwareID, requestTimeMS)

	res, err := claimScript.Run(ctx, s.rdb, []string{
		s.reqKey(hardwareID, requestTimeMS),
		s.key("req_pending"),
		s.key("req_pending", hardwareID),
	}, member).Int64()
	if err != nil {
		return false, fmt.Errorf("request claim: %w", err)
	}

	return res == 1, nil
}

func (s *Store) finishRequest(ctx context.Context, hardwareID string, requestTimeMS int64, status domain.RequestStatus, errMessage string, nowMS int64) error {
	if len(errMessage) > domain.MaxErrorMessageLen {
		errMessage = errMessage[:domain.MaxErrorMessageLen]
	}

	member := reqMember(hardwareID, requestTimeMS)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.reqKey(hardwareID, requestTimeMS), map[string]any{
		"status":          string(status),
		"processed_at_ms": nowMS,
		"error_message":   errMessage,
	})
	pipe.ZRem(ctx, s.key("req_pending"), member)
	pipe.ZRem(ctx, s.key("req_pending", hardwareID), member)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("request finish: %w", err)
	}

	return nil
}

func (s *Store) hasPendingSince(ctx context.Context, hardwareID string, sinceMS int64) (bool, error) {
	n, err := s.rdb.ZCount(ctx, s.key("req_pending", hardwareID),
		strconv.FormatInt(sinceMS, 10), "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("pending count: %w", err)
	}

	return n > 0, nil
}

func (s *Store) countEventSince(ctx context.Context, hardwareID string, sinceMS int64) (int, error) {
	n, err := s.rdb.ZCount(ctx, s.key("req_event", hardwareID),
		strconv.FormatInt(sinceMS, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("event request count: %w", err)
	}

	return int(n), nil
}

func (s *Store) getRequestByMember(ctx context.Context, member string) (domain.InsightRequest, bool, error) {
	hw, ts, _ := strings.Cut(member, "#")

	fields, err := s.rdb.HGetAll(ctx, s.key("req", hw, ts)).Result()
	if err != nil {
		return domain.InsightRequest{}, false, fmt.Errorf("request row %s: %w", member, err)
	}

	if len(fields) == 0 {
		return domain.InsightRequest{}, false, nil
	}

	req := domain.InsightRequest{
		HardwareID:   fields["hardware_id"],
		Type:         domain.RequestType(fields["request_type"]),
		Status:       domain.RequestStatus(fields["status"]),
		ErrorMessage: fields["error_message"],
	}

	if req.RequestTimeMS, err = hashInt(fields, "request_time_ms"); err != nil {
		return domain.InsightRequest{}, false, err
	}

	if raw, ok := fields["processed_at_ms"]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.InsightRequest{}, false, fmt.Errorf("field processed_at_ms: %w", err)
		}

		req.ProcessedAtMS = domain.Ptr(v)
	}

	return req, true, nil
}
