package redistore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allenheltondev/dirt-man/internal/store"
)

// Rollup buckets are hashes keyed by (bucket_type, start). Each metric
// occupies a count field and, for _sum metrics, a float field; both are
// incremented atomically. The whole bucket expires at the retention
// horizon anchored on the bucket start.

func (s *Store) addRollup(ctx context.Context, delta store.RollupDelta) error {
	bucketKey := s.key("rollup", delta.BucketType, delta.BucketStartMS)
	field := metricField(delta.MetricName, delta.Dimensions)

	pipe := s.rdb.TxPipeline()

	if delta.CountInc != 0 {
		pipe.HIncrBy(ctx, bucketKey, field+":count", delta.CountInc)
	}

	if delta.SumAdd != nil {
		pipe.HIncrByFloat(ctx, bucketKey, field+":sum", *delta.SumAdd)
	}

	if delta.ExpireAtMS > 0 {
		pipe.PExpireAt(ctx, bucketKey, time.UnixMilli(delta.ExpireAtMS))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rollup add: %w", err)
	}

	return nil
}

// metricField renders the metric name and sorted dimensions. The
// trailing separator keeps undimensioned names collision-free.
func metricField(name string, dims map[string]string) string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteString(name)
	b.WriteString("#")

	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}

		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(dims[k])
	}

	return b.String()
}

// markIfAbsent records a stage as processed iff it was not already. The
// ledger row expires thirty days after its first mark.
func (s *Store) markIfAbsent(ctx context.Context, readingID string, stage store.Stage, _ string, nowMS int64) (bool, error) {
	rowKey := s.key("ledger", readingID)

	owned, err := s.rdb.HSetNX(ctx, rowKey, string(stage), nowMS).Result()
	if err != nil {
		return false, fmt.Errorf("ledger mark: %w", err)
	}

	if owned {
		if err := s.rdb.PExpireAt(ctx, rowKey, time.UnixMilli(nowMS+store.LedgerTTLMS)).Err(); err != nil {
			return false, fmt.Errorf("ledger expire: %w", err)
		}
	}

	return owned, nil
}

func (s *Store) isProcessed(ctx context.Context, readingID string, stage store.Stage) (bool, error) {
	exists, err := s.rdb.HExists(ctx, s.key("ledger", readingID), string(stage)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger check: %w", err)
	}

	return exists, nil
}
