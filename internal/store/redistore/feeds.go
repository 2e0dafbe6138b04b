package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/allenheltondev/dirt-man/internal/store"
)

// Stream entry fields.
const (
	fieldOp  = "op"
	fieldRow = "row"
)

// emit appends one change record to a table's stream.
func (s *Store) emit(ctx context.Context, stream string, op store.Op, blob []byte) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key("feed", stream),
		Values: map[string]any{fieldOp: string(op), fieldRow: blob},
	}).Err()
	if err != nil {
		return fmt.Errorf("emit %s: %w", stream, err)
	}

	return nil
}

// feed consumes one table's stream through the store's consumer group.
// Unacked entries are redelivered: first from this consumer's own
// pending list, then (when claimIdle is set) stolen from dead consumers
// via XAUTOCLAIM.
type feed[T any] struct {
	s      *Store
	stream string
}

func newFeed[T any](s *Store, stream string) *feed[T] {
	return &feed[T]{s: s, stream: stream}
}

// Read returns up to max records, blocking up to block when the stream
// is empty. Redeliveries come before new entries.
func (f *feed[T]) Read(ctx context.Context, max int, block time.Duration) ([]store.Record[T], error) {
	recs, err := f.readPending(ctx, max)
	if err != nil {
		return nil, err
	}

	if len(recs) > 0 {
		return recs, nil
	}

	if f.s.claimIdle > 0 {
		recs, err = f.claimStale(ctx, max)
		if err != nil {
			return nil, err
		}

		if len(recs) > 0 {
			return recs, nil
		}
	}

	return f.readNew(ctx, max, block)
}

// Ack marks records consumed so the group stops redelivering them.
func (f *feed[T]) Ack(ctx context.Context, seqs ...string) error {
	if len(seqs) == 0 {
		return nil
	}

	err := f.s.rdb.XAck(ctx, f.s.key("feed", f.stream), f.s.group, seqs...).Err()
	if err != nil {
		return fmt.Errorf("ack %s: %w", f.stream, err)
	}

	return nil
}

// readPending drains this consumer's own unacked entries.
func (f *feed[T]) readPending(ctx context.Context, max int) ([]store.Record[T], error) {
	streams, err := f.s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.s.group,
		Consumer: f.s.consumer,
		Streams:  []string{f.s.key("feed", f.stream), "0"},
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read pending %s: %w", f.stream, err)
	}

	return f.decodeStreams(streams)
}

// readNew blocks for fresh entries.
func (f *feed[T]) readNew(ctx context.Context, max int, block time.Duration) ([]store.Record[T], error) {
	streams, err := f.s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.s.group,
		Consumer: f.s.consumer,
		Streams:  []string{f.s.key("feed", f.stream), ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("read %s: %w", f.stream, err)
	}

	return f.decodeStreams(streams)
}

// claimStale steals entries stuck on dead consumers.
func (f *feed[T]) claimStale(ctx context.Context, max int) ([]store.Record[T], error) {
	msgs, _, err := f.s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   f.s.key("feed", f.stream),
		Group:    f.s.group,
		Consumer: f.s.consumer,
		MinIdle:  f.s.claimIdle,
		Start:    "0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("autoclaim %s: %w", f.stream, err)
	}

	return f.decodeMessages(msgs)
}

func (f *feed[T]) decodeStreams(streams []redis.XStream) ([]store.Record[T], error) {
	var recs []store.Record[T]

	for _, st := range streams {
		decoded, err := f.decodeMessages(st.Messages)
		if err != nil {
			return nil, err
		}

		recs = append(recs, decoded...)
	}

	return recs, nil
}

func (f *feed[T]) decodeMessages(msgs []redis.XMessage) ([]store.Record[T], error) {
	recs := make([]store.Record[T], 0, len(msgs))

	for _, msg := range msgs {
		rec := store.Record[T]{Seq: msg.ID}

		if op, ok := msg.Values[fieldOp].(string); ok {
			rec.Op = store.Op(op)
		}

		if raw, ok := msg.Values[fieldRow].(string); ok {
			if err := json.Unmarshal([]byte(raw), &rec.Row); err != nil {
				return nil, fmt.Errorf("decode %s entry %s: %w", f.stream, msg.ID, err)
			}
		}

		recs = append(recs, rec)
	}

	return recs, nil
}

var _ store.Feed[struct{}] = (*feed[struct{}])(nil)
