package memstore

import (
	"context"
	"time"

	"github.com/allenheltondev/dirt-man/internal/store"
)

// feed is an in-memory change feed. Read moves records to an in-flight
// set; unacked records are redelivered ahead of new ones on the next
// Read, which models broker redrive.
type feed[T any] struct {
	s        *Store
	queue    []store.Record[T]
	inflight []store.Record[T]
}

func newFeed[T any](s *Store) *feed[T] {
	return &feed[T]{s: s}
}

func (f *feed[T]) emit(rec store.Record[T]) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	f.queue = append(f.queue, rec)
}

// Read returns up to max records, redelivering unacked ones first.
// The block duration is ignored; an empty feed returns immediately.
func (f *feed[T]) Read(ctx context.Context, max int, _ time.Duration) ([]store.Record[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var out []store.Record[T]

	out = append(out, f.inflight...)

	for len(out) < max && len(f.queue) > 0 {
		out = append(out, f.queue[0])
		f.queue = f.queue[1:]
	}

	if max > 0 && len(out) > max {
		f.queue = append(append([]store.Record[T]{}, out[max:]...), f.queue...)
		out = out[:max]
	}

	f.inflight = append([]store.Record[T]{}, out...)

	return out, nil
}

// Ack drops records from the in-flight set.
func (f *feed[T]) Ack(_ context.Context, seqs ...string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	acked := make(map[string]struct{}, len(seqs))
	for _, seq := range seqs {
		acked[seq] = struct{}{}
	}

	kept := f.inflight[:0]

	for _, rec := range f.inflight {
		if _, ok := acked[rec.Seq]; !ok {
			kept = append(kept, rec)
		}
	}

	f.inflight = kept

	return nil
}
