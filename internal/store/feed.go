package store

import (
	"context"
	"time"

	"github.com/allenheltondev/dirt-man/internal/domain"
)

// Op is the kind of change carried by a feed record.
type Op string

// Change feed operations. Removes are tombstones; workers filter them.
const (
	OpInsert Op = "insert"
	OpModify Op = "modify"
	OpRemove Op = "remove"
)

// Record is one change feed entry: the operation, a broker-assigned
// sequence number, and the post-image of the row.
type Record[T any] struct {
	Op  Op
	Seq string
	Row T
}

// Feed is a per-table change feed. Within a feed, records arrive in
// per-shard order. Records that are read but never acked are redelivered
// on later reads.
type Feed[T any] interface {
	// Read blocks up to block for at most max records.
	Read(ctx context.Context, max int, block time.Duration) ([]Record[T], error)

	// Ack marks records as consumed so they are not redelivered.
	Ack(ctx context.Context, seqs ...string) error
}

// Feeds bundles the change feeds the workers consume.
type Feeds struct {
	Readings   Feed[domain.Reading]
	Events     Feed[domain.Event]
	Aggregates Feed[domain.Aggregate]
	Insights   Feed[domain.Insight]
}
