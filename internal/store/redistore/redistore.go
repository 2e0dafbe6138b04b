// Package redistore is the Redis realization of the repository
// interfaces. Rows live in hashes or JSON string keys, range queries run
// against sorted-set indexes, conditional writes use SET NX / HSETNX or
// small Lua scripts, and the change feeds are Redis Streams consumed
// through consumer groups.
package redistore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

// DefaultKeyPrefix namespaces every key this store writes.
const DefaultKeyPrefix = "dirtman"

// Stream names, relative to the prefix.
const (
	streamReadings   = "readings"
	streamEvents     = "events"
	streamAggregates = "aggregates"
	streamInsights   = "insights"
)

// Options configures a Store.
type Options struct {
	// Addr is the Redis host:port.
	Addr string

	// Password authenticates the connection when non-empty.
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys. Empty means DefaultKeyPrefix.
	KeyPrefix string

	// ConsumerGroup names the stream consumer group. Empty means the
	// key prefix.
	ConsumerGroup string

	// Consumer names this worker within the group.
	Consumer string

	// ClaimIdle, when positive, lets feed reads steal records that have
	// been pending on a dead consumer for at least this long.
	ClaimIdle time.Duration
}

// Store is a Redis-backed implementation of every repository interface.
// One Store serves all tables; the typed views expose them separately.
type Store struct {
	rdb       *redis.Client
	prefix    string
	group     string
	consumer  string
	claimIdle time.Duration
}

// New connects to Redis and ensures the stream consumer groups exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	group := opts.ConsumerGroup
	if group == "" {
		group = prefix
	}

	consumer := opts.Consumer
	if consumer == "" {
		consumer = "worker"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := &Store{
		rdb:       rdb,
		prefix:    prefix,
		group:     group,
		consumer:  consumer,
		claimIdle: opts.ClaimIdle,
	}

	for _, stream := range []string{streamReadings, streamEvents, streamAggregates, streamInsights} {
		err := rdb.XGroupCreateMkStream(ctx, s.key("feed", stream), group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("create group for %s: %w", stream, err)
		}
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// key joins the prefix and parts with colons.
func (s *Store) key(parts ...any) string {
	b := strings.Builder{}
	b.WriteString(s.prefix)

	for _, p := range parts {
		b.WriteString(":")
		fmt.Fprintf(&b, "%v", p)
	}

	return b.String()
}

// Typed views, mirroring the memstore adapter pattern.

// Readings returns the reading repository view.
func (s *Store) Readings() store.ReadingStore { return readingView{s} }

// Events returns the event repository view.
func (s *Store) Events() store.EventStore { return eventView{s} }

// Aggregates returns the aggregate repository view.
func (s *Store) Aggregates() store.AggregateStore { return aggView{s} }

// Profiles returns the profile repository view.
func (s *Store) Profiles() store.ProfileStore { return profileView{s} }

// Statuses returns the device status repository view.
func (s *Store) Statuses() store.StatusStore { return statusView{s} }

// Insights returns the insight repository view.
func (s *Store) Insights() store.InsightStore { return insightView{s} }

// Requests returns the insight request repository view.
func (s *Store) Requests() store.RequestStore { return requestView{s} }

// Rollups returns the rollup repository view.
func (s *Store) Rollups() store.RollupStore { return rollupView{s} }

// Ledger returns the idempotency ledger view.
func (s *Store) Ledger() store.LedgerStore { return ledgerView{s} }

// Feeds returns the four change feeds, bound to this store's consumer
// group and consumer name.
func (s *Store) Feeds() store.Feeds {
	return store.Feeds{
		Readings:   newFeed[domain.Reading](s, streamReadings),
		Events:     newFeed[domain.Event](s, streamEvents),
		Aggregates: newFeed[domain.Aggregate](s, streamAggregates),
		Insights:   newFeed[domain.Insight](s, streamInsights),
	}
}

type readingView struct{ s *Store }

func (v readingView) Put(ctx context.Context, r domain.Reading) (bool, error) {
	return v.s.putReading(ctx, r)
}

func (v readingView) Range(ctx context.Context, hardwareID string, fromMS, toMS int64, limit int) ([]domain.Reading, error) {
	return v.s.rangeReadings(ctx, hardwareID, fromMS, toMS, limit)
}

type eventView struct{ s *Store }

func (v eventView) Put(ctx context.Context, e domain.Event) (bool, error) {
	return v.s.putEvent(ctx, e)
}

func (v eventView) ListSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Event, error) {
	return v.s.listEventsSince(ctx, hardwareID, sinceMS, limit)
}

func (v eventView) ListByTypeSince(ctx context.Context, hardwareID string, et domain.EventType, sinceMS int64, limit int) ([]domain.Event, error) {
	return v.s.listEventsByTypeSince(ctx, hardwareID, et, sinceMS, limit)
}

type aggView struct{ s *Store }

func (v aggView) Get(ctx context.Context, hardwareID string, wt domain.WindowType, startMS int64) (domain.Aggregate, error) {
	return v.s.getAggregate(ctx, hardwareID, wt, startMS)
}

func (v aggView) Put(ctx context.Context, a domain.Aggregate) error {
	return v.s.putAggregate(ctx, a)
}

func (v aggView) Apply(ctx context.Context, delta store.AggregateDelta) error {
	return v.s.applyAggregate(ctx, delta)
}

func (v aggView) ListRange(ctx context.Context, hardwareID string, wt domain.WindowType, fromMS, toMS int64) ([]domain.Aggregate, error) {
	return v.s.listAggRange(ctx, hardwareID, wt, fromMS, toMS)
}

func (v aggView) Devices(ctx context.Context, wt domain.WindowType, fromMS, toMS int64) ([]string, error) {
	return v.s.aggregateDevices(ctx, wt, fromMS, toMS)
}

type profileView struct{ s *Store }

func (v profileView) Get(ctx context.Context, hardwareID string) (domain.DeviceProfile, error) {
	return v.s.getProfile(ctx, hardwareID)
}

func (v profileView) PutUserFields(ctx context.Context, p domain.DeviceProfile) error {
	return v.s.putUserFields(ctx, p)
}

func (v profileView) ApplyLearned(ctx context.Context, hardwareID string, upd store.LearnedProfileUpdate) error {
	return v.s.applyLearned(ctx, hardwareID, upd)
}

type statusView struct{ s *Store }

func (v statusView) Get(ctx context.Context, hardwareID string) (domain.DeviceStatus, error) {
	return v.s.getStatus(ctx, hardwareID)
}

func (v statusView) Apply(ctx context.Context, hardwareID string, upd store.StatusUpdate) error {
	return v.s.applyStatus(ctx, hardwareID, upd)
}

func (v statusView) RecordError(ctx context.Context, hardwareID, code, message string, nowMS int64) error {
	return v.s.recordError(ctx, hardwareID, code, message, nowMS)
}

func (v statusView) List(ctx context.Context) ([]domain.DeviceStatus, error) {
	return v.s.listStatuses(ctx)
}

func (v statusView) ActiveSince(ctx context.Context, sinceMS int64) ([]string, error) {
	return v.s.activeSince(ctx, sinceMS)
}

type insightView struct{ s *Store }

func (v insightView) Put(ctx context.Context, ins domain.Insight) error {
	return v.s.putInsight(ctx, ins)
}

func (v insightView) ListSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Insight, error) {
	return v.s.listInsightsSince(ctx, hardwareID, sinceMS, limit)
}

type requestView struct{ s *Store }

func (v requestView) Create(ctx context.Context, req domain.InsightRequest) error {
	return v.s.createRequest(ctx, req)
}

func (v requestView) PendingBatch(ctx context.Context, limit int) ([]domain.InsightRequest, error) {
	return v.s.pendingBatch(ctx, limit)
}

func (v requestView) Claim(ctx context.Context, hardwareID string, requestTimeMS, nowMS int64) (bool, error) {
	return v.s.claimRequest(ctx, hardwareID, requestTimeMS, nowMS)
}

func (v requestView) Finish(ctx context.Context, hardwareID string, requestTimeMS int64, status domain.RequestStatus, errMessage string, nowMS int64) error {
	return v.s.finishRequest(ctx, hardwareID, requestTimeMS, status, errMessage, nowMS)
}

func (v requestView) HasPendingSince(ctx context.Context, hardwareID string, sinceMS int64) (bool, error) {
	return v.s.hasPendingSince(ctx, hardwareID, sinceMS)
}

func (v requestView) CountEventSince(ctx context.Context, hardwareID string, sinceMS int64) (int, error) {
	return v.s.countEventSince(ctx, hardwareID, sinceMS)
}

type rollupView struct{ s *Store }

func (v rollupView) Add(ctx context.Context, delta store.RollupDelta) error {
	return v.s.addRollup(ctx, delta)
}

type ledgerView struct{ s *Store }

func (v ledgerView) MarkIfAbsent(ctx context.Context, readingID string, stage store.Stage, hardwareID string, nowMS int64) (bool, error) {
	return v.s.markIfAbsent(ctx, readingID, stage, hardwareID, nowMS)
}

func (v ledgerView) IsProcessed(ctx context.Context, readingID string, stage store.Stage) (bool, error) {
	return v.s.isProcessed(ctx, readingID, stage)
}
