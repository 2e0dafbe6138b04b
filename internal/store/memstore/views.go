package memstore

import (
	"context"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

// Typed views adapt the single backing Store to the per-table
// repository interfaces.

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

type readingView struct{ s *Store }

func (v readingView) Put(ctx context.Context, r domain.Reading) (bool, error) {
	return v.s.Put(ctx, r)
}

func (v readingView) Range(ctx context.Context, hardwareID string, fromMS, toMS int64, limit int) ([]domain.Reading, error) {
	return v.s.Range(ctx, hardwareID, fromMS, toMS, limit)
}

type eventView struct{ s *Store }

func (v eventView) Put(ctx context.Context, e domain.Event) (bool, error) {
	return v.s.PutEvent(ctx, e)
}

func (v eventView) ListSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Event, error) {
	return v.s.ListSince(ctx, hardwareID, sinceMS, limit)
}

func (v eventView) ListByTypeSince(ctx context.Context, hardwareID string, et domain.EventType, sinceMS int64, limit int) ([]domain.Event, error) {
	return v.s.ListByTypeSince(ctx, hardwareID, et, sinceMS, limit)
}

type aggView struct{ s *Store }

func (v aggView) Get(ctx context.Context, hardwareID string, wt domain.WindowType, startMS int64) (domain.Aggregate, error) {
	return v.s.GetAggregate(ctx, hardwareID, wt, startMS)
}

func (v aggView) Put(ctx context.Context, a domain.Aggregate) error {
	return v.s.PutAggregate(ctx, a)
}

func (v aggView) Apply(ctx context.Context, delta store.AggregateDelta) error {
	return v.s.ApplyAggregate(ctx, delta)
}

func (v aggView) ListRange(ctx context.Context, hardwareID string, wt domain.WindowType, fromMS, toMS int64) ([]domain.Aggregate, error) {
	return v.s.ListAggRange(ctx, hardwareID, wt, fromMS, toMS)
}

func (v aggView) Devices(ctx context.Context, wt domain.WindowType, fromMS, toMS int64) ([]string, error) {
	return v.s.DevicesWithAggregates(ctx, wt, fromMS, toMS)
}

type profileView struct{ s *Store }

func (v profileView) Get(ctx context.Context, hardwareID string) (domain.DeviceProfile, error) {
	return v.s.GetProfile(ctx, hardwareID)
}

func (v profileView) PutUserFields(ctx context.Context, p domain.DeviceProfile) error {
	return v.s.PutUserFields(ctx, p)
}

func (v profileView) ApplyLearned(ctx context.Context, hardwareID string, upd store.LearnedProfileUpdate) error {
	return v.s.ApplyLearned(ctx, hardwareID, upd)
}

type statusView struct{ s *Store }

func (v statusView) Get(ctx context.Context, hardwareID string) (domain.DeviceStatus, error) {
	return v.s.GetStatus(ctx, hardwareID)
}

func (v statusView) Apply(ctx context.Context, hardwareID string, upd store.StatusUpdate) error {
	return v.s.ApplyStatus(ctx, hardwareID, upd)
}

func (v statusView) RecordError(ctx context.Context, hardwareID, code, message string, nowMS int64) error {
	return v.s.RecordError(ctx, hardwareID, code, message, nowMS)
}

func (v statusView) List(ctx context.Context) ([]domain.DeviceStatus, error) {
	return v.s.ListStatuses(ctx)
}

func (v statusView) ActiveSince(ctx context.Context, sinceMS int64) ([]string, error) {
	return v.s.ActiveSince(ctx, sinceMS)
}

type insightView struct{ s *Store }

func (v insightView) Put(ctx context.Context, ins domain.Insight) error {
	return v.s.PutInsight(ctx, ins)
}

func (v insightView) ListSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Insight, error) {
	return v.s.ListInsightsSince(ctx, hardwareID, sinceMS, limit)
}

type requestView struct{ s *Store }

func (v requestView) Create(ctx context.Context, req domain.InsightRequest) error {
	return v.s.CreateRequest(ctx, req)
}

func (v requestView) PendingBatch(ctx context.Context, limit int) ([]domain.InsightRequest, error) {
	return v.s.PendingBatch(ctx, limit)
}

func (v requestView) Claim(ctx context.Context, hardwareID string, requestTimeMS, nowMS int64) (bool, error) {
	return v.s.Claim(ctx, hardwareID, requestTimeMS, nowMS)
}

func (v requestView) Finish(ctx context.Context, hardwareID string, requestTimeMS int64, status domain.RequestStatus, errMessage string, nowMS int64) error {
	return v.s.Finish(ctx, hardwareID, requestTimeMS, status, errMessage, nowMS)
}

func (v requestView) HasPendingSince(ctx context.Context, hardwareID string, sinceMS int64) (bool, error) {
	return v.s.HasPendingSince(ctx, hardwareID, sinceMS)
}

func (v requestView) CountEventSince(ctx context.Context, hardwareID string, sinceMS int64) (int, error) {
	return v.s.CountEventSince(ctx, hardwareID, sinceMS)
}

type rollupView struct{ s *Store }

func (v rollupView) Add(ctx context.Context, delta store.RollupDelta) error {
	return v.s.AddRollup(ctx, delta)
}

type ledgerView struct{ s *Store }

func (v ledgerView) MarkIfAbsent(ctx context.Context, readingID string, stage store.Stage, hardwareID string, nowMS int64) (bool, error) {
	return v.s.MarkIfAbsent(ctx, readingID, stage, hardwareID, nowMS)
}

func (v ledgerView) IsProcessed(ctx context.Context, readingID string, stage store.Stage) (bool, error) {
	return v.s.IsProcessed(ctx, readingID, stage)
}
