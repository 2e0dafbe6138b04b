// Package memstore is an in-memory implementation of the store
// interfaces. It backs the worker unit tests: deterministic, fake-clock
// friendly, and honest about conditional-write semantics. TTLs are
// recorded but never enforced.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

// Store holds every table in memory behind one mutex.
type Store struct {
	mu sync.Mutex

	readings   map[string][]domain.Reading // hardware_id -> ascending by timestamp
	readingSet map[string]struct{}         // hardware_id#timestamp_ms
	events     map[string][]domain.Event   // hardware_id -> ascending by start_time
	eventSet   map[string]struct{}         // hardware_id#start_time_ms
	aggregates map[string]domain.Aggregate // hardware_id#window_type#start
	profiles   map[string]domain.DeviceProfile
	statuses   map[string]domain.DeviceStatus
	insights   map[string][]domain.Insight // hardware_id -> ascending by timestamp
	requests   map[string]domain.InsightRequest
	ledger     map[string]map[store.Stage]int64 // reading_id -> stage -> marked at
	rollups    map[string]rollupRow             // bucket_key|metric_key

	feedSeq      int64
	readingFeed  *feed[domain.Reading]
	eventFeed    *feed[domain.Event]
	aggFeed      *feed[domain.Aggregate]
	insightFeed  *feed[domain.Insight]
	rollupWrites int64
}

type rollupRow struct {
	Count      int64
	Sum        *float64
	ExpireAtMS int64
}

// New creates an empty in-memory store.
func New() *Store {
	s := &Store{
		readings:   make(map[string][]domain.Reading),
		readingSet: make(map[string]struct{}),
		events:     make(map[string][]domain.Event),
		eventSet:   make(map[string]struct{}),
		aggregates: make(map[string]domain.Aggregate),
		profiles:   make(map[string]domain.DeviceProfile),
		statuses:   make(map[string]domain.DeviceStatus),
		insights:   make(map[string][]domain.Insight),
		requests:   make(map[string]domain.InsightRequest),
		ledger:     make(map[string]map[store.Stage]int64),
		rollups:    make(map[string]rollupRow),
	}

	s.readingFeed = newFeed[domain.Reading](s)
	s.eventFeed = newFeed[domain.Event](s)
	s.aggFeed = newFeed[domain.Aggregate](s)
	s.insightFeed = newFeed[domain.Insight](s)

	return s
}

// Feeds returns the change feeds backed by this store.
func (s *Store) Feeds() store.Feeds {
	return store.Feeds{
		Readings:   s.readingFeed,
		Events:     s.eventFeed,
		Aggregates: s.aggFeed,
		Insights:   s.insightFeed,
	}
}

// RollupWriteCount reports how many rollup adds were applied. Tests use
// it to assert the updater writes nowhere else.
func (s *Store) RollupWriteCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rollupWrites
}

// Rollup returns a rollup row's count and sum for assertions.
func (s *Store) Rollup(bucketKey, metricKey string) (count int64, sum *float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rollups[bucketKey+"|"+metricKey]
	if !ok {
		return 0, nil, false
	}

	return row.Count, row.Sum, true
}

// --- ReadingStore ---

// Put writes a reading and emits insert or modify on the reading feed.
func (s *Store) Put(ctx context.Context, r domain.Reading) (bool, error) {
	s.mu.Lock()

	key := fmt.Sprintf("%s#%d", r.HardwareID, r.TimestampMS)
	_, exists := s.readingSet[key]

	if !exists {
		s.readingSet[key] = struct{}{}
		s.readings[r.HardwareID] = append(s.readings[r.HardwareID], r)
		sort.Slice(s.readings[r.HardwareID], func(i, j int) bool {
			return s.readings[r.HardwareID][i].TimestampMS < s.readings[r.HardwareID][j].TimestampMS
		})
	}

	op := store.OpInsert
	if exists {
		op = store.OpModify
	}

	seq := s.nextSeq()
	s.mu.Unlock()

	s.readingFeed.emit(store.Record[domain.Reading]{Op: op, Seq: seq, Row: r})

	return !exists, ctx.Err()
}

// Range returns readings with timestamp_ms in [fromMS, toMS), ascending.
func (s *Store) Range(_ context.Context, hardwareID string, fromMS, toMS int64, limit int) ([]domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Reading

	for _, r := range s.readings[hardwareID] {
		if r.TimestampMS < fromMS || r.TimestampMS >= toMS {
			continue
		}

		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

// --- EventStore ---

// PutEvent conditionally inserts an event; duplicates are dedups.
func (s *Store) PutEvent(_ context.Context, e domain.Event) (bool, error) {
	s.mu.Lock()

	key := fmt.Sprintf("%s#%d", e.HardwareID, e.StartTimeMS)
	if _, exists := s.eventSet[key]; exists {
		s.mu.Unlock()

		return false, nil
	}

	s.eventSet[key] = struct{}{}
	s.events[e.HardwareID] = append(s.events[e.HardwareID], e)
	sort.Slice(s.events[e.HardwareID], func(i, j int) bool {
		return s.events[e.HardwareID][i].StartTimeMS < s.events[e.HardwareID][j].StartTimeMS
	})

	seq := s.nextSeq()
	s.mu.Unlock()

	s.eventFeed.emit(store.Record[domain.Event]{Op: store.OpInsert, Seq: seq, Row: e})

	return true, nil
}

// ListSince returns events with start_time_ms >= sinceMS, ascending.
func (s *Store) ListSince(_ context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return filterEvents(s.events[hardwareID], "", sinceMS, limit), nil
}

// ListByTypeSince is ListSince restricted to one event type.
func (s *Store) ListByTypeSince(_ context.Context, hardwareID string, et domain.EventType, sinceMS int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return filterEvents(s.events[hardwareID], et, sinceMS, limit), nil
}

func filterEvents(events []domain.Event, et domain.EventType, sinceMS int64, limit int) []domain.Event {
	var out []domain.Event

	for _, e := range events {
		if e.StartTimeMS < sinceMS {
			continue
		}

		if et != "" && e.Type != et {
			continue
		}

		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out
}

// --- AggregateStore ---

func aggKey(hardwareID string, wt domain.WindowType, startMS int64) string {
	return fmt.Sprintf("%s#%s#%d", hardwareID, wt, startMS)
}

// GetAggregate returns the aggregate row, or store.ErrNotFound.
func (s *Store) GetAggregate(_ context.Context, hardwareID string, wt domain.WindowType, startMS int64) (domain.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.aggregates[aggKey(hardwareID, wt, startMS)]
	if !ok {
		return domain.Aggregate{}, store.ErrNotFound
	}

	return a, nil
}

// PutAggregate overwrites the full row and emits on the aggregate feed.
func (s *Store) PutAggregate(_ context.Context, a domain.Aggregate) error {
	s.mu.Lock()

	key := aggKey(a.HardwareID, a.WindowType, a.WindowStartMS)
	_, exists := s.aggregates[key]
	s.aggregates[key] = a

	op := store.OpInsert
	if exists {
		op = store.OpModify
	}

	seq := s.nextSeq()
	s.mu.Unlock()

	s.aggFeed.emit(store.Record[domain.Aggregate]{Op: op, Seq: seq, Row: a})

	return nil
}

// ApplyAggregate performs one atomic incremental update on an hourly row.
func (s *Store) ApplyAggregate(_ context.Context, delta store.AggregateDelta) error {
	s.mu.Lock()

	key := aggKey(delta.HardwareID, domain.WindowHourly, delta.WindowStartMS)

	a, exists := s.aggregates[key]
	if !exists {
		a = domain.Aggregate{
			HardwareID:    delta.HardwareID,
			WindowType:    domain.WindowHourly,
			WindowStartMS: delta.WindowStartMS,
			WindowEndMS:   delta.WindowStartMS + 3600_000,
		}
	}

	for name, d := range delta.Sensors {
		st := a.Stat(name)
		st.TotalCount += d.TotalInc
		st.ValidCount += d.ValidInc
		st.Sum += d.SumAdd
		st.SumSq += d.SumSqAdd

		if st.Min == nil && d.SeedMin != nil {
			st.Min = domain.Ptr(*d.SeedMin)
		}

		if st.Max == nil && d.SeedMax != nil {
			st.Max = domain.Ptr(*d.SeedMax)
		}
	}

	a.ComputedAtMS = delta.ComputedAtMS
	s.aggregates[key] = a

	op := store.OpInsert
	if exists {
		op = store.OpModify
	}

	seq := s.nextSeq()
	s.mu.Unlock()

	s.aggFeed.emit(store.Record[domain.Aggregate]{Op: op, Seq: seq, Row: a})

	return nil
}

// ListAggRange returns aggregates with window_start_ms in [fromMS, toMS).
func (s *Store) ListAggRange(_ context.Context, hardwareID string, wt domain.WindowType, fromMS, toMS int64) ([]domain.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Aggregate

	for _, a := range s.aggregates {
		if a.HardwareID != hardwareID || a.WindowType != wt {
			continue
		}

		if a.WindowStartMS < fromMS || a.WindowStartMS >= toMS {
			continue
		}

		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].WindowStartMS < out[j].WindowStartMS })

	return out, nil
}

// DevicesWithAggregates returns distinct hardware IDs with rows in range.
func (s *Store) DevicesWithAggregates(_ context.Context, wt domain.WindowType, fromMS, toMS int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})

	for _, a := range s.aggregates {
		if a.WindowType != wt || a.WindowStartMS < fromMS || a.WindowStartMS >= toMS {
			continue
		}

		seen[a.HardwareID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}

	sort.Strings(out)

	return out, nil
}

// --- ProfileStore ---

// GetProfile returns the profile, or store.ErrNotFound.
func (s *Store) GetProfile(_ context.Context, hardwareID string) (domain.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[hardwareID]
	if !ok {
		return domain.DeviceProfile{}, store.ErrNotFound
	}

	return p, nil
}

// PutUserFields writes the user-owned profile subset.
func (s *Store) PutUserFields(_ context.Context, p domain.DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.profiles[p.HardwareID]
	cur.HardwareID = p.HardwareID
	cur.PlantType = p.PlantType
	cur.SoilType = p.SoilType
	cur.PotSizeLiters = p.PotSizeLiters
	cur.ExpectedIntervalSec = p.ExpectedIntervalSec
	s.profiles[p.HardwareID] = cur

	return nil
}

// ApplyLearned writes the learner-owned profile subset.
func (s *Store) ApplyLearned(_ context.Context, hardwareID string, upd store.LearnedProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.profiles[hardwareID]
	cur.HardwareID = hardwareID

	if upd.TypicalWateringIntervalSec != nil {
		cur.TypicalWateringIntervalSec = upd.TypicalWateringIntervalSec
	}

	if upd.BaselineMoistureRange != nil {
		cur.BaselineMoistureRange = upd.BaselineMoistureRange
	}

	if upd.LastWateringEvents != nil {
		cur.LastWateringEvents = upd.LastWateringEvents
	}

	s.profiles[hardwareID] = cur

	return nil
}

// --- StatusStore ---

// GetStatus returns the status row, or store.ErrNotFound.
func (s *Store) GetStatus(_ context.Context, hardwareID string) (domain.DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[hardwareID]
	if !ok {
		return domain.DeviceStatus{}, store.ErrNotFound
	}

	return st, nil
}

// ApplyStatus merges the given fields into the status row.
func (s *Store) ApplyStatus(_ context.Context, hardwareID string, upd store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statuses[hardwareID]
	st.HardwareID = hardwareID

	if upd.LastSeenEventTimeMS != nil {
		st.LastSeenEventTimeMS = upd.LastSeenEventTimeMS
	}

	if upd.LastSeenIngestTimeMS != nil {
		st.LastSeenIngestTimeMS = upd.LastSeenIngestTimeMS
	}

	if upd.SensorStatusSummary != "" {
		st.SensorStatusSummary = upd.SensorStatusSummary
	}

	if upd.CoveragePctLastHour != nil {
		st.CoveragePctLastHour = upd.CoveragePctLastHour
	}

	if upd.LastAggregateComputedAtMS != nil {
		st.LastAggregateComputedAtMS = upd.LastAggregateComputedAtMS
	}

	if upd.LastEventDetectedAtMS != nil {
		st.LastEventDetectedAtMS = upd.LastEventDetectedAtMS
	}

	if upd.LastProcessedEventTimeMS != nil {
		st.LastProcessedEventTimeMS = upd.LastProcessedEventTimeMS
	}

	if upd.LastInsightGeneratedAtMS != nil {
		st.LastInsightGeneratedAtMS = upd.LastInsightGeneratedAtMS
	}

	s.statuses[hardwareID] = st

	return nil
}

// RecordError appends to the bounded error log.
func (s *Store) RecordError(_ context.Context, hardwareID, code, message string, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(message) > domain.MaxErrorMessageLen {
		message = message[:domain.MaxErrorMessageLen]
	}

	st := s.statuses[hardwareID]
	st.HardwareID = hardwareID
	st.LastErrorAtMS = domain.Ptr(nowMS)
	st.LastErrorCode = code
	st.LastErrors = append(st.LastErrors, domain.StatusError{AtMS: nowMS, Code: code, Message: message})

	if over := len(st.LastErrors) - domain.MaxStatusErrors; over > 0 {
		st.LastErrors = st.LastErrors[over:]
	}

	s.statuses[hardwareID] = st

	return nil
}

// ListStatuses returns all status rows, ordered by hardware ID.
func (s *Store) ListStatuses(_ context.Context) ([]domain.DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.statuses))
	for id := range s.statuses {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]domain.DeviceStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.statuses[id])
	}

	return out, nil
}

// ActiveSince returns devices seen since the given instant.
func (s *Store) ActiveSince(_ context.Context, sinceMS int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string

	for id, st := range s.statuses {
		if st.LastSeenIngestTimeMS != nil && *st.LastSeenIngestTimeMS >= sinceMS {
			out = append(out, id)
		}
	}

	sort.Strings(out)

	return out, nil
}

// --- InsightStore ---

// PutInsight persists an insight and emits on the insight feed.
func (s *Store) PutInsight(_ context.Context, ins domain.Insight) error {
	s.mu.Lock()

	s.insights[ins.HardwareID] = append(s.insights[ins.HardwareID], ins)
	sort.Slice(s.insights[ins.HardwareID], func(i, j int) bool {
		return s.insights[ins.HardwareID][i].TimestampMS < s.insights[ins.HardwareID][j].TimestampMS
	})

	seq := s.nextSeq()
	s.mu.Unlock()

	s.insightFeed.emit(store.Record[domain.Insight]{Op: store.OpInsert, Seq: seq, Row: ins})

	return nil
}

// ListInsightsSince returns insights with timestamp_ms >= sinceMS.
func (s *Store) ListInsightsSince(_ context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Insight

	for _, ins := range s.insights[hardwareID] {
		if ins.TimestampMS < sinceMS {
			continue
		}

		out = append(out, ins)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

// --- RequestStore ---

func reqKey(hardwareID string, requestTimeMS int64) string {
	return fmt.Sprintf("%s#%d", hardwareID, requestTimeMS)
}

// CreateRequest persists a new insight request.
func (s *Store) CreateRequest(_ context.Context, req domain.InsightRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[reqKey(req.HardwareID, req.RequestTimeMS)] = req

	return nil
}

// PendingBatch returns up to limit pending requests, oldest first.
func (s *Store) PendingBatch(_ context.Context, limit int) ([]domain.InsightRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.InsightRequest

	for _, req := range s.requests {
		if req.Status == domain.RequestPending {
			out = append(out, req)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RequestTimeMS < out[j].RequestTimeMS })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Claim performs the pending -> processing CAS.
func (s *Store) Claim(_ context.Context, hardwareID string, requestTimeMS, _ int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reqKey(hardwareID, requestTimeMS)

	req, ok := s.requests[key]
	if !ok || req.Status != domain.RequestPending {
		return false, nil
	}

	req.Status = domain.RequestProcessing
	s.requests[key] = req

	return true, nil
}

// Finish moves a claimed request to a terminal state.
func (s *Store) Finish(_ context.Context, hardwareID string, requestTimeMS int64, status domain.RequestStatus, errMessage string, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reqKey(hardwareID, requestTimeMS)

	req, ok := s.requests[key]
	if !ok {
		return store.ErrNotFound
	}

	if len(errMessage) > domain.MaxErrorMessageLen {
		errMessage = errMessage[:domain.MaxErrorMessageLen]
	}

	req.Status = status
	req.ErrorMessage = errMessage
	req.ProcessedAtMS = domain.Ptr(nowMS)
	s.requests[key] = req

	return nil
}

// HasPendingSince reports whether a pending request exists since sinceMS.
func (s *Store) HasPendingSince(_ context.Context, hardwareID string, sinceMS int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range s.requests {
		if req.HardwareID == hardwareID && req.Status == domain.RequestPending && req.RequestTimeMS >= sinceMS {
			return true, nil
		}
	}

	return false, nil
}

// CountEventSince counts event-driven requests since sinceMS.
func (s *Store) CountEventSince(_ context.Context, hardwareID string, sinceMS int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, req := range s.requests {
		if req.HardwareID == hardwareID && req.Type == domain.RequestEvent && req.RequestTimeMS >= sinceMS {
			count++
		}
	}

	return count, nil
}

// Request returns a stored insight request for assertions.
func (s *Store) Request(hardwareID string, requestTimeMS int64) (domain.InsightRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[reqKey(hardwareID, requestTimeMS)]

	return req, ok
}

// --- RollupStore ---

// AddRollup applies one atomic rollup delta.
func (s *Store) AddRollup(_ context.Context, delta store.RollupDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s#%d|%s", delta.BucketType, delta.BucketStartMS, metricKey(delta))

	row := s.rollups[key]
	row.Count += delta.CountInc

	if delta.SumAdd != nil {
		if row.Sum == nil {
			row.Sum = domain.Ptr(0.0)
		}

		*row.Sum += *delta.SumAdd
	}

	row.ExpireAtMS = delta.ExpireAtMS
	s.rollups[key] = row
	s.rollupWrites++

	return nil
}

func metricKey(delta store.RollupDelta) string {
	keys := make([]string, 0, len(delta.Dimensions))
	for k := range delta.Dimensions {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := delta.MetricName + "#"

	for i, k := range keys {
		if i > 0 {
			out += ","
		}

		out += k + "=" + delta.Dimensions[k]
	}

	return out
}

// --- LedgerStore ---

// MarkIfAbsent records a stage as processed iff it was not already.
func (s *Store) MarkIfAbsent(_ context.Context, readingID string, stage store.Stage, _ string, nowMS int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.ledger[readingID]
	if !ok {
		row = make(map[store.Stage]int64)
		s.ledger[readingID] = row
	}

	if _, marked := row[stage]; marked {
		return false, nil
	}

	row[stage] = nowMS

	return true, nil
}

// IsProcessed reports whether the stage column exists for the reading.
func (s *Store) IsProcessed(_ context.Context, readingID string, stage store.Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.ledger[readingID]
	if !ok {
		return false, nil
	}

	_, marked := row[stage]

	return marked, nil
}

func (s *Store) nextSeq() string {
	s.feedSeq++

	return fmt.Sprintf("%d", s.feedSeq)
}
