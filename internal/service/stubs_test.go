package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// testLogger discards all output.
func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memLedgerStore is an in-memory LedgerStore for service tests. It enforces
// the same (position, sequence) uniqueness as the real store.
type memLedgerStore struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{}
}

func (s *memLedgerStore) Append(_ context.Context, event domain.LedgerEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.PositionID == event.PositionID && ev.Sequence == event.Sequence {
			return "", fmt.Errorf("memstore: append: %w", domain.ErrAlreadyExists)
		}
	}
	s.events = append(s.events, event)
	return event.ID, nil
}

func (s *memLedgerStore) EventsFor(_ context.Context, positionID string) ([]domain.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEvent
	for _, ev := range s.events {
		if ev.PositionID == positionID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *memLedgerStore) PositionByFill(_ context.Context, fillID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.FillID == fillID {
			return ev.PositionID, nil
		}
	}
	return "", fmt.Errorf("memstore: fill %s: %w", fillID, domain.ErrNotFound)
}

func (s *memLedgerStore) PositionIDs(_ context.Context, pool domain.Pool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	seen := make(map[string]bool)
	for _, ev := range s.events {
		if ev.Pool == pool && ev.Type == domain.EventOpen && !seen[ev.PositionID] {
			seen[ev.PositionID] = true
			ids = append(ids, ev.PositionID)
		}
	}
	return ids, nil
}

func (s *memLedgerStore) AllEvents(_ context.Context, pool domain.Pool, since *time.Time) ([]domain.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var order []string
	byPos := make(map[string][]domain.LedgerEvent)
	for _, ev := range s.events {
		if ev.Pool != pool {
			continue
		}
		if since != nil && ev.At.Before(*since) {
			continue
		}
		if _, ok := byPos[ev.PositionID]; !ok {
			order = append(order, ev.PositionID)
		}
		byPos[ev.PositionID] = append(byPos[ev.PositionID], ev)
	}

	var out []domain.LedgerEvent
	for _, id := range order {
		evs := byPos[id]
		sort.Slice(evs, func(i, j int) bool { return evs[i].Sequence < evs[j].Sequence })
		out = append(out, evs...)
	}
	return out, nil
}

// memPoolStore is an in-memory PoolStore seeded with both pools.
type memPoolStore struct {
	mu    sync.Mutex
	pools map[domain.Pool]domain.PoolRecord
}

func newMemPoolStore(initial float64) *memPoolStore {
	now := time.Now().UTC()
	pools := make(map[domain.Pool]domain.PoolRecord)
	for _, p := range domain.Pools {
		pools[p] = domain.PoolRecord{
			Name:             p,
			InitialLiquidity: initial,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	return &memPoolStore{pools: pools}
}

func (s *memPoolStore) Get(_ context.Context, name domain.Pool) (domain.PoolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pools[name]
	if !ok {
		return domain.PoolRecord{}, fmt.Errorf("memstore: pool %s: %w", name, domain.ErrNotFound)
	}
	return rec, nil
}

func (s *memPoolStore) List(_ context.Context) ([]domain.PoolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PoolRecord
	for _, p := range domain.Pools {
		out = append(out, s.pools[p])
	}
	return out, nil
}

func (s *memPoolStore) SetInitialLiquidity(_ context.Context, name domain.Pool, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pools[name]
	if !ok {
		return fmt.Errorf("memstore: pool %s: %w", name, domain.ErrNotFound)
	}
	rec.InitialLiquidity = amount
	rec.UpdatedAt = time.Now().UTC()
	s.pools[name] = rec
	return nil
}

// stubPriceSource serves fixed prices; unknown symbols miss, and err (when
// set) fails every lookup.
type stubPriceSource struct {
	prices map[string]float64
	err    error
}

func (s *stubPriceSource) GetCurrentPrice(_ context.Context, symbol string) (float64, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	price, ok := s.prices[symbol]
	return price, ok, nil
}

// memSnapshotStore is an in-memory SnapshotStore with the real store's
// insert-once semantics.
type memSnapshotStore struct {
	mu    sync.Mutex
	snaps map[domain.Pool]map[time.Time]domain.Snapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{snaps: make(map[domain.Pool]map[time.Time]domain.Snapshot)}
}

func (s *memSnapshotStore) Insert(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := midnightUTC(snap.Date)
	if s.snaps[snap.Pool] == nil {
		s.snaps[snap.Pool] = make(map[time.Time]domain.Snapshot)
	}
	if _, exists := s.snaps[snap.Pool][day]; exists {
		return nil
	}
	snap.Date = day
	s.snaps[snap.Pool][day] = snap
	return nil
}

func (s *memSnapshotStore) Get(_ context.Context, pool domain.Pool, date time.Time) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[pool][midnightUTC(date)]
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("memstore: snapshot: %w", domain.ErrNotFound)
	}
	return snap, nil
}

func (s *memSnapshotStore) Range(_ context.Context, pool domain.Pool, from, to time.Time) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Snapshot
	for day, snap := range s.snaps[pool] {
		if !day.Before(midnightUTC(from)) && !day.After(midnightUTC(to)) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *memSnapshotStore) Latest(_ context.Context, pool domain.Pool, before time.Time) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best domain.Snapshot
	found := false
	for day, snap := range s.snaps[pool] {
		if day.Before(midnightUTC(before)) && (!found || day.After(best.Date)) {
			best = snap
			found = true
		}
	}
	if !found {
		return domain.Snapshot{}, fmt.Errorf("memstore: snapshot: %w", domain.ErrNotFound)
	}
	return best, nil
}

// recordingBus captures published payloads for assertions.
type recordingBus struct {
	mu        sync.Mutex
	published []string
	streamed  []string
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, stream)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// Compile-time checks that the stubs satisfy the domain contracts.
var (
	_ domain.LedgerStore   = (*memLedgerStore)(nil)
	_ domain.PoolStore     = (*memPoolStore)(nil)
	_ domain.PriceSource   = (*stubPriceSource)(nil)
	_ domain.SnapshotStore = (*memSnapshotStore)(nil)
	_ domain.EventBus      = (*recordingBus)(nil)
)
