package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockPricing implements ports.PricingGateway with per-symbol prices.
type mockPricing struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  atomic.Int32
}

func newMockPricing(prices map[string]string) *mockPricing {
	m := &mockPricing{prices: make(map[string]decimal.Decimal)}
	for s, p := range prices {
		m.prices[s] = decimal.RequireFromString(p)
	}
	return m
}

func (m *mockPricing) set(symbol, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = decimal.RequireFromString(price)
}

func (m *mockPricing) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return decimal.Zero, m.err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, ports.ErrAssetNotFound
	}
	return p, nil
}

// memStore is an in-memory ports.Store. Transactions buffer their writes and
// publish them on commit only; they do not lock anything, so concurrent
// read-modify-write cycles on one key race unless the caller serializes them.
type memStore struct {
	mu        sync.Mutex
	positions map[domain.PositionKey]*domain.Position
	records   []*domain.TransactionRecord
	nextPosID int64
	nextRecID int64
	clock     func() time.Time

	failGet    error
	failUpsert error
	failAppend error
	failCommit error
	// readDelay widens the window between Get and commit in concurrency tests.
	readDelay time.Duration
}

func newMemStore(clock func() time.Time) *memStore {
	return &memStore{positions: make(map[domain.PositionKey]*domain.Position), clock: clock}
}

func (s *memStore) Get(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	p, ok := s.positions[domain.NewPositionKey(userID, symbol)]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *memStore) ListByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Position, 0)
	for k, p := range s.positions {
		if k.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetSymbol < out[j].AssetSymbol })
	return out, nil
}

func (s *memStore) Upsert(ctx context.Context, pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(pos)
}

func (s *memStore) upsertLocked(pos *domain.Position) error {
	if s.failUpsert != nil {
		return s.failUpsert
	}
	if existing, ok := s.positions[pos.Key()]; ok {
		pos.ID = existing.ID
	} else if pos.ID == 0 {
		s.nextPosID++
		pos.ID = s.nextPosID
	}
	pos.UpdatedAt = s.clock()
	s.positions[pos.Key()] = pos.Clone()
	return nil
}

func (s *memStore) Append(ctx context.Context, rec *domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *memStore) appendLocked(rec *domain.TransactionRecord) error {
	if s.failAppend != nil {
		return s.failAppend
	}
	s.nextRecID++
	rec.ID = s.nextRecID
	rec.Timestamp = s.clock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *memStore) QueryByUser(ctx context.Context, userID string, since time.Time) ([]*domain.TransactionRecord, error) {
	return s.query(func(r *domain.TransactionRecord) bool {
		return r.UserID == userID && !r.Timestamp.Before(since)
	}), nil
}

func (s *memStore) QueryByPosition(ctx context.Context, key domain.PositionKey) ([]*domain.TransactionRecord, error) {
	return s.query(func(r *domain.TransactionRecord) bool { return r.PositionKey() == key }), nil
}

func (s *memStore) query(match func(*domain.TransactionRecord) bool) []*domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.TransactionRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if match(s.records[i]) {
			cp := *s.records[i]
			out = append(out, &cp)
		}
	}
	return out
}

func (s *memStore) snapshot() (map[domain.PositionKey]*domain.Position, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.PositionKey]*domain.Position, len(s.positions))
	for k, p := range s.positions {
		out[k] = p.Clone()
	}
	return out, len(s.records)
}

func (s *memStore) Close() error { return nil }

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, ledger ports.PositionLedger, journal ports.TransactionJournal) error) error {
	tx := &memTx{store: s}
	if err := fn(ctx, tx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return s.failCommit
	}
	for _, p := range tx.upserts {
		if err := s.upsertLocked(p); err != nil {
			return err
		}
	}
	for _, r := range tx.appends {
		if err := s.appendLocked(r); err != nil {
			return err
		}
	}
	return nil
}

// memTx buffers writes; reads go to the committed state.
type memTx struct {
	store   *memStore
	upserts []*domain.Position
	appends []*domain.TransactionRecord
}

func (t *memTx) Get(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	p, err := t.store.Get(ctx, userID, symbol)
	if t.store.readDelay > 0 {
		time.Sleep(t.store.readDelay)
	}
	return p, err
}

func (t *memTx) ListByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	return t.store.ListByUser(ctx, userID)
}

func (t *memTx) Upsert(ctx context.Context, pos *domain.Position) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.failUpsert != nil {
		return t.store.failUpsert
	}
	// Reserve the identity now so the journal entry can reference it.
	if existing, ok := t.store.positions[pos.Key()]; ok {
		pos.ID = existing.ID
	} else if pos.ID == 0 {
		t.store.nextPosID++
		pos.ID = t.store.nextPosID
	}
	t.upserts = append(t.upserts, pos)
	return nil
}

func (t *memTx) Append(ctx context.Context, rec *domain.TransactionRecord) error {
	t.store.mu.Lock()
	fail := t.store.failAppend
	t.store.mu.Unlock()
	if fail != nil {
		return fail
	}
	t.appends = append(t.appends, rec)
	return nil
}

func (t *memTx) QueryByUser(ctx context.Context, userID string, since time.Time) ([]*domain.TransactionRecord, error) {
	return t.store.QueryByUser(ctx, userID, since)
}

func (t *memTx) QueryByPosition(ctx context.Context, key domain.PositionKey) ([]*domain.TransactionRecord, error) {
	return t.store.QueryByPosition(ctx, key)
}

var errDiskFull = errors.New("disk full")
