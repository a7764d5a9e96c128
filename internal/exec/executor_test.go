package exec

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type countingVenue struct {
	mu    sync.Mutex
	calls int
	err   error
	inner SimulatedVenue
}

func (v *countingVenue) Execute(ctx context.Context, order Order) (Fill, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.err != nil {
		return Fill{}, v.err
	}
	return v.inner.Execute(ctx, order)
}

func TestExecutorIdempotentExecution(t *testing.T) {
	store := newMemoryStore()
	venue := &countingVenue{}
	logger := zap.NewNop()
	executor := New(venue, store, logger)

	ctx := context.Background()
	order := Order{OpportunityID: "opp-1", Asset: "BTC", SizeUSD: 10_000, ExpectedCostPct: 0.4}

	fill1, replayed, err := executor.Execute(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed {
		t.Fatalf("expected first execution not to be a replay")
	}
	fill2, replayed, err := executor.Execute(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replayed || fill1.FillID != fill2.FillID {
		t.Fatalf("expected same fill, got %s and %s", fill1.FillID, fill2.FillID)
	}
	if venue.calls != 1 {
		t.Fatalf("expected 1 venue call, got %d", venue.calls)
	}

	venue2 := &countingVenue{}
	executor2 := New(venue2, store, logger)
	fill3, _, err := executor2.Execute(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill3.FillID != fill1.FillID {
		t.Fatalf("expected stored fill %s, got %s", fill1.FillID, fill3.FillID)
	}
	if venue2.calls != 0 {
		t.Fatalf("expected no venue calls on restart, got %d", venue2.calls)
	}
}

func TestExecutorLookup(t *testing.T) {
	store := newMemoryStore()
	venue := &countingVenue{}
	executor := New(venue, store, nil)
	ctx := context.Background()

	if _, ok, err := executor.Lookup(ctx, "opp-9"); err != nil || ok {
		t.Fatalf("expected no fill before execution, got ok=%v err=%v", ok, err)
	}
	fill, _, err := executor.Execute(ctx, Order{OpportunityID: "opp-9", Asset: "BTC", SizeUSD: 1_000, ExpectedCostPct: 0.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := executor.Lookup(ctx, "opp-9")
	if err != nil || !ok || got.FillID != fill.FillID {
		t.Fatalf("expected fill %s, got %s ok=%v err=%v", fill.FillID, got.FillID, ok, err)
	}
	restarted := New(&countingVenue{}, store, nil)
	got, ok, err = restarted.Lookup(ctx, "opp-9")
	if err != nil || !ok || got.FillID != fill.FillID {
		t.Fatalf("expected stored fill after restart, got ok=%v err=%v", ok, err)
	}
	if venue.calls != 1 {
		t.Fatalf("expected 1 venue call, got %d", venue.calls)
	}
}

func TestExecutorDoesNotRetry(t *testing.T) {
	venue := &countingVenue{err: errors.New("venue down")}
	executor := New(venue, newMemoryStore(), nil)
	if _, _, err := executor.Execute(context.Background(), Order{OpportunityID: "opp-2"}); err == nil {
		t.Fatalf("expected venue error")
	}
	if venue.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", venue.calls)
	}
}

func TestExecutorHonoursCancelledContext(t *testing.T) {
	venue := &countingVenue{}
	executor := New(venue, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := executor.Execute(ctx, Order{OpportunityID: "opp-3"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if venue.calls != 0 {
		t.Fatalf("expected venue not to be called")
	}
}

func TestSimulatedVenueRealizesEstimate(t *testing.T) {
	fill, err := SimulatedVenue{Name: "sim"}.Execute(context.Background(), Order{Asset: "ETH", SizeUSD: 200_000, ExpectedCostPct: 1.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.SlippagePct != 1.5 || fill.SlippageUSD != 3_000 {
		t.Fatalf("unexpected fill: %+v", fill)
	}
	if fill.Venue != "sim" || fill.FillID == "" {
		t.Fatalf("unexpected fill metadata: %+v", fill)
	}
}
