package exec

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"fry-engine/internal/state"

	"go.uber.org/zap"
)

var ErrEmptyFill = errors.New("venue returned empty fill id")

// Order is one admitted arbitrage execution. OpportunityID doubles as the
// idempotency key.
type Order struct {
	OpportunityID   string  `json:"opportunity_id"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	SizeUSD         float64 `json:"size_usd"`
	ExpectedCostPct float64 `json:"expected_cost_pct"`
}

type Venue interface {
	Execute(ctx context.Context, order Order) (Fill, error)
}

// Executor sends each order to the venue exactly once. Failures are returned
// to the caller as-is; there are no retries.
type Executor struct {
	venue Venue
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]Fill
}

func New(venue Venue, store state.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		venue: venue,
		store: store,
		log:   log,
		cache: make(map[string]Fill),
	}
}

// Lookup returns the recorded fill for an opportunity without contacting the
// venue.
func (e *Executor) Lookup(ctx context.Context, opportunityID string) (Fill, bool, error) {
	if opportunityID == "" {
		return Fill{}, false, nil
	}
	cacheKey := fillKey(opportunityID)
	e.mu.Lock()
	if fill, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return fill, true, nil
	}
	e.mu.Unlock()
	if e.store == nil {
		return Fill{}, false, nil
	}
	raw, ok, err := e.store.Get(ctx, cacheKey)
	if err != nil || !ok {
		return Fill{}, false, err
	}
	var fill Fill
	if err := json.Unmarshal([]byte(raw), &fill); err != nil {
		return Fill{}, false, err
	}
	e.mu.Lock()
	e.cache[cacheKey] = fill
	e.mu.Unlock()
	return fill, true, nil
}

// Execute returns the fill for order. replayed is true when the fill was
// already recorded for this opportunity and the venue was not called.
func (e *Executor) Execute(ctx context.Context, order Order) (Fill, bool, error) {
	if order.OpportunityID == "" {
		fill, err := e.send(ctx, order)
		return fill, false, err
	}
	fill, ok, err := e.Lookup(ctx, order.OpportunityID)
	if err != nil {
		return Fill{}, false, err
	}
	if ok {
		return fill, true, nil
	}
	fill, err = e.send(ctx, order)
	if err != nil {
		return Fill{}, false, err
	}
	cacheKey := fillKey(order.OpportunityID)
	if e.store != nil {
		payload, err := json.Marshal(fill)
		if err == nil {
			err = e.store.Set(ctx, cacheKey, string(payload))
		}
		if err != nil {
			e.log.Warn("failed to persist fill", zap.String("opportunity_id", order.OpportunityID), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = fill
	e.mu.Unlock()
	return fill, false, nil
}

func fillKey(opportunityID string) string {
	return "exec:" + opportunityID
}

func (e *Executor) send(ctx context.Context, order Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	fill, err := e.venue.Execute(ctx, order)
	if err != nil {
		return Fill{}, err
	}
	if fill.FillID == "" {
		return Fill{}, ErrEmptyFill
	}
	return fill, nil
}
