package engine

import (
	"context"

	"fry-engine/internal/breaker"
	"fry-engine/internal/state"

	"go.uber.org/zap"
)

// Persist writes ledger, tranches, buyers and breaker state as one
// checksummed snapshot.
func (e *Engine) Persist(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	snapshot := state.EngineSnapshot{
		Ledger:    e.ledger.Snapshot(),
		Tranches:  e.securitizer.Tranches(),
		Buyers:    e.matcher.Profiles(),
		Breaker:   e.breaker.Status(),
		EventSeq:  e.seq,
		SavedAtMS: e.now().UnixMilli(),
	}
	e.mu.Unlock()
	return state.SaveEngineSnapshot(ctx, e.store, snapshot)
}

// Restore loads the last snapshot. A persisted trip survives the restart.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	snapshot, ok, err := state.LoadEngineSnapshot(ctx, e.store)
	if err != nil || !ok {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.Restore(snapshot.Ledger)
	e.securitizer.Restore(snapshot.Tranches)
	e.matcher.Restore(snapshot.Buyers)
	e.breaker.Restore(snapshot.Breaker)
	if snapshot.EventSeq > e.seq {
		e.seq = snapshot.EventSeq
	}
	if e.breaker.State() == breaker.StateTripped {
		e.metrics.BreakerTripped.Set(1)
	}
	e.metrics.LedgerPoolSize.Set(float64(e.ledger.PoolSize()))
	e.log.Info("engine state restored",
		zap.Int("pool", len(snapshot.Ledger.Pool)),
		zap.Int("tranches", len(snapshot.Tranches)),
		zap.String("breaker", string(snapshot.Breaker.State)),
		zap.Int64("event_seq", snapshot.EventSeq),
	)
	return true, nil
}
