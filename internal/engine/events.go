package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fry-engine/internal/securitize"
	"fry-engine/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventSweep          EventKind = "sweep"
	EventBlocked        EventKind = "blocked"
	EventBreakerTrip    EventKind = "breaker_trip"
	EventBreakerReset   EventKind = "breaker_reset"
	EventTrancheCreated EventKind = "tranche_created"
	EventTrancheMatched EventKind = "tranche_matched"
	EventTrancheUnsold  EventKind = "tranche_unsold"
)

// Event is one entry of the append-only engine log.
type Event struct {
	Seq  int64     `json:"seq" msgpack:"seq"`
	Kind EventKind `json:"kind" msgpack:"kind"`
	At   time.Time `json:"at" msgpack:"at"`
	Data any       `json:"data" msgpack:"data"`
}

type blockedData struct {
	ID      string `json:"id" msgpack:"id"`
	Asset   string `json:"asset" msgpack:"asset"`
	Trigger string `json:"trigger" msgpack:"trigger"`
	Reason  string `json:"reason" msgpack:"reason"`
}

type trancheData struct {
	ID            string          `json:"id" msgpack:"id"`
	Rating        string          `json:"rating" msgpack:"rating"`
	Events        int             `json:"events" msgpack:"events"`
	TotalValueUSD decimal.Decimal `json:"total_value_usd" msgpack:"total_value_usd"`
	YieldRate     float64         `json:"yield_rate" msgpack:"yield_rate"`
	RiskScore     float64         `json:"risk_score" msgpack:"risk_score"`
}

func trancheSummary(t securitize.Tranche) trancheData {
	return trancheData{
		ID:            t.ID,
		Rating:        t.Rating,
		Events:        len(t.Events),
		TotalValueUSD: t.TotalValueUSD,
		YieldRate:     t.YieldRate,
		RiskScore:     t.RiskScore,
	}
}

type auditRecord struct {
	Time        time.Time `json:"time"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	WasTripped  bool      `json:"was_tripped"`
	PrevTrigger string    `json:"prev_trigger,omitempty"`
	PrevReason  string    `json:"prev_reason,omitempty"`
	Command     string    `json:"command,omitempty"`
	UpdateID    int64     `json:"update_id,omitempty"`
}

const auditPrefix = "ops:audit:"

func (e *Engine) recordLocked(ctx context.Context, at time.Time, kind EventKind, data any) {
	e.seq++
	ev := Event{Seq: e.seq, Kind: kind, At: at.UTC(), Data: data}
	e.events = append(e.events, ev)
	if limit := e.cfg.Engine.MaxEventLog; limit > 0 && len(e.events) > limit {
		e.events = append([]Event(nil), e.events[len(e.events)-limit:]...)
	}
	if e.journal == nil || !e.cfg.State.JournalValue() {
		return
	}
	if err := state.AppendJournal(ctx, e.journal, ev.Seq, string(kind), ev.At, ev); err != nil {
		e.log.Warn("journal append failed", zap.Int64("seq", ev.Seq), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (e *Engine) auditLocked(ctx context.Context, record auditRecord) {
	if e.store == nil {
		return
	}
	key := fmt.Sprintf("%s%d:%s", auditPrefix, record.Time.UnixNano(), record.Action)
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, key, string(payload)); err != nil {
		e.log.Warn("audit write failed", zap.String("action", record.Action), zap.Error(err))
	}
}

// Events returns the in-memory log, oldest first.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// EventsJSON exports the in-memory log for reporting collaborators.
func (e *Engine) EventsJSON() ([]byte, error) {
	return json.Marshal(e.Events())
}
