package breaker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fry-engine/internal/config"

	"go.uber.org/zap"
)

type State string

const (
	StateInactive State = "INACTIVE"
	StateTripped  State = "TRIPPED"
)

type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerInflowRate Trigger = "inflow_rate"
	TriggerParadox    Trigger = "paradox_score"
	TriggerRestored   Trigger = "restored"
)

var ErrResetActor = errors.New("reset requires an operator identity")

type Inflow struct {
	Amount float64   `json:"amount"`
	At     time.Time `json:"at"`
}

// Decision is the outcome of one gate evaluation. A refused call is not an
// error: Allowed is false and Reason names the trigger.
type Decision struct {
	Allowed      bool    `json:"allowed"`
	State        State   `json:"state"`
	Trigger      Trigger `json:"trigger,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	RatePerMin   float64 `json:"rate_per_min"`
	RateLimit    float64 `json:"rate_limit"`
	ParadoxScore float64 `json:"paradox_score"`
	TrippedNow   bool    `json:"tripped_now"`
}

type Status struct {
	State       State     `json:"state"`
	Trigger     Trigger   `json:"trigger,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	TrippedAt   time.Time `json:"tripped_at,omitempty"`
	WindowTotal float64   `json:"window_total"`
	WindowSize  int       `json:"window_size"`
	RatePerMin  float64   `json:"rate_per_min"`
	Trips       int       `json:"trips"`
	Resets      int       `json:"resets"`
}

type ResetRecord struct {
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
	PrevTrigger Trigger   `json:"prev_trigger"`
	PrevReason  string    `json:"prev_reason"`
	WasTripped  bool      `json:"was_tripped"`
	Cleared     int       `json:"cleared_inflows"`
}

// Breaker halts execution when the inflow rate or paradox score crosses its
// limits. TRIPPED is terminal until Reset; there is no automatic decay.
type Breaker struct {
	cfg config.BreakerConfig
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	state     State
	trigger   Trigger
	reason    string
	trippedAt time.Time
	window    []Inflow
	trips     int
	resets    int
}

func New(cfg config.BreakerConfig, log *zap.Logger) (*Breaker, error) {
	if err := config.ValidateBreaker(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{cfg: cfg, log: log, now: time.Now, state: StateInactive}, nil
}

// SetClock replaces the time source; tests use it to move through the window.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
}

// RateLimit is the per-minute inflow rate above which the breaker trips.
func (b *Breaker) RateLimit() float64 {
	return b.cfg.BaselineRatePerMin * b.cfg.Multiplier
}

// Evaluate records a proposed inflow and decides whether the call may proceed.
// It must run before every state-changing action.
func (b *Breaker) Evaluate(amount, paradoxScore float64) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	limit := b.RateLimit()
	if b.state == StateTripped {
		return Decision{
			State:        b.state,
			Trigger:      b.trigger,
			Reason:       b.reason,
			RatePerMin:   b.rateLocked(now),
			RateLimit:    limit,
			ParadoxScore: paradoxScore,
		}
	}

	if amount > 0 {
		b.window = append(b.window, Inflow{Amount: amount, At: now})
	}
	b.pruneLocked(now)
	rate := b.rateLocked(now)
	decision := Decision{
		Allowed:      true,
		State:        StateInactive,
		RatePerMin:   rate,
		RateLimit:    limit,
		ParadoxScore: paradoxScore,
	}
	switch {
	case rate > limit:
		b.tripLocked(now, TriggerInflowRate, fmt.Sprintf("inflow rate %.2f/min exceeds %.2f/min", rate, limit))
	case paradoxScore > b.cfg.ParadoxThresholdValue():
		b.tripLocked(now, TriggerParadox, fmt.Sprintf("paradox score %.2f exceeds %.2f", paradoxScore, b.cfg.ParadoxThresholdValue()))
	default:
		return decision
	}
	decision.Allowed = false
	decision.State = b.state
	decision.Trigger = b.trigger
	decision.Reason = b.reason
	decision.TrippedNow = true
	return decision
}

// Reset is the only TRIPPED -> INACTIVE transition. It also clears the inflow
// window. The actor is recorded for the audit trail.
func (b *Breaker) Reset(actor, reason string) (ResetRecord, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ResetRecord{}, ErrResetActor
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	record := ResetRecord{
		Actor:       actor,
		Reason:      strings.TrimSpace(reason),
		At:          b.now(),
		PrevTrigger: b.trigger,
		PrevReason:  b.reason,
		WasTripped:  b.state == StateTripped,
		Cleared:     len(b.window),
	}
	b.state = StateInactive
	b.trigger = TriggerNone
	b.reason = ""
	b.trippedAt = time.Time{}
	b.window = nil
	b.resets++
	b.log.Warn("circuit breaker reset",
		zap.String("actor", record.Actor),
		zap.String("reason", record.Reason),
		zap.Bool("was_tripped", record.WasTripped),
		zap.Int("cleared_inflows", record.Cleared),
	)
	return record, nil
}

// Restore re-applies a persisted trip so a restart cannot clear it.
func (b *Breaker) Restore(status Status) {
	if status.State != StateTripped {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateTripped
	b.trigger = status.Trigger
	if b.trigger == TriggerNone {
		b.trigger = TriggerRestored
	}
	b.reason = status.Reason
	b.trippedAt = status.TrippedAt
	b.trips = status.Trips
	b.resets = status.Resets
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Tripped() bool {
	return b.State() == StateTripped
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	var total float64
	for _, in := range b.window {
		if now.Sub(in.At) <= b.cfg.Window {
			total += in.Amount
		}
	}
	return Status{
		State:       b.state,
		Trigger:     b.trigger,
		Reason:      b.reason,
		TrippedAt:   b.trippedAt,
		WindowTotal: total,
		WindowSize:  len(b.window),
		RatePerMin:  b.rateLocked(now),
		Trips:       b.trips,
		Resets:      b.resets,
	}
}

func (b *Breaker) tripLocked(now time.Time, trigger Trigger, reason string) {
	b.state = StateTripped
	b.trigger = trigger
	b.reason = reason
	b.trippedAt = now
	b.trips++
	b.log.Warn("circuit breaker tripped",
		zap.String("trigger", string(trigger)),
		zap.String("reason", reason),
	)
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	keep := b.window[:0]
	for _, in := range b.window {
		if in.At.After(cutoff) {
			keep = append(keep, in)
		}
	}
	b.window = keep
}

// rateLocked divides the window total by the elapsed span of the window,
// bounded below by one minute and above by the configured window. A full
// window reduces to sum/window_minutes; a burst is measured over its own span.
func (b *Breaker) rateLocked(now time.Time) float64 {
	if len(b.window) == 0 {
		return 0
	}
	var total float64
	oldest := now
	for _, in := range b.window {
		total += in.Amount
		if in.At.Before(oldest) {
			oldest = in.At
		}
	}
	span := now.Sub(oldest)
	if span < time.Minute {
		span = time.Minute
	}
	if span > b.cfg.Window {
		span = b.cfg.Window
	}
	return total / span.Minutes()
}
