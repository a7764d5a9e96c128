package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"fry-engine/internal/breaker"
	"fry-engine/internal/buyers"
	"fry-engine/internal/config"
	"fry-engine/internal/exec"
	"fry-engine/internal/feed"
	"fry-engine/internal/ledger"
	"fry-engine/internal/metrics"
	"fry-engine/internal/minting"
	"fry-engine/internal/paradox"
	"fry-engine/internal/securitize"
	"fry-engine/internal/slippage"
	"fry-engine/internal/state"
	"fry-engine/internal/timescale"

	"go.uber.org/zap"
)

var ErrInvalidOpportunity = errors.New("invalid opportunity")

type OutcomeStatus string

const (
	OutcomeExecuted  OutcomeStatus = "executed"
	OutcomeBlocked   OutcomeStatus = "blocked"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Outcome reports what happened to one opportunity or liquidation. A blocked
// outcome is a normal result, not an error.
type Outcome struct {
	ID       string              `json:"id"`
	Asset    string              `json:"asset"`
	Status   OutcomeStatus       `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	Estimate slippage.Estimate   `json:"estimate"`
	Paradox  paradox.Metrics     `json:"paradox"`
	Decision breaker.Decision    `json:"decision"`
	Fill     *exec.Fill          `json:"fill,omitempty"`
	Sweep    *ledger.SweepResult `json:"sweep,omitempty"`
}

// Notifier delivers best-effort alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Deps struct {
	Store     state.Store
	Journal   state.Journal
	Venue     exec.Venue
	Noise     slippage.NoiseSource
	Source    feed.Source
	Metrics   *metrics.Metrics
	Notifier  Notifier
	Operator  OperatorChannel
	Timescale *timescale.Writer
}

type volumePoint struct {
	amount float64
	at     time.Time
}

// Engine sequences scan, gate, execute, sweep, securitize and match. All
// breaker, ledger and buyer mutation happens under mu.
type Engine struct {
	cfg         *config.Config
	log         *zap.Logger
	estimator   *slippage.Estimator
	index       *paradox.Index
	breaker     *breaker.Breaker
	minter      *minting.Engine
	ledger      *ledger.Ledger
	securitizer *securitize.Securitizer
	matcher     *buyers.Matcher
	executor    *exec.Executor
	store       state.Store
	journal     state.Journal
	source      feed.Source
	metrics     *metrics.Metrics
	notifier    Notifier
	operator    OperatorChannel
	timescale   *timescale.Writer
	now         func() time.Time

	mu          sync.Mutex
	volume      []volumePoint
	lastParadox paradox.Metrics
	events      []Event
	seq         int64
	counts      counts

	operatorWarned bool
}

type counts struct {
	Executed   int `json:"executed"`
	Blocked    int `json:"blocked"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine requires config")
	}
	if log == nil {
		log = zap.NewNop()
	}
	brk, err := breaker.New(cfg.Breaker, log.Named("breaker"))
	if err != nil {
		return nil, err
	}
	minter := minting.New(cfg.Minting)
	led, err := ledger.New(cfg.Ledger, minter, log.Named("ledger"))
	if err != nil {
		return nil, err
	}
	sec, err := securitize.New(cfg.Securitization, led, log.Named("securitize"))
	if err != nil {
		return nil, err
	}
	matcher, err := buyers.NewMatcher(cfg.Matcher, cfg.Buyers, log.Named("buyers"))
	if err != nil {
		return nil, err
	}
	venue := deps.Venue
	if venue == nil {
		venue = exec.SimulatedVenue{}
	}
	source := deps.Source
	if source == nil {
		source = feed.None{}
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Engine{
		cfg:         cfg,
		log:         log,
		estimator:   slippage.New(cfg.Slippage, deps.Noise),
		index:       paradox.New(cfg.Paradox),
		breaker:     brk,
		minter:      minter,
		ledger:      led,
		securitizer: sec,
		matcher:     matcher,
		executor:    exec.New(venue, deps.Store, log.Named("exec")),
		store:       deps.Store,
		journal:     deps.Journal,
		source:      source,
		metrics:     m,
		notifier:    deps.Notifier,
		operator:    deps.Operator,
		timescale:   deps.Timescale,
		now:         time.Now,
	}, nil
}

// SetClock drives every component from one time source.
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	e.breaker.SetClock(now)
	e.ledger.SetClock(now)
	e.securitizer.SetClock(now)
	e.matcher.SetClock(now)
}

// ProcessOpportunity runs one opportunity through estimate, gate, execution
// and sweep. Errors are returned only for invalid input and venue failures.
func (e *Engine) ProcessOpportunity(ctx context.Context, opp feed.Opportunity) (Outcome, error) {
	if strings.TrimSpace(opp.Asset) == "" || opp.SizeUSD <= 0 || math.IsNaN(opp.SizeUSD) {
		return Outcome{}, fmt.Errorf("%w: asset and positive size are required", ErrInvalidOpportunity)
	}
	if opp.Profile.Asset == "" {
		opp.Profile.Asset = opp.Asset
	}
	estimate := e.estimator.Estimate(opp.SizeUSD, opp.Profile)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out := Outcome{ID: opp.ID, Asset: opp.Asset, Estimate: estimate}
	// a replayed opportunity is not new inflow: resolve it before the gate
	prior, seen, err := e.executor.Lookup(ctx, opp.ID)
	if err != nil {
		return out, err
	}
	if seen {
		return e.duplicateLocked(out, prior), nil
	}
	out.Paradox = e.paradoxLocked(now, opp.SizeUSD)
	out.Decision = e.breaker.Evaluate(opp.SizeUSD, out.Paradox.Score)
	if !out.Decision.Allowed {
		e.blockedLocked(ctx, now, &out)
		return out, nil
	}

	fill, replayed, err := e.executor.Execute(ctx, exec.Order{
		OpportunityID:   opp.ID,
		Asset:           opp.Asset,
		Side:            opp.Side,
		SizeUSD:         opp.SizeUSD,
		ExpectedCostPct: estimate.CostPct,
	})
	if err != nil {
		e.counts.Failed++
		e.metrics.ExecutionFailures.Inc()
		out.Status = OutcomeFailed
		out.Reason = err.Error()
		e.log.Warn("execution failed", zap.String("opportunity_id", opp.ID), zap.Error(err))
		return out, err
	}
	if replayed {
		return e.duplicateLocked(out, fill), nil
	}
	out.Fill = &fill
	e.volume = append(e.volume, volumePoint{amount: opp.SizeUSD, at: now})
	e.counts.Executed++
	e.metrics.Executions.Inc()

	trader := opp.TraderAddress
	if trader == "" {
		trader = e.cfg.Engine.TraderAddress
	}
	res, err := e.ledger.Sweep(ledger.SweepInput{
		TraderAddress:   trader,
		Asset:           opp.Asset,
		Side:            ledger.Side(opp.Side),
		Source:          ledger.SourceArbitrage,
		LossUSD:         fill.SlippageUSD,
		SlippagePct:     fill.SlippagePct,
		Leverage:        opp.Leverage,
		PositionSizeUSD: opp.SizeUSD,
		ParadoxScore:    out.Paradox.Score,
		FeedbackActive:  out.Paradox.FeedbackActive,
	})
	if err != nil {
		return out, err
	}
	e.sweptLocked(ctx, now, &out, res)
	return out, nil
}

// SweepLiquidation records a forced close. It passes the same breaker gate
// and mint function as the arbitrage path.
func (e *Engine) SweepLiquidation(ctx context.Context, liq feed.Liquidation) (Outcome, error) {
	if strings.TrimSpace(liq.Asset) == "" || liq.LossUSD < 0 || math.IsNaN(liq.LossUSD) {
		return Outcome{}, fmt.Errorf("%w: liquidation requires asset and non-negative loss", ErrInvalidOpportunity)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out := Outcome{ID: liq.ID, Asset: liq.Asset}
	out.Paradox = e.paradoxLocked(now, 0)
	out.Decision = e.breaker.Evaluate(liq.LossUSD, out.Paradox.Score)
	if !out.Decision.Allowed {
		e.blockedLocked(ctx, now, &out)
		return out, nil
	}
	trader := liq.TraderAddress
	if trader == "" {
		trader = e.cfg.Engine.TraderAddress
	}
	res, err := e.ledger.Sweep(ledger.SweepInput{
		TraderAddress:   trader,
		Asset:           liq.Asset,
		Side:            ledger.Side(liq.Side),
		Source:          ledger.SourceLiquidation,
		LossUSD:         liq.LossUSD,
		SlippagePct:     liq.SlippagePct,
		Leverage:        liq.Leverage,
		PositionSizeUSD: liq.PositionSizeUSD,
		Liquidation:     true,
		ParadoxScore:    out.Paradox.Score,
		FeedbackActive:  out.Paradox.FeedbackActive,
	})
	if err != nil {
		return out, err
	}
	e.sweptLocked(ctx, now, &out, res)
	return out, nil
}

// paradoxLocked scores the window volume plus a proposed amount. Current
// liquidity is the baseline less what arbitrage has drawn in the window.
func (e *Engine) paradoxLocked(now time.Time, proposed float64) paradox.Metrics {
	window := e.index.Window()
	cutoff := now.Add(-window)
	kept := e.volume[:0]
	var total float64
	for _, p := range e.volume {
		if p.at.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
		total += p.amount
	}
	e.volume = kept
	total += proposed
	m := e.index.Compute(paradox.Inputs{
		CurrentLiquidityUSD: math.Max(0, e.index.BaselineLiquidity()-total),
		ArbitrageVolumeUSD:  total,
		Window:              window,
	})
	e.lastParadox = m
	e.metrics.ParadoxScore.Set(m.Score)
	return m
}

func (e *Engine) duplicateLocked(out Outcome, fill exec.Fill) Outcome {
	e.counts.Duplicates++
	out.Fill = &fill
	out.Status = OutcomeDuplicate
	out.Reason = "opportunity already executed"
	return out
}

func (e *Engine) blockedLocked(ctx context.Context, now time.Time, out *Outcome) {
	out.Status = OutcomeBlocked
	out.Reason = out.Decision.Reason
	e.counts.Blocked++
	e.metrics.Blocked.Inc()
	if out.Decision.TrippedNow {
		e.metrics.BreakerTrips.Inc()
		e.metrics.BreakerTripped.Set(1)
		e.log.Warn("circuit breaker tripped",
			zap.String("trigger", string(out.Decision.Trigger)),
			zap.String("reason", out.Decision.Reason),
			zap.Float64("rate_per_min", out.Decision.RatePerMin),
			zap.Float64("paradox_score", out.Decision.ParadoxScore),
		)
		e.recordLocked(ctx, now, EventBreakerTrip, out.Decision)
		e.notify(ctx, fmt.Sprintf("circuit breaker TRIPPED (%s): %s", out.Decision.Trigger, out.Decision.Reason))
	}
	e.recordLocked(ctx, now, EventBlocked, blockedData{
		ID:      out.ID,
		Asset:   out.Asset,
		Trigger: string(out.Decision.Trigger),
		Reason:  out.Decision.Reason,
	})
}

func (e *Engine) sweptLocked(ctx context.Context, now time.Time, out *Outcome, res ledger.SweepResult) {
	out.Sweep = &res
	if res.Skipped {
		e.counts.Skipped++
		e.metrics.SweepsSkipped.Inc()
		if out.Status == "" {
			out.Status = OutcomeSkipped
		}
		out.Reason = res.Reason
		return
	}
	if out.Status == "" {
		out.Status = OutcomeExecuted
	}
	e.metrics.Sweeps.Inc()
	e.metrics.LedgerPoolSize.Set(float64(e.ledger.PoolSize()))
	e.recordLocked(ctx, now, EventSweep, res.Event)
	e.timescale.EnqueueSweep(timescale.SweepRow{
		Time:         res.Event.SweptAt,
		EventID:      res.Event.ID,
		Asset:        res.Event.Asset,
		Source:       string(res.Event.Source),
		Class:        string(res.Event.Class),
		LossUSD:      res.Event.LossUSD,
		Minted:       res.Event.Minted,
		Multiplier:   res.Event.Multiplier,
		ParadoxScore: res.Event.ParadoxScore,
	})
}

type CycleResult struct {
	Rating  string              `json:"rating"`
	Tranche *securitize.Tranche `json:"tranche,omitempty"`
	Match   *buyers.Match       `json:"match,omitempty"`
}

// SecuritizeCycle packages the pool into one tranche per configured rating,
// best tier first, and offers each new tranche to the buyers once.
func (e *Engine) SecuritizeCycle(ctx context.Context) ([]CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var results []CycleResult
	for _, rating := range e.cfg.Engine.CycleTiers {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		tranche, ok, err := e.securitizer.Create(rating, e.cfg.Securitization.TargetUSD)
		if err != nil {
			return results, err
		}
		if !ok {
			continue
		}
		now := e.now()
		e.metrics.TranchesCreated.Inc()
		e.recordLocked(ctx, now, EventTrancheCreated, trancheSummary(tranche))
		result := CycleResult{Rating: rating}
		match, matched := e.matcher.Match(tranche)
		if matched {
			sold, err := e.securitizer.MarkSold(tranche.ID, match.BuyerID, match.At)
			if err != nil {
				e.matcher.Rollback(match)
				return results, err
			}
			tranche = sold
			result.Match = &match
			e.metrics.TranchesMatched.Inc()
			e.recordLocked(ctx, now, EventTrancheMatched, match)
		} else {
			e.metrics.TranchesUnsold.Inc()
			e.recordLocked(ctx, now, EventTrancheUnsold, trancheSummary(tranche))
		}
		result.Tranche = &tranche
		results = append(results, result)
	}
	e.metrics.LedgerPoolSize.Set(float64(e.ledger.PoolSize()))
	return results, nil
}

// Reset is the administrative TRIPPED -> INACTIVE path. actor must identify
// the operator; the reset is written to the audit trail.
func (e *Engine) Reset(ctx context.Context, actor, reason string) (breaker.ResetRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.breaker.Reset(actor, reason)
	if err != nil {
		return breaker.ResetRecord{}, err
	}
	e.metrics.BreakerResets.Inc()
	e.metrics.BreakerTripped.Set(0)
	e.recordLocked(ctx, record.At, EventBreakerReset, record)
	e.auditLocked(ctx, auditRecord{
		Time:        record.At.UTC(),
		Action:      "breaker_reset",
		Actor:       record.Actor,
		Reason:      record.Reason,
		WasTripped:  record.WasTripped,
		PrevTrigger: string(record.PrevTrigger),
		PrevReason:  record.PrevReason,
	})
	e.notify(ctx, fmt.Sprintf("circuit breaker reset by %s: %s", record.Actor, record.Reason))
	return record, nil
}

func (e *Engine) Breaker() *breaker.Breaker {
	return e.breaker
}

func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

func (e *Engine) Securitizer() *securitize.Securitizer {
	return e.securitizer
}

func (e *Engine) Matcher() *buyers.Matcher {
	return e.matcher
}

func (e *Engine) notify(ctx context.Context, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, message); err != nil {
		e.log.Warn("alert delivery failed", zap.Error(err))
	}
}
