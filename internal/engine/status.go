package engine

import (
	"encoding/json"
	"time"

	"fry-engine/internal/breaker"
	"fry-engine/internal/buyers"
	"fry-engine/internal/ledger"
	"fry-engine/internal/paradox"
	"fry-engine/internal/timescale"
)

// Status is the health object handed to reporting collaborators.
type Status struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	Breaker        breaker.Status  `json:"breaker"`
	RateLimit      float64         `json:"rate_limit_per_min"`
	Paradox        paradox.Metrics `json:"paradox"`
	Ledger         ledger.Totals   `json:"ledger"`
	PoolSize       int             `json:"pool_size"`
	DistinctAssets int             `json:"distinct_assets"`
	Tranches       int             `json:"tranches"`
	ActiveTranches int             `json:"active_tranches"`
	SoldTranches   int             `json:"sold_tranches"`
	Buyers         buyers.Summary  `json:"buyers"`
	MatchPolicy    buyers.Policy   `json:"match_policy"`
	RiskAdjusted   bool            `json:"risk_adjusted"`
	MintCap        float64         `json:"mint_cap"`
	Counts         counts          `json:"counts"`
	EventSeq       int64           `json:"event_seq"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	tranches := e.securitizer.Tranches()
	sold := 0
	for _, t := range tranches {
		if t.Sold() {
			sold++
		}
	}
	return Status{
		GeneratedAt:    e.now().UTC(),
		Breaker:        e.breaker.Status(),
		RateLimit:      e.breaker.RateLimit(),
		Paradox:        e.lastParadox,
		Ledger:         e.ledger.Totals(),
		PoolSize:       e.ledger.PoolSize(),
		DistinctAssets: e.ledger.DistinctAssets(),
		Tranches:       len(tranches),
		ActiveTranches: len(tranches) - sold,
		SoldTranches:   sold,
		Buyers:         e.matcher.Summary(),
		MatchPolicy:    e.matcher.Policy(),
		RiskAdjusted:   e.minter.RiskAdjusted(),
		MintCap:        e.minter.CapMultiple(),
		Counts:         e.counts,
		EventSeq:       e.seq,
	}
}

func (e *Engine) StatusJSON() ([]byte, error) {
	return json.MarshalIndent(e.Status(), "", "  ")
}

func (e *Engine) recordStatusSeries(st Status) {
	minted, _ := st.Ledger.TotalMinted.Float64()
	swept, _ := st.Ledger.TotalSweptUSD.Float64()
	e.timescale.EnqueueStatus(timescale.StatusRow{
		Time:          st.GeneratedAt,
		BreakerState:  string(st.Breaker.State),
		ParadoxScore:  st.Paradox.Score,
		DrainFactor:   st.Paradox.DrainFactor,
		RatePerMin:    st.Breaker.RatePerMin,
		PoolSize:      st.PoolSize,
		TotalMinted:   minted,
		TotalSweptUSD: swept,
		Tranches:      st.Tranches,
		Purchases:     st.Buyers.Purchases,
	})
}
