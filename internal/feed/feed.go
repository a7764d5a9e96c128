package feed

import (
	"context"
	"time"

	"fry-engine/internal/slippage"
)

// Opportunity is a cross-venue rate spread worth executing. It lives for one
// scan.
type Opportunity struct {
	ID            string             `json:"id"`
	Asset         string             `json:"asset"`
	Side          string             `json:"side"`
	SizeUSD       float64            `json:"size_usd"`
	Leverage      float64            `json:"leverage"`
	SpreadBps     map[string]float64 `json:"spread_bps"`
	TraderAddress string             `json:"trader_address,omitempty"`
	Profile       slippage.Profile   `json:"profile"`
	ObservedAt    time.Time          `json:"observed_at"`
}

// Liquidation is a forced close reported by a venue. Its loss is swept into
// the ledger directly.
type Liquidation struct {
	ID              string    `json:"id"`
	TraderAddress   string    `json:"trader_address"`
	Asset           string    `json:"asset"`
	Side            string    `json:"side"`
	LossUSD         float64   `json:"loss_usd"`
	SlippagePct     float64   `json:"slippage_pct"`
	Leverage        float64   `json:"leverage"`
	PositionSizeUSD float64   `json:"position_size_usd"`
	ObservedAt      time.Time `json:"observed_at"`
}

type Batch struct {
	Opportunities []Opportunity
	Liquidations  []Liquidation
}

func (b Batch) Empty() bool {
	return len(b.Opportunities) == 0 && len(b.Liquidations) == 0
}

// Source yields whatever market data has arrived since the previous Scan.
type Source interface {
	Scan(ctx context.Context) (Batch, error)
}

// None never produces data. Opportunities are pushed through the engine API
// instead.
type None struct{}

func (None) Scan(ctx context.Context) (Batch, error) {
	return Batch{}, ctx.Err()
}
