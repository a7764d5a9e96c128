package exec

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Fill struct {
	FillID        string    `json:"fill_id"`
	OpportunityID string    `json:"opportunity_id"`
	Asset         string    `json:"asset"`
	Venue         string    `json:"venue"`
	SizeUSD       float64   `json:"size_usd"`
	SlippagePct   float64   `json:"slippage_pct"`
	SlippageUSD   float64   `json:"slippage_usd"`
	FilledAt      time.Time `json:"filled_at"`
}

// SimulatedVenue fills every order at exactly the estimated cost.
type SimulatedVenue struct {
	Name string
	Now  func() time.Time
}

func (v SimulatedVenue) Execute(ctx context.Context, order Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	name := v.Name
	if name == "" {
		name = "simulated"
	}
	return Fill{
		FillID:        uuid.NewString(),
		OpportunityID: order.OpportunityID,
		Asset:         order.Asset,
		Venue:         name,
		SizeUSD:       order.SizeUSD,
		SlippagePct:   order.ExpectedCostPct,
		SlippageUSD:   order.SizeUSD * order.ExpectedCostPct / 100,
		FilledAt:      now().UTC(),
	}, nil
}
