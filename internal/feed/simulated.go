package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"fry-engine/internal/config"
	"fry-engine/internal/slippage"
)

type assetProfile struct {
	marketCapUSD float64
	depthUSD     float64
	volatility   float64
}

var knownAssets = map[string]assetProfile{
	"BTC":  {marketCapUSD: 1_300_000_000_000, depthUSD: 450_000_000, volatility: 0.45},
	"ETH":  {marketCapUSD: 400_000_000_000, depthUSD: 220_000_000, volatility: 0.6},
	"SOL":  {marketCapUSD: 80_000_000_000, depthUSD: 60_000_000, volatility: 0.85},
	"DOGE": {marketCapUSD: 25_000_000_000, depthUSD: 18_000_000, volatility: 1.1},
}

var fallbackAsset = assetProfile{marketCapUSD: 2_000_000_000, depthUSD: 4_000_000, volatility: 1.4}

// Simulated produces seeded random opportunities and the occasional
// liquidation. It stands in for real exchange feeds.
type Simulated struct {
	assets    []string
	venues    []slippage.Venue
	batchSize int
	trader    string
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
	seq int64
}

func NewSimulated(cfg config.FeedConfig, venues []config.VenueConfig, trader string) *Simulated {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	out := &Simulated{
		assets:    append([]string(nil), cfg.Assets...),
		batchSize: cfg.BatchSize,
		trader:    trader,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(seed)),
	}
	for _, v := range venues {
		out.venues = append(out.venues, slippage.Venue{Name: v.Name, DepthShare: v.DepthShare, FeeRate: v.FeeRate})
	}
	if out.batchSize <= 0 {
		out.batchSize = 1
	}
	return out
}

func (s *Simulated) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

func (s *Simulated) Scan(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.assets) == 0 {
		return Batch{}, nil
	}
	now := s.now()
	var batch Batch
	for i := 0; i < s.batchSize; i++ {
		asset := s.assets[s.rng.Intn(len(s.assets))]
		batch.Opportunities = append(batch.Opportunities, s.opportunity(asset, now))
	}
	// roughly one liquidation every four scans
	if s.rng.Float64() < 0.25 {
		asset := s.assets[s.rng.Intn(len(s.assets))]
		batch.Liquidations = append(batch.Liquidations, s.liquidation(asset, now))
	}
	return batch, nil
}

func (s *Simulated) opportunity(asset string, now time.Time) Opportunity {
	s.seq++
	profile := s.profile(asset)
	spreads := make(map[string]float64, len(s.venues))
	for _, v := range s.venues {
		spreads[v.Name] = -20 + s.rng.Float64()*40
	}
	return Opportunity{
		ID:            fmt.Sprintf("sim-%d-%d", now.UnixNano(), s.seq),
		Asset:         asset,
		Side:          s.side(),
		SizeUSD:       1_000 + s.rng.Float64()*19_000,
		Leverage:      1 + float64(s.rng.Intn(20)),
		SpreadBps:     spreads,
		TraderAddress: s.trader,
		Profile:       profile,
		ObservedAt:    now,
	}
}

func (s *Simulated) liquidation(asset string, now time.Time) Liquidation {
	s.seq++
	leverage := 10 + float64(s.rng.Intn(90))
	position := 5_000 + s.rng.Float64()*250_000
	slip := 0.2 + s.rng.Float64()*4.8
	return Liquidation{
		ID:              fmt.Sprintf("sim-liq-%d-%d", now.UnixNano(), s.seq),
		TraderAddress:   fmt.Sprintf("0x%040x", s.rng.Uint64()),
		Asset:           asset,
		Side:            s.side(),
		LossUSD:         position * slip / 100,
		SlippagePct:     slip,
		Leverage:        leverage,
		PositionSizeUSD: position,
		ObservedAt:      now,
	}
}

func (s *Simulated) profile(asset string) slippage.Profile {
	base, ok := knownAssets[asset]
	if !ok {
		base = fallbackAsset
	}
	// depth wanders +-20% between scans
	depth := base.depthUSD * (0.8 + s.rng.Float64()*0.4)
	return slippage.Profile{
		Asset:        asset,
		MarketCapUSD: base.marketCapUSD,
		DepthUSD:     depth,
		Volatility:   base.volatility,
		Venues:       append([]slippage.Venue(nil), s.venues...),
	}
}

func (s *Simulated) side() string {
	if s.rng.Intn(2) == 0 {
		return "long"
	}
	return "short"
}
