package slippage

import (
	"math"
	"math/rand"
	"sync"

	"fry-engine/internal/config"
)

// Venue describes one execution venue's share of an asset's order book depth
// and its one-way taker fee.
type Venue struct {
	Name       string  `json:"name"`
	DepthShare float64 `json:"depth_share"`
	FeeRate    float64 `json:"fee_rate"`
}

// Profile is the per-asset liquidity context supplied by the market-data feed.
type Profile struct {
	Asset        string  `json:"asset"`
	MarketCapUSD float64 `json:"market_cap_usd"`
	DepthUSD     float64 `json:"depth_usd"`
	Volatility   float64 `json:"volatility"`
	Venues       []Venue `json:"venues,omitempty"`
}

type Estimate struct {
	Asset       string             `json:"asset"`
	SizeUSD     float64            `json:"size_usd"`
	CostPct     float64            `json:"cost_pct"`
	VenueCosts  map[string]float64 `json:"venue_costs"`
	SizeImpact  float64            `json:"size_impact"`
	FloorActive bool               `json:"floor_active"`
}

// CostUSD converts the aggregate percentage into dollars for the estimated size.
func (e Estimate) CostUSD() float64 {
	return e.SizeUSD * e.CostPct / 100
}

// NoiseSource perturbs per-venue costs. Simulation uses a bounded random
// factor; a live deployment replaces it with a depth-book query.
type NoiseSource interface {
	Factor(asset, venue string, volatility float64) float64
}

// UnitNoise leaves every venue cost untouched.
type UnitNoise struct{}

func (UnitNoise) Factor(string, string, float64) float64 { return 1 }

type RandomNoise struct {
	mu  sync.Mutex
	rng *rand.Rand
	min float64
	max float64
}

func NewRandomNoise(seed int64, min, max float64) *RandomNoise {
	return &RandomNoise{rng: rand.New(rand.NewSource(seed)), min: min, max: max}
}

func (r *RandomNoise) Factor(_, _ string, volatility float64) float64 {
	r.mu.Lock()
	u := r.rng.Float64()
	r.mu.Unlock()
	spread := (r.max - r.min) * (1 + math.Max(0, volatility))
	mid := (r.min + r.max) / 2
	return mid + (u-0.5)*spread
}

// Estimator is safe for concurrent use; it holds no mutable state besides the
// noise source.
type Estimator struct {
	cfg    config.SlippageConfig
	venues []Venue
	noise  NoiseSource
}

func New(cfg config.SlippageConfig, noise NoiseSource) *Estimator {
	if noise == nil {
		noise = UnitNoise{}
	}
	venues := make([]Venue, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues = append(venues, Venue{Name: v.Name, DepthShare: v.DepthShare, FeeRate: v.FeeRate})
	}
	return &Estimator{cfg: cfg, venues: venues, noise: noise}
}

func (e *Estimator) Estimate(sizeUSD float64, profile Profile) Estimate {
	size := math.Max(0, sizeUSD)
	venues := profile.Venues
	if len(venues) == 0 {
		venues = e.venues
	}
	capUSD := math.Max(profile.MarketCapUSD, e.cfg.MinMarketCapUSD)
	impact := size / capUSD

	out := Estimate{
		Asset:      profile.Asset,
		SizeUSD:    size,
		VenueCosts: make(map[string]float64, len(venues)),
		SizeImpact: impact,
	}
	var weighted, totalShare float64
	for _, venue := range venues {
		if venue.DepthShare <= 0 {
			continue
		}
		cost := impact*(1/venue.DepthShare)*100 + 2*venue.FeeRate*100
		cost *= e.clampNoise(e.noise.Factor(profile.Asset, venue.Name, profile.Volatility))
		out.VenueCosts[venue.Name] = cost
		weighted += venue.DepthShare * cost
		totalShare += venue.DepthShare
	}
	if totalShare > 0 {
		out.CostPct = weighted / totalShare
	}
	if floor := e.cfg.FloorPctValue(); out.CostPct < floor {
		out.CostPct = floor
		out.FloorActive = true
	}
	return out
}

func (e *Estimator) clampNoise(f float64) float64 {
	lo, hi := e.cfg.NoiseMin, e.cfg.NoiseMax
	if lo <= 0 || hi < lo {
		return 1
	}
	return math.Min(hi, math.Max(lo, f))
}
