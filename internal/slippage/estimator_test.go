package slippage

import (
	"math"
	"testing"

	"fry-engine/internal/config"
)

func testConfig() config.SlippageConfig {
	return config.SlippageConfig{
		FloorPct:        config.Float64(0.1),
		MinMarketCapUSD: 1_000_000,
		NoiseMin:        0.9,
		NoiseMax:        1.1,
		Venues: []config.VenueConfig{
			{Name: "alpha", DepthShare: 0.5, FeeRate: 0.0005},
			{Name: "beta", DepthShare: 0.5, FeeRate: 0.001},
		},
	}
}

type fixedNoise float64

func (f fixedNoise) Factor(string, string, float64) float64 { return float64(f) }

func TestEstimateVenueCosts(t *testing.T) {
	est := New(testConfig(), nil)
	got := est.Estimate(100_000, Profile{Asset: "BTC", MarketCapUSD: 100_000_000})
	// impact 0.001 -> 0.001*2*100 = 0.2 plus round-trip fee
	wantAlpha := 0.2 + 0.1
	wantBeta := 0.2 + 0.2
	if math.Abs(got.VenueCosts["alpha"]-wantAlpha) > 1e-9 {
		t.Fatalf("expected alpha cost %f, got %f", wantAlpha, got.VenueCosts["alpha"])
	}
	if math.Abs(got.VenueCosts["beta"]-wantBeta) > 1e-9 {
		t.Fatalf("expected beta cost %f, got %f", wantBeta, got.VenueCosts["beta"])
	}
	if math.Abs(got.CostPct-0.35) > 1e-9 {
		t.Fatalf("expected aggregate 0.35, got %f", got.CostPct)
	}
	if math.Abs(got.SizeImpact-0.001) > 1e-12 {
		t.Fatalf("expected size impact 0.001, got %f", got.SizeImpact)
	}
	if math.Abs(got.CostUSD()-350) > 1e-6 {
		t.Fatalf("expected cost usd 350, got %f", got.CostUSD())
	}
}

func TestEstimateDepthWeighted(t *testing.T) {
	cfg := testConfig()
	cfg.Venues = nil
	est := New(cfg, nil)
	profile := Profile{
		Asset:        "ETH",
		MarketCapUSD: 100_000_000,
		Venues: []Venue{
			{Name: "deep", DepthShare: 0.75, FeeRate: 0},
			{Name: "thin", DepthShare: 0.25, FeeRate: 0},
		},
	}
	got := est.Estimate(750_000, profile)
	deep := 0.0075 / 0.75 * 100
	thin := 0.0075 / 0.25 * 100
	want := 0.75*deep + 0.25*thin
	if math.Abs(got.CostPct-want) > 1e-9 {
		t.Fatalf("expected weighted cost %f, got %f", want, got.CostPct)
	}
}

func TestEstimateUsesMinimumMarketCap(t *testing.T) {
	est := New(testConfig(), nil)
	small := est.Estimate(10_000, Profile{Asset: "MEME", MarketCapUSD: 10})
	if math.Abs(small.SizeImpact-0.01) > 1e-12 {
		t.Fatalf("expected impact against min cap, got %f", small.SizeImpact)
	}
}

func TestEstimateFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Venues = []config.VenueConfig{{Name: "free", DepthShare: 1, FeeRate: 0}}
	est := New(cfg, nil)
	got := est.Estimate(1, Profile{Asset: "BTC", MarketCapUSD: 1e12})
	if got.CostPct != 0.1 || !got.FloorActive {
		t.Fatalf("expected floor 0.1 active, got %f (floor=%v)", got.CostPct, got.FloorActive)
	}
	zero := est.Estimate(0, Profile{Asset: "BTC"})
	if zero.CostPct < 0.1 {
		t.Fatalf("expected floor on zero size, got %f", zero.CostPct)
	}
}

func TestEstimateNoiseIsClamped(t *testing.T) {
	base := New(testConfig(), nil).Estimate(100_000, Profile{Asset: "BTC", MarketCapUSD: 100_000_000})
	wild := New(testConfig(), fixedNoise(5)).Estimate(100_000, Profile{Asset: "BTC", MarketCapUSD: 100_000_000})
	if math.Abs(wild.CostPct-base.CostPct*1.1) > 1e-9 {
		t.Fatalf("expected noise clamped to 1.1x, got %f vs base %f", wild.CostPct, base.CostPct)
	}
}

func TestRandomNoiseDeterministicPerSeed(t *testing.T) {
	a := NewRandomNoise(7, 0.9, 1.1)
	b := NewRandomNoise(7, 0.9, 1.1)
	for i := 0; i < 10; i++ {
		fa := a.Factor("BTC", "alpha", 0)
		fb := b.Factor("BTC", "alpha", 0)
		if fa != fb {
			t.Fatalf("expected deterministic noise, got %f and %f", fa, fb)
		}
		if fa < 0.9 || fa > 1.1 {
			t.Fatalf("expected noise within bounds, got %f", fa)
		}
	}
}
