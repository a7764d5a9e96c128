package minting

import (
	"math"
	"testing"

	"fry-engine/internal/config"
)

func testConfig(riskAdjusted bool) config.MintingConfig {
	return config.MintingConfig{
		RiskAdjusted:           &riskAdjusted,
		CapMultiple:            50,
		SeverityDivisor:        10,
		SizeFactorCap:          0.5,
		SizeNormalizerUSD:      1_000_000,
		ConcentrationNumerator: 5,
	}
}

func TestMintFactors(t *testing.T) {
	eng := New(testConfig(true))
	got := eng.Mint(Input{
		SlippageCostUSD:      1_000,
		SlippagePercent:      2,
		PositionSizeUSD:      250_000,
		ParadoxScore:         40,
		DistinctAssetsActive: 5,
	})
	if !approx(got.Severity, 1.2) {
		t.Fatalf("expected severity 1.2, got %f", got.Severity)
	}
	if got.SizeFactor != 1.25 {
		t.Fatalf("expected size factor 1.25, got %f", got.SizeFactor)
	}
	if !approx(got.ParadoxMultiplier, 1.4) {
		t.Fatalf("expected paradox multiplier 1.4, got %f", got.ParadoxMultiplier)
	}
	if got.ConcentrationPenalty != 1 {
		t.Fatalf("expected no concentration penalty with 5 assets, got %f", got.ConcentrationPenalty)
	}
	want := 1.2 * 1.25 * 1.4
	if !approx(got.Multiplier, want) {
		t.Fatalf("expected multiplier %f, got %f", want, got.Multiplier)
	}
	if got.Minted != 1_000*got.Multiplier {
		t.Fatalf("expected minted = cost * multiplier, got %f", got.Minted)
	}
}

func TestMintSizeFactorCapped(t *testing.T) {
	eng := New(testConfig(false))
	got := eng.Mint(Input{SlippageCostUSD: 10, PositionSizeUSD: 50_000_000, DistinctAssetsActive: 10})
	if got.SizeFactor != 1.5 {
		t.Fatalf("expected size factor capped at 1.5, got %f", got.SizeFactor)
	}
}

func TestMintPlainVariantIgnoresParadox(t *testing.T) {
	eng := New(testConfig(false))
	got := eng.Mint(Input{SlippageCostUSD: 10, ParadoxScore: 90, DistinctAssetsActive: 5})
	if got.ParadoxMultiplier != 1 {
		t.Fatalf("expected paradox multiplier 1 in plain variant, got %f", got.ParadoxMultiplier)
	}
}

func TestMintConcentrationPenalty(t *testing.T) {
	eng := New(testConfig(false))
	single := eng.Mint(Input{SlippageCostUSD: 10, DistinctAssetsActive: 1})
	if single.ConcentrationPenalty != 5 {
		t.Fatalf("expected penalty 5 for a single asset, got %f", single.ConcentrationPenalty)
	}
	none := eng.Mint(Input{SlippageCostUSD: 10, DistinctAssetsActive: 0})
	if none.ConcentrationPenalty != 5 {
		t.Fatalf("expected zero assets treated as one, got %f", none.ConcentrationPenalty)
	}
	two := eng.Mint(Input{SlippageCostUSD: 10, DistinctAssetsActive: 2})
	if two.ConcentrationPenalty != 2.5 {
		t.Fatalf("expected penalty 2.5 for two assets, got %f", two.ConcentrationPenalty)
	}
}

func TestMintHardCap(t *testing.T) {
	eng := New(testConfig(true))
	got := eng.Mint(Input{
		SlippageCostUSD:      100,
		SlippagePercent:      500,
		PositionSizeUSD:      10_000_000,
		ParadoxScore:         100,
		DistinctAssetsActive: 1,
	})
	if !got.Capped || got.Multiplier != 50 {
		t.Fatalf("expected cap at 50x, got %+v", got)
	}
	if got.Minted != 5_000 {
		t.Fatalf("expected minted 5000, got %f", got.Minted)
	}
}

func TestMintBoundsProperty(t *testing.T) {
	eng := New(testConfig(true))
	costs := []float64{0, 0.01, 1, 1_000, 250_000}
	pcts := []float64{-5, 0, 0.1, 3, 80, 1_000}
	sizes := []float64{0, 1_000, 500_000, 5_000_000}
	scores := []float64{-10, 0, 50, 100, 250}
	assets := []int{0, 1, 3, 9}
	for _, cost := range costs {
		for _, pct := range pcts {
			for _, size := range sizes {
				for _, score := range scores {
					for _, n := range assets {
						got := eng.Mint(Input{cost, pct, size, score, n})
						if got.Minted < cost || got.Minted > 50*cost {
							t.Fatalf("minted %f outside [%f, %f] for cost=%f pct=%f size=%f score=%f assets=%d",
								got.Minted, cost, 50*cost, cost, pct, size, score, n)
						}
					}
				}
			}
		}
	}
}

func TestMintLiquidationScenario(t *testing.T) {
	eng := New(testConfig(true))
	// $1,000 slippage on a $50,000 position at 50x leverage.
	got := eng.Mint(Input{
		SlippageCostUSD:      1_000,
		SlippagePercent:      1_000.0 / 50_000 * 100,
		PositionSizeUSD:      50_000,
		DistinctAssetsActive: 1,
	})
	if got.Multiplier <= 1 || got.Multiplier > 50 {
		t.Fatalf("expected multiplier in (1, 50], got %f", got.Multiplier)
	}
	if got.Minted != 1_000*got.Multiplier {
		t.Fatalf("expected minted exactly cost * multiplier, got %f vs %f", got.Minted, 1_000*got.Multiplier)
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-12
}
