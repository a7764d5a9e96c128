package paradox

import (
	"math"
	"time"

	"fry-engine/internal/config"
)

const maxScore = 100

// Inputs are the current system totals the index is evaluated against.
type Inputs struct {
	CurrentLiquidityUSD float64
	ArbitrageVolumeUSD  float64
	Window              time.Duration
}

type Metrics struct {
	Score          float64 `json:"score"`
	DrainFactor    float64 `json:"drain_factor"`
	Intensity      float64 `json:"intensity"`
	FeedbackActive bool    `json:"feedback_active"`
}

// Index scores how much arbitrage activity is consuming the liquidity it
// depends on. It is stateless and safe for concurrent use.
type Index struct {
	cfg config.ParadoxConfig
}

func New(cfg config.ParadoxConfig) *Index {
	return &Index{cfg: cfg}
}

func (i *Index) Window() time.Duration {
	return i.cfg.Window
}

func (i *Index) BaselineLiquidity() float64 {
	return i.cfg.BaselineLiquidityUSD
}

func (i *Index) Compute(in Inputs) Metrics {
	drain := DrainFactor(in.CurrentLiquidityUSD, i.cfg.BaselineLiquidityUSD)
	window := in.Window
	if window <= 0 {
		window = i.cfg.Window
	}
	intensity := 0.0
	if minutes := window.Minutes(); minutes > 0 {
		intensity = math.Max(0, in.ArbitrageVolumeUSD) / minutes
	}
	return i.score(drain, intensity)
}

func (i *Index) score(drain, intensity float64) Metrics {
	out := Metrics{DrainFactor: drain, Intensity: intensity}
	if i.cfg.Normalization <= 0 {
		return out
	}
	base := drain * intensity / i.cfg.Normalization
	if threshold := i.cfg.FeedbackThresholdValue(); drain > threshold {
		out.FeedbackActive = true
		base *= 1 + i.cfg.FeedbackMultiplier*(drain-threshold)
	}
	out.Score = math.Min(maxScore, math.Max(0, base))
	return out
}

// DrainFactor is the fraction of baseline liquidity no longer available.
func DrainFactor(current, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, 1-current/baseline))
}
