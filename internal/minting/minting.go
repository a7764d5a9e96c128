package minting

import (
	"math"

	"fry-engine/internal/config"
)

// Input carries the realized execution cost of one event. Trading profit is
// deliberately absent: rewards track absorbed slippage only.
type Input struct {
	SlippageCostUSD      float64
	SlippagePercent      float64
	PositionSizeUSD      float64
	ParadoxScore         float64
	DistinctAssetsActive int
}

type Result struct {
	Minted               float64 `json:"minted"`
	Multiplier           float64 `json:"multiplier"`
	Base                 float64 `json:"base"`
	Severity             float64 `json:"severity"`
	SizeFactor           float64 `json:"size_factor"`
	ParadoxMultiplier    float64 `json:"paradox_multiplier"`
	ConcentrationPenalty float64 `json:"concentration_penalty"`
	Capped               bool    `json:"capped"`
}

// Engine applies the mint formula. Liquidation sweeps and arbitrage executions
// both go through Mint.
type Engine struct {
	cfg          config.MintingConfig
	riskAdjusted bool
}

func New(cfg config.MintingConfig) *Engine {
	return &Engine{cfg: cfg, riskAdjusted: cfg.RiskAdjustedValue()}
}

func (e *Engine) CapMultiple() float64 {
	if e.cfg.CapMultiple < 1 {
		return 1
	}
	return e.cfg.CapMultiple
}

func (e *Engine) RiskAdjusted() bool {
	return e.riskAdjusted
}

func (e *Engine) Mint(in Input) Result {
	base := math.Max(0, in.SlippageCostUSD)
	out := Result{
		Base:                 base,
		Severity:             1 + math.Max(0, in.SlippagePercent)/e.cfg.SeverityDivisor,
		SizeFactor:           1 + math.Min(e.cfg.SizeFactorCap, math.Max(0, in.PositionSizeUSD)/e.cfg.SizeNormalizerUSD),
		ParadoxMultiplier:    1,
		ConcentrationPenalty: math.Max(1, e.cfg.ConcentrationNumerator/float64(max(in.DistinctAssetsActive, 1))),
	}
	if e.riskAdjusted {
		out.ParadoxMultiplier = 1 + math.Min(100, math.Max(0, in.ParadoxScore))/100
	}
	multiplier := out.Severity * out.SizeFactor * out.ParadoxMultiplier * out.ConcentrationPenalty
	capMultiple := e.CapMultiple()
	if multiplier > capMultiple {
		multiplier = capMultiple
		out.Capped = true
	}
	if multiplier < 1 || math.IsNaN(multiplier) {
		multiplier = 1
	}
	out.Multiplier = multiplier
	out.Minted = base * multiplier
	return out
}
