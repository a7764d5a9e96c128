package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type runner interface {
	Run(ctx context.Context) error
}

// Run restores state and drives the scan and securitization loops until ctx
// is cancelled. Each step runs to completion; there are no per-step
// deadlines.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.Restore(ctx); err != nil {
		return err
	}
	e.timescale.Start(ctx)
	if r, ok := e.source.(runner); ok {
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("feed stopped", zap.Error(err))
			}
		}()
	}
	e.startOperator(ctx)

	scan := time.NewTicker(e.cfg.Engine.ScanInterval)
	defer scan.Stop()
	securitize := time.NewTicker(e.cfg.Engine.SecuritizeInterval)
	defer securitize.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := e.Persist(context.Background()); err != nil {
				e.log.Warn("final persist failed", zap.Error(err))
			}
			return ctx.Err()
		case <-scan.C:
			if err := e.ScanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("scan failed", zap.Error(err))
			}
			e.checkpoint(ctx)
		case <-securitize.C:
			results, err := e.SecuritizeCycle(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("securitization cycle failed", zap.Error(err))
			}
			if len(results) > 0 {
				e.log.Info("securitization cycle", zap.Int("tranches", len(results)))
			}
			e.checkpoint(ctx)
		}
	}
}

// ScanOnce pulls one batch from the feed and processes it in order.
func (e *Engine) ScanOnce(ctx context.Context) error {
	batch, err := e.source.Scan(ctx)
	if err != nil {
		return err
	}
	for _, opp := range batch.Opportunities {
		if _, err := e.ProcessOpportunity(ctx, opp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Debug("opportunity not executed", zap.String("id", opp.ID), zap.Error(err))
		}
	}
	for _, liq := range batch.Liquidations {
		if _, err := e.SweepLiquidation(ctx, liq); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Debug("liquidation not swept", zap.String("id", liq.ID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) checkpoint(ctx context.Context) {
	if err := e.Persist(ctx); err != nil && ctx.Err() == nil {
		e.log.Warn("persist failed", zap.Error(err))
	}
	e.recordStatusSeries(e.Status())
}
