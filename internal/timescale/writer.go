package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fry-engine/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type StatusRow struct {
	Time          time.Time
	BreakerState  string
	ParadoxScore  float64
	DrainFactor   float64
	RatePerMin    float64
	PoolSize      int
	TotalMinted   float64
	TotalSweptUSD float64
	Tranches      int
	Purchases     int
}

type SweepRow struct {
	Time         time.Time
	EventID      string
	Asset        string
	Source       string
	Class        string
	LossUSD      float64
	Minted       float64
	Multiplier   float64
	ParadoxScore float64
}

// Writer ships status and sweep series to Postgres/Timescale off the engine
// path. Full queues drop rows rather than block.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	statuses    chan StatusRow
	sweeps      chan SweepRow
	started     atomic.Bool
	dropStatus  atomic.Uint64
	dropSweep   atomic.Uint64
	writeErrors atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:       db,
		log:      log,
		schema:   schema,
		statuses: make(chan StatusRow, queueSize),
		sweeps:   make(chan SweepRow, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueStatus(row StatusRow) {
	if w == nil {
		return
	}
	select {
	case w.statuses <- row:
	default:
		if w.dropStatus.Add(1) == 1 {
			w.log.Warn("timescale status queue full")
		}
	}
}

func (w *Writer) EnqueueSweep(row SweepRow) {
	if w == nil {
		return
	}
	select {
	case w.sweeps <- row:
	default:
		if w.dropSweep.Add(1) == 1 {
			w.log.Warn("timescale sweep queue full")
		}
	}
}

// Dropped reports rows discarded because a queue was full.
func (w *Writer) Dropped() (status, sweep uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropStatus.Load(), w.dropSweep.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.statuses:
			w.writeStatus(ctx, row)
		case row := <-w.sweeps:
			w.writeSweep(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		breaker_state TEXT NOT NULL,
		paradox_score DOUBLE PRECISION NOT NULL,
		drain_factor DOUBLE PRECISION NOT NULL,
		rate_per_min DOUBLE PRECISION NOT NULL,
		pool_size INTEGER NOT NULL,
		total_minted DOUBLE PRECISION NOT NULL,
		total_swept_usd DOUBLE PRECISION NOT NULL,
		tranches INTEGER NOT NULL,
		purchases INTEGER NOT NULL
	)`, w.table("engine_status"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		event_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		source TEXT NOT NULL,
		class TEXT NOT NULL,
		loss_usd DOUBLE PRECISION NOT NULL,
		minted DOUBLE PRECISION NOT NULL,
		multiplier DOUBLE PRECISION NOT NULL,
		paradox_score DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, event_id)
	)`, w.table("collateral_sweeps"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"engine_status", "collateral_sweeps"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeStatus(ctx context.Context, row StatusRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, breaker_state, paradox_score, drain_factor, rate_per_min, pool_size,
		total_minted, total_swept_usd, tranches, purchases
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("engine_status"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.BreakerState,
		row.ParadoxScore,
		row.DrainFactor,
		row.RatePerMin,
		row.PoolSize,
		row.TotalMinted,
		row.TotalSweptUSD,
		row.Tranches,
		row.Purchases,
	); err != nil {
		w.writeErrors.Add(1)
		w.log.Warn("timescale status insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSweep(ctx context.Context, row SweepRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, event_id, asset, source, class, loss_usd, minted, multiplier, paradox_score
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (ts, event_id) DO NOTHING`, w.table("collateral_sweeps"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.EventID,
		row.Asset,
		row.Source,
		row.Class,
		row.LossUSD,
		row.Minted,
		row.Multiplier,
		row.ParadoxScore,
	); err != nil {
		w.writeErrors.Add(1)
		w.log.Warn("timescale sweep insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
