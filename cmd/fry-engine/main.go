package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fry-engine/internal/alerts"
	"fry-engine/internal/config"
	"fry-engine/internal/engine"
	"fry-engine/internal/exec"
	"fry-engine/internal/feed"
	"fry-engine/internal/logging"
	"fry-engine/internal/metrics"
	"fry-engine/internal/slippage"
	"fry-engine/internal/state/sqlite"
	"fry-engine/internal/timescale"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine terminated", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		serveMetrics(ctx, cfg.Metrics, prom.Handler(), log)
	}

	writer, err := timescale.New(cfg.Timescale, log.Named("timescale"))
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	telegram := alerts.NewTelegram(cfg.Telegram, log.Named("telegram"))

	seed := cfg.Feed.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	deps := engine.Deps{
		Store:     store,
		Journal:   store,
		Venue:     exec.SimulatedVenue{Name: "simulated"},
		Noise:     slippage.NewRandomNoise(seed, cfg.Slippage.NoiseMin, cfg.Slippage.NoiseMax),
		Source:    newSource(cfg, log),
		Metrics:   m,
		Notifier:  telegram,
		Timescale: writer,
	}
	if telegram.Enabled() {
		deps.Operator = telegram
	}
	eng, err := engine.New(cfg, log.Named("engine"), deps)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	log.Info("engine initialized",
		zap.String("feed", cfg.Feed.Mode),
		zap.String("match_policy", cfg.Matcher.Policy),
		zap.Float64("rate_limit_per_min", eng.Breaker().RateLimit()),
	)
	return eng.Run(ctx)
}

func newSource(cfg *config.Config, log *zap.Logger) feed.Source {
	switch cfg.Feed.Mode {
	case "websocket":
		return feed.NewWebsocket(cfg.Feed, log.Named("feed"))
	case "none":
		return feed.None{}
	default:
		return feed.NewSimulated(cfg.Feed, cfg.Slippage.Venues, cfg.Engine.TraderAddress)
	}
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, handler http.Handler, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, handler)
	srv := &http.Server{Addr: cfg.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics listening", zap.String("addr", cfg.Address), zap.String("path", cfg.Path))
}
