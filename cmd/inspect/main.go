package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"fry-engine/internal/breaker"
	"fry-engine/internal/config"
	"fry-engine/internal/logging"
	"fry-engine/internal/state"
	"fry-engine/internal/state/sqlite"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type report struct {
	SavedAt        time.Time       `json:"saved_at"`
	Breaker        breaker.Status  `json:"breaker"`
	PoolSize       int             `json:"pool_size"`
	TotalMinted    decimal.Decimal `json:"total_minted"`
	TotalSweptUSD  decimal.Decimal `json:"total_swept_usd"`
	Tranches       int             `json:"tranches"`
	SoldTranches   int             `json:"sold_tranches"`
	BuyerCapital   decimal.Decimal `json:"buyer_capital_usd"`
	EventSeq       int64           `json:"event_seq"`
	Journal        []journalLine   `json:"journal,omitempty"`
	AuditRecords   []string        `json:"audit,omitempty"`
	SnapshotExists bool            `json:"snapshot_exists"`
}

type journalLine struct {
	Seq  int64     `json:"seq"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "optional config path for the state database location")
	dbPath := flag.String("db", "", "sqlite state path (overrides config)")
	journalAfter := flag.Int64("after", 0, "print journal entries after this sequence number")
	journalLimit := flag.Int("limit", 20, "maximum journal entries to print (0 disables)")
	showAudit := flag.Bool("audit", false, "include operator audit records")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	path := cfg.State.SQLitePath
	if *dbPath != "" {
		path = *dbPath
	}
	log := logging.New(config.LoggingConfig{Level: "warn"})
	defer func() { _ = log.Sync() }()

	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := buildReport(ctx, store, *journalAfter, *journalLimit, *showAudit)
	if err != nil {
		log.Error("inspect failed", zap.String("db", path), zap.Error(err))
		fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
}

func buildReport(ctx context.Context, store *sqlite.Store, after int64, limit int, audit bool) (report, error) {
	var out report
	snapshot, ok, err := state.LoadEngineSnapshot(ctx, store)
	if err != nil {
		return out, err
	}
	if ok {
		out.SnapshotExists = true
		out.SavedAt = time.UnixMilli(snapshot.SavedAtMS).UTC()
		out.Breaker = snapshot.Breaker
		out.PoolSize = len(snapshot.Ledger.Pool)
		out.TotalMinted = snapshot.Ledger.Totals.TotalMinted
		out.TotalSweptUSD = snapshot.Ledger.Totals.TotalSweptUSD
		out.Tranches = len(snapshot.Tranches)
		for _, t := range snapshot.Tranches {
			if t.Sold() {
				out.SoldTranches++
			}
		}
		out.BuyerCapital = decimal.Zero
		for _, b := range snapshot.Buyers {
			out.BuyerCapital = out.BuyerCapital.Add(b.CapitalUSD)
		}
		out.EventSeq = snapshot.EventSeq
	}
	if limit > 0 {
		entries, err := store.ReadJournal(ctx, after, limit)
		if err != nil {
			return out, err
		}
		for _, entry := range entries {
			var payload struct {
				Data any `msgpack:"data"`
			}
			line := journalLine{Seq: entry.Seq, Kind: entry.Kind, At: entry.At}
			if err := state.DecodeJournal(entry, &payload); err == nil {
				line.Data = payload.Data
			}
			out.Journal = append(out.Journal, line)
		}
	}
	if audit {
		keys, err := store.Keys(ctx, "ops:audit:")
		if err != nil {
			return out, err
		}
		for _, key := range keys {
			raw, ok, err := store.Get(ctx, key)
			if err != nil {
				return out, err
			}
			if ok {
				out.AuditRecords = append(out.AuditRecords, raw)
			}
		}
	}
	return out, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
