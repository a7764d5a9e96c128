package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fry-engine/internal/config"
	"fry-engine/internal/minting"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type FailureClass string

const (
	ClassOrganic       FailureClass = "organic"
	ClassOverleveraged FailureClass = "overleveraged"
	ClassCascade       FailureClass = "cascade"
	ClassManipulation  FailureClass = "manipulation"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type Source string

const (
	SourceArbitrage   Source = "arbitrage"
	SourceLiquidation Source = "liquidation"
)

var (
	ErrTraderRequired = errors.New("trader address is required")
	ErrNegativeLoss   = errors.New("loss amount must be >= 0")
	ErrEventConsumed  = errors.New("collateral event not in active pool")
)

// Event is an immutable, anonymized record of one absorbed loss.
type Event struct {
	ID              string       `json:"id" msgpack:"id"`
	TraderHash      string       `json:"trader_hash" msgpack:"trader_hash"`
	Asset           string       `json:"asset" msgpack:"asset"`
	Side            Side         `json:"side,omitempty" msgpack:"side"`
	Source          Source       `json:"source" msgpack:"source"`
	LossUSD         float64      `json:"loss_usd" msgpack:"loss_usd"`
	SlippagePct     float64      `json:"slippage_pct" msgpack:"slippage_pct"`
	Leverage        float64      `json:"leverage" msgpack:"leverage"`
	PositionSizeUSD float64      `json:"position_size_usd" msgpack:"position_size_usd"`
	Liquidation     bool         `json:"liquidation" msgpack:"liquidation"`
	Minted          float64      `json:"minted" msgpack:"minted"`
	Multiplier      float64      `json:"multiplier" msgpack:"multiplier"`
	ParadoxScore    float64      `json:"paradox_score" msgpack:"paradox_score"`
	Class           FailureClass `json:"class" msgpack:"class"`
	SweptAt         time.Time    `json:"swept_at" msgpack:"swept_at"`
}

type SweepInput struct {
	TraderAddress   string
	Asset           string
	Side            Side
	Source          Source
	LossUSD         float64
	SlippagePct     float64
	Leverage        float64
	PositionSizeUSD float64
	Liquidation     bool
	ParadoxScore    float64
	FeedbackActive  bool
}

// SweepResult reports either the appended event or a directional skip.
type SweepResult struct {
	Event   Event          `json:"event"`
	Mint    minting.Result `json:"mint"`
	Skipped bool           `json:"skipped"`
	Reason  string         `json:"reason,omitempty"`
}

type Totals struct {
	TotalMinted   decimal.Decimal `json:"total_minted"`
	TotalSweptUSD decimal.Decimal `json:"total_swept_usd"`
	Swept         int             `json:"swept"`
	Skipped       int             `json:"skipped"`
	Consumed      int             `json:"consumed"`
}

type Snapshot struct {
	Pool   []Event `json:"pool"`
	Totals Totals  `json:"totals"`
}

// Ledger is the append-only collateral record. All mutation is serialized on
// its own lock; Withdraw gives securitization an atomic select-and-remove.
type Ledger struct {
	cfg    config.LedgerConfig
	minter *minting.Engine
	log    *zap.Logger
	salt   []byte
	now    func() time.Time
	newID  func() string

	mu     sync.Mutex
	pool   []Event
	totals Totals
}

func New(cfg config.LedgerConfig, minter *minting.Engine, log *zap.Logger) (*Ledger, error) {
	if minter == nil {
		return nil, errors.New("ledger requires a minting engine")
	}
	if log == nil {
		log = zap.NewNop()
	}
	salt := []byte(cfg.Salt)
	if len(salt) == 0 {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate ledger salt: %w", err)
		}
		log.Warn("ledger salt not configured; using ephemeral salt")
	}
	return &Ledger{
		cfg:    cfg,
		minter: minter,
		log:    log,
		salt:   salt,
		now:    time.Now,
		newID:  uuid.NewString,
		totals: Totals{TotalMinted: decimal.Zero, TotalSweptUSD: decimal.Zero},
	}, nil
}

func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now != nil {
		l.now = now
	}
}

func (l *Ledger) Sweep(in SweepInput) (SweepResult, error) {
	if strings.TrimSpace(in.TraderAddress) == "" {
		return SweepResult{}, ErrTraderRequired
	}
	if in.LossUSD < 0 {
		return SweepResult{}, ErrNegativeLoss
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if reason, skip := l.filtered(in.Side); skip {
		l.totals.Skipped++
		return SweepResult{Skipped: true, Reason: reason}, nil
	}

	now := l.now()
	mint := l.minter.Mint(minting.Input{
		SlippageCostUSD:      in.LossUSD,
		SlippagePercent:      in.SlippagePct,
		PositionSizeUSD:      in.PositionSizeUSD,
		ParadoxScore:         in.ParadoxScore,
		DistinctAssetsActive: l.distinctAssetsLocked(in.Asset),
	})
	event := Event{
		ID:              l.newID(),
		TraderHash:      l.hashTrader(in.TraderAddress, now),
		Asset:           in.Asset,
		Side:            in.Side,
		Source:          in.Source,
		LossUSD:         in.LossUSD,
		SlippagePct:     in.SlippagePct,
		Leverage:        in.Leverage,
		PositionSizeUSD: in.PositionSizeUSD,
		Liquidation:     in.Liquidation,
		Minted:          mint.Minted,
		Multiplier:      mint.Multiplier,
		ParadoxScore:    in.ParadoxScore,
		Class:           l.classify(in),
		SweptAt:         now,
	}
	l.pool = append(l.pool, event)
	l.totals.Swept++
	l.totals.TotalMinted = l.totals.TotalMinted.Add(decimal.NewFromFloat(event.Minted))
	l.totals.TotalSweptUSD = l.totals.TotalSweptUSD.Add(decimal.NewFromFloat(event.LossUSD))
	l.log.Debug("collateral swept",
		zap.String("event_id", event.ID),
		zap.String("asset", event.Asset),
		zap.Float64("loss_usd", event.LossUSD),
		zap.Float64("minted", event.Minted),
		zap.Float64("multiplier", event.Multiplier),
		zap.String("class", string(event.Class)),
	)
	return SweepResult{Event: event, Mint: mint}, nil
}

// Withdraw hands the active pool to pick and removes the returned ids in the
// same critical section, so an event can back at most one tranche.
func (l *Ledger) Withdraw(pick func(pool []Event) []string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	view := append([]Event(nil), l.pool...)
	ids := pick(view)
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	taken := make([]Event, 0, len(ids))
	keep := make([]Event, 0, len(l.pool))
	byID := make(map[string]Event, len(ids))
	for _, ev := range l.pool {
		if _, ok := wanted[ev.ID]; ok {
			byID[ev.ID] = ev
			continue
		}
		keep = append(keep, ev)
	}
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEventConsumed, id)
		}
		taken = append(taken, ev)
		delete(byID, id)
	}
	l.pool = keep
	l.totals.Consumed += len(taken)
	return taken, nil
}

func (l *Ledger) Pool() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.pool...)
}

func (l *Ledger) PoolSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pool)
}

func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// DistinctAssets counts assets represented in the active pool.
func (l *Ledger) DistinctAssets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.distinctAssetsLocked("")
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Pool: append([]Event(nil), l.pool...), Totals: l.totals}
}

func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool = append([]Event(nil), snap.Pool...)
	sort.SliceStable(l.pool, func(i, j int) bool { return l.pool[i].SweptAt.Before(l.pool[j].SweptAt) })
	l.totals = snap.Totals
}

func (l *Ledger) filtered(side Side) (string, bool) {
	switch l.cfg.SideFilter {
	case string(SideLong), string(SideShort):
		if string(side) != l.cfg.SideFilter {
			return fmt.Sprintf("side %q excluded by %s-only filter", side, l.cfg.SideFilter), true
		}
	}
	return "", false
}

func (l *Ledger) distinctAssetsLocked(incoming string) int {
	seen := make(map[string]struct{}, len(l.pool)+1)
	for _, ev := range l.pool {
		seen[ev.Asset] = struct{}{}
	}
	if incoming != "" {
		seen[incoming] = struct{}{}
	}
	return len(seen)
}

func (l *Ledger) classify(in SweepInput) FailureClass {
	switch {
	case in.FeedbackActive:
		return ClassManipulation
	case in.Liquidation && l.cfg.CascadeLeverage > 0 && in.Leverage >= l.cfg.CascadeLeverage:
		return ClassCascade
	case l.cfg.OverleveragedLeverage > 0 && in.Leverage >= l.cfg.OverleveragedLeverage:
		return ClassOverleveraged
	default:
		return ClassOrganic
	}
}

// hashTrader derives a one-way identifier from the salted, normalized address
// and the sweep time. The raw address is never stored.
func (l *Ledger) hashTrader(address string, at time.Time) string {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if common.IsHexAddress(normalized) {
		normalized = common.HexToAddress(normalized).Hex()
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	digest := crypto.Keccak256(l.salt, []byte(normalized), ts[:])
	return hexutil.Encode(digest[:16])
}
