package securitize

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"fry-engine/internal/config"
	"fry-engine/internal/ledger"
	"fry-engine/internal/minting"

	"github.com/shopspring/decimal"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSecuritizer(t *testing.T, pool []ledger.Event) (*Securitizer, *ledger.Ledger) {
	t.Helper()
	cfg := config.Default()
	l, err := ledger.New(cfg.Ledger, minting.New(cfg.Minting), nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	l.Restore(ledger.Snapshot{Pool: pool})
	s, err := New(cfg.Securitization, l, nil)
	if err != nil {
		t.Fatalf("new securitizer: %v", err)
	}
	s.SetClock(func() time.Time { return epoch })
	return s, l
}

func event(id string, loss, leverage, multiplier, position float64) ledger.Event {
	return ledger.Event{
		ID:              id,
		TraderHash:      "0x" + id,
		Asset:           "BTC",
		LossUSD:         loss,
		Leverage:        leverage,
		Multiplier:      multiplier,
		PositionSizeUSD: position,
		Class:           ledger.ClassOrganic,
		SweptAt:         epoch,
	}
}

func TestCreateAAAWithOnlyCCCCollateral(t *testing.T) {
	var pool []ledger.Event
	for i := 0; i < 20; i++ {
		pool = append(pool, event(fmt.Sprintf("ccc-%d", i), 100_000, 120, 35, 500))
	}
	s, l := newTestSecuritizer(t, pool)
	tranche, ok, err := s.Create("AAA", 1_000_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok {
		t.Fatalf("expected no tranche, got %+v", tranche)
	}
	if l.PoolSize() != 20 {
		t.Fatalf("expected pool untouched, got %d", l.PoolSize())
	}
	if len(s.Tranches()) != 0 {
		t.Fatalf("expected no tranches recorded")
	}
}

func TestCreateTakesLowestMultiplierFirst(t *testing.T) {
	pool := []ledger.Event{
		event("c", 400_000, 3, 1.9, 200_000),
		event("a", 400_000, 3, 1.2, 200_000),
		event("b", 400_000, 3, 1.5, 200_000),
		event("d", 400_000, 3, 1.1, 50_000),
	}
	s, l := newTestSecuritizer(t, pool)
	tranche, ok, err := s.Create("AAA", 700_000)
	if err != nil || !ok {
		t.Fatalf("expected tranche, ok=%v err=%v", ok, err)
	}
	if len(tranche.Events) != 2 || tranche.Events[0].ID != "a" || tranche.Events[1].ID != "b" {
		t.Fatalf("expected events a,b got %+v", tranche.Events)
	}
	if !tranche.TotalValueUSD.Equal(decimal.NewFromInt(800_000)) {
		t.Fatalf("expected total 800000, got %s", tranche.TotalValueUSD)
	}
	if l.PoolSize() != 2 {
		t.Fatalf("expected 2 events left in pool, got %d", l.PoolSize())
	}
	if tranche.MinPurchaseUSD != 1_000_000 {
		t.Fatalf("expected AAA min purchase, got %f", tranche.MinPurchaseUSD)
	}
	if !tranche.CreatedAt.Equal(epoch) || tranche.ID == "" {
		t.Fatalf("unexpected tranche stamp: %+v", tranche)
	}
}

func TestCreatePartialWhenPoolExhausted(t *testing.T) {
	s, _ := newTestSecuritizer(t, []ledger.Event{event("only", 1_234.56, 10, 2.5, 30_000)})
	tranche, ok, err := s.Create("A", 1_000_000)
	if err != nil || !ok {
		t.Fatalf("expected partial tranche, ok=%v err=%v", ok, err)
	}
	if !tranche.TotalValueUSD.Equal(decimal.RequireFromString("1234.56")) {
		t.Fatalf("expected exact total, got %s", tranche.TotalValueUSD)
	}
}

func TestTotalIsExactSumAndEventsUsedOnce(t *testing.T) {
	var pool []ledger.Event
	for i := 0; i < 60; i++ {
		pool = append(pool, event(fmt.Sprintf("e-%02d", i), 0.1+float64(i)*17.33, float64(1+i%40), 1+float64(i%30), float64(i)*1_000))
	}
	s, l := newTestSecuritizer(t, pool)
	seen := make(map[string]string)
	for round := 0; round < 10; round++ {
		for _, rating := range s.Ratings() {
			tranche, ok, err := s.Create(rating, 2_000)
			if err != nil {
				t.Fatalf("create %s: %v", rating, err)
			}
			if !ok {
				continue
			}
			want := decimal.Zero
			for _, ev := range tranche.Events {
				if prev, dup := seen[ev.ID]; dup {
					t.Fatalf("event %s in tranches %s and %s", ev.ID, prev, tranche.ID)
				}
				seen[ev.ID] = tranche.ID
				want = want.Add(decimal.NewFromFloat(ev.LossUSD))
				tier, _ := s.Tier(rating)
				if !Qualifies(tier, ev) {
					t.Fatalf("event %s does not qualify for %s", ev.ID, rating)
				}
			}
			if !tranche.TotalValueUSD.Equal(want) {
				t.Fatalf("expected total %s, got %s", want, tranche.TotalValueUSD)
			}
		}
	}
	if len(seen)+l.PoolSize() != 60 {
		t.Fatalf("expected every event either packaged or pooled, got %d + %d", len(seen), l.PoolSize())
	}
}

func TestRiskScoreAndYield(t *testing.T) {
	liq := event("liq", 50_000, 10, 2, 30_000)
	liq.Liquidation = true
	s, _ := newTestSecuritizer(t, []ledger.Event{event("org", 50_000, 10, 2, 30_000), liq})
	tranche, ok, err := s.Create("A", 100_000)
	if err != nil || !ok {
		t.Fatalf("expected tranche, ok=%v err=%v", ok, err)
	}
	if math.Abs(tranche.RiskScore-3) > 1e-12 {
		t.Fatalf("expected risk 3, got %f", tranche.RiskScore)
	}
	if math.Abs(tranche.YieldRate-(0.07+3*0.02)) > 1e-12 {
		t.Fatalf("expected yield 0.13, got %f", tranche.YieldRate)
	}
}

func TestRiskScoreClampedAndYieldCapped(t *testing.T) {
	manip := event("m", 10_000, 100, 40, 0)
	manip.Class = ledger.ClassManipulation
	manip.Liquidation = true
	s, _ := newTestSecuritizer(t, []ledger.Event{manip})
	s.cfg.PremiumPerPoint = 0.1
	tranche, ok, err := s.Create("CCC", 10_000)
	if err != nil || !ok {
		t.Fatalf("expected tranche, ok=%v err=%v", ok, err)
	}
	if tranche.RiskScore != 10 {
		t.Fatalf("expected risk clamped to 10, got %f", tranche.RiskScore)
	}
	if tranche.YieldRate != 0.5 {
		t.Fatalf("expected yield capped at 0.5, got %f", tranche.YieldRate)
	}
}

func TestCreateUnknownRating(t *testing.T) {
	s, _ := newTestSecuritizer(t, nil)
	if _, _, err := s.Create("ZZZ", 1); !errors.Is(err, ErrUnknownRating) {
		t.Fatalf("expected ErrUnknownRating, got %v", err)
	}
}

func TestMarkSoldIsFinal(t *testing.T) {
	s, _ := newTestSecuritizer(t, []ledger.Event{event("x", 5_000, 40, 10, 2_000)})
	tranche, ok, _ := s.Create("B", 5_000)
	if !ok {
		t.Fatalf("expected tranche")
	}
	sold, err := s.MarkSold(tranche.ID, "vanta-distressed", epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("mark sold: %v", err)
	}
	if !sold.Sold() || sold.PurchasedAt == nil || !sold.PurchasedAt.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("unexpected sold tranche: %+v", sold)
	}
	if _, err := s.MarkSold(tranche.ID, "other", epoch); !errors.Is(err, ErrTrancheSold) {
		t.Fatalf("expected ErrTrancheSold, got %v", err)
	}
	if _, err := s.MarkSold("missing", "other", epoch); !errors.Is(err, ErrTrancheNotFound) {
		t.Fatalf("expected ErrTrancheNotFound, got %v", err)
	}
	if len(s.Unsold()) != 0 {
		t.Fatalf("expected no unsold tranches")
	}
}
