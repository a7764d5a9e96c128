package buyers

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"fry-engine/internal/config"
	"fry-engine/internal/securitize"

	"github.com/shopspring/decimal"
)

func tranche(id, rating string, value int64, yield, risk float64) securitize.Tranche {
	return securitize.Tranche{
		ID:            id,
		Rating:        rating,
		TotalValueUSD: decimal.NewFromInt(value),
		YieldRate:     yield,
		RiskScore:     risk,
	}
}

func newMatcher(t *testing.T, policy string, buyers []config.BuyerConfig) *Matcher {
	t.Helper()
	m, err := NewMatcher(config.MatcherConfig{Policy: policy, Seed: 7}, buyers, nil)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	m.SetClock(func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) })
	return m
}

func TestMatchDebitsCapital(t *testing.T) {
	m := newMatcher(t, "best_fit", []config.BuyerConfig{
		{ID: "fund", AcceptedRatings: []string{"AAA"}, MinYield: 0.03, MaxRiskScore: 5, CapitalUSD: 2_000_000},
	})
	match, ok := m.Match(tranche("t1", "AAA", 1_500_000, 0.05, 2))
	if !ok {
		t.Fatalf("expected match")
	}
	if match.BuyerID != "fund" || !match.RemainingUSD.Equal(decimal.NewFromInt(500_000)) {
		t.Fatalf("unexpected match: %+v", match)
	}
	profiles := m.Profiles()
	if len(profiles[0].Purchases) != 1 || profiles[0].Purchases[0].TrancheID != "t1" {
		t.Fatalf("expected purchase history, got %+v", profiles[0].Purchases)
	}
	if _, ok := m.Match(tranche("t2", "AAA", 600_000, 0.05, 2)); ok {
		t.Fatalf("expected no match once capital is insufficient")
	}
}

func TestMatchFilters(t *testing.T) {
	m := newMatcher(t, "best_fit", []config.BuyerConfig{
		{ID: "fund", AcceptedRatings: []string{"AA"}, MinYield: 0.06, MaxRiskScore: 4, CapitalUSD: 1_000_000},
	})
	cases := map[string]securitize.Tranche{
		"rating":  tranche("r", "BBB", 1_000, 0.1, 1),
		"yield":   tranche("y", "AA", 1_000, 0.05, 1),
		"risk":    tranche("k", "AA", 1_000, 0.1, 4.5),
		"capital": tranche("c", "AA", 2_000_000, 0.1, 1),
	}
	for name, tr := range cases {
		if _, ok := m.Match(tr); ok {
			t.Fatalf("%s: expected no match", name)
		}
	}
	sold := tranche("s", "AA", 1_000, 0.1, 1)
	sold.BuyerID = "someone"
	if _, ok := m.Match(sold); ok {
		t.Fatalf("expected sold tranche to be rejected")
	}
}

func TestBestFitPicksClosestProfile(t *testing.T) {
	m := newMatcher(t, "best_fit", []config.BuyerConfig{
		{ID: "loose", AcceptedRatings: []string{"A"}, MinYield: 0.01, MaxRiskScore: 10, CapitalUSD: 10_000_000},
		{ID: "tight", AcceptedRatings: []string{"A"}, MinYield: 0.07, MaxRiskScore: 4, CapitalUSD: 10_000_000},
	})
	match, ok := m.Match(tranche("t", "A", 100_000, 0.08, 3))
	if !ok || match.BuyerID != "tight" {
		t.Fatalf("expected tight buyer, got %+v ok=%v", match, ok)
	}
	if match.Candidates != 2 || match.Policy != PolicyBestFit {
		t.Fatalf("unexpected match metadata: %+v", match)
	}
}

func TestBestFitTieBreaksByID(t *testing.T) {
	m := newMatcher(t, "best_fit", []config.BuyerConfig{
		{ID: "zeta", AcceptedRatings: []string{"B"}, MinYield: 0.1, MaxRiskScore: 8, CapitalUSD: 1_000_000},
		{ID: "alpha", AcceptedRatings: []string{"B"}, MinYield: 0.1, MaxRiskScore: 8, CapitalUSD: 1_000_000},
	})
	match, ok := m.Match(tranche("t", "B", 1_000, 0.2, 5))
	if !ok || match.BuyerID != "alpha" {
		t.Fatalf("expected alpha on tie, got %+v", match)
	}
}

func TestRandomPolicyIsSeeded(t *testing.T) {
	buyers := []config.BuyerConfig{
		{ID: "a", AcceptedRatings: []string{"CCC"}, CapitalUSD: 1_000_000, MaxRiskScore: 10},
		{ID: "b", AcceptedRatings: []string{"CCC"}, CapitalUSD: 1_000_000, MaxRiskScore: 10},
		{ID: "c", AcceptedRatings: []string{"CCC"}, CapitalUSD: 1_000_000, MaxRiskScore: 10},
	}
	first := newMatcher(t, "random", buyers)
	second := newMatcher(t, "random", buyers)
	for i := 0; i < 20; i++ {
		tr := tranche(fmt.Sprintf("t%d", i), "CCC", 1_000, 0.3, 9)
		a, okA := first.Match(tr)
		b, okB := second.Match(tr)
		if !okA || !okB || a.BuyerID != b.BuyerID {
			t.Fatalf("expected identical seeded choices, got %q and %q", a.BuyerID, b.BuyerID)
		}
	}
}

func TestCapitalNeverNegative(t *testing.T) {
	m := newMatcher(t, "random", config.DefaultBuyers())
	ratings := []string{"AAA", "AA", "A", "BBB", "BB", "B", "CCC"}
	for i := 0; i < 500; i++ {
		rating := ratings[i%len(ratings)]
		m.Match(tranche(fmt.Sprintf("t%d", i), rating, int64(250_000+i*7_919), 0.2, 2))
	}
	for _, p := range m.Profiles() {
		if p.CapitalUSD.IsNegative() {
			t.Fatalf("buyer %s capital negative: %s", p.ID, p.CapitalUSD)
		}
		for _, purchase := range p.Purchases {
			if !p.Accepts(purchase.Rating) {
				t.Fatalf("buyer %s bought unaccepted rating %s", p.ID, purchase.Rating)
			}
		}
	}
}

func TestRollbackRestoresCapital(t *testing.T) {
	m := newMatcher(t, "best_fit", []config.BuyerConfig{
		{ID: "fund", AcceptedRatings: []string{"AAA"}, CapitalUSD: 1_000},
	})
	match, ok := m.Match(tranche("t", "AAA", 400, 0.05, 1))
	if !ok {
		t.Fatalf("expected match")
	}
	m.Rollback(match)
	p := m.Profiles()[0]
	if !p.CapitalUSD.Equal(decimal.NewFromInt(1_000)) || len(p.Purchases) != 0 {
		t.Fatalf("expected rollback to restore capital, got %+v", p)
	}
}

func TestProfilesRoundTrip(t *testing.T) {
	m := newMatcher(t, "best_fit", config.DefaultBuyers())
	if _, ok := m.Match(tranche("t", "AAA", 1_000_000, 0.05, 2)); !ok {
		t.Fatalf("expected match")
	}
	payload, err := json.Marshal(m.Profiles())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var saved []Profile
	if err := json.Unmarshal(payload, &saved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := newMatcher(t, "best_fit", config.DefaultBuyers())
	restored.Restore(saved)
	want, got := m.Summary(), restored.Summary()
	if !want.CapitalUSD.Equal(got.CapitalUSD) || !want.PurchasedUSD.Equal(got.PurchasedUSD) || want.Purchases != got.Purchases {
		t.Fatalf("summary mismatch: %+v vs %+v", want, got)
	}
}

func TestUnknownPolicy(t *testing.T) {
	if _, err := NewMatcher(config.MatcherConfig{Policy: "coin_flip"}, nil, nil); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
