package buyers

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"fry-engine/internal/config"
	"fry-engine/internal/securitize"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Policy string

const (
	PolicyRandom  Policy = "random"
	PolicyBestFit Policy = "best_fit"
)

type Purchase struct {
	ID        string          `json:"id"`
	TrancheID string          `json:"tranche_id"`
	Rating    string          `json:"rating"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	YieldRate float64         `json:"yield_rate"`
	RiskScore float64         `json:"risk_score"`
	At        time.Time       `json:"at"`
}

type Profile struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	AcceptedRatings []string        `json:"accepted_ratings"`
	MinYield        float64         `json:"min_yield"`
	MaxRiskScore    float64         `json:"max_risk_score"`
	CapitalUSD      decimal.Decimal `json:"capital_usd"`
	Purchases       []Purchase      `json:"purchases"`
}

func (p Profile) Accepts(rating string) bool {
	return slices.Contains(p.AcceptedRatings, rating)
}

// Eligible applies the rating, yield, risk and capital filters.
func (p Profile) Eligible(t securitize.Tranche) bool {
	return p.Accepts(t.Rating) &&
		p.MinYield <= t.YieldRate &&
		p.MaxRiskScore >= t.RiskScore &&
		p.CapitalUSD.GreaterThanOrEqual(t.TotalValueUSD)
}

type Match struct {
	BuyerID      string          `json:"buyer_id"`
	TrancheID    string          `json:"tranche_id"`
	Rating       string          `json:"rating"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	RemainingUSD decimal.Decimal `json:"remaining_usd"`
	Candidates   int             `json:"candidates"`
	Policy       Policy          `json:"policy"`
	At           time.Time       `json:"at"`
}

type Summary struct {
	Buyers       int             `json:"buyers"`
	Purchases    int             `json:"purchases"`
	PurchasedUSD decimal.Decimal `json:"purchased_usd"`
	CapitalUSD   decimal.Decimal `json:"capital_usd"`
}

// Matcher owns buyer capital. Capital only decreases, on successful matches.
type Matcher struct {
	policy Policy
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	profiles []*Profile
}

func NewMatcher(cfg config.MatcherConfig, buyers []config.BuyerConfig, log *zap.Logger) (*Matcher, error) {
	policy := Policy(cfg.Policy)
	switch policy {
	case PolicyRandom, PolicyBestFit:
	case "":
		policy = PolicyBestFit
	default:
		return nil, errors.New("unknown matcher policy: " + cfg.Policy)
	}
	if log == nil {
		log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := &Matcher{
		policy: policy,
		log:    log,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(seed)),
	}
	for _, b := range buyers {
		m.profiles = append(m.profiles, &Profile{
			ID:              b.ID,
			Name:            b.Name,
			AcceptedRatings: append([]string(nil), b.AcceptedRatings...),
			MinYield:        b.MinYield,
			MaxRiskScore:    b.MaxRiskScore,
			CapitalUSD:      decimal.NewFromFloat(b.CapitalUSD),
		})
	}
	sort.Slice(m.profiles, func(i, j int) bool { return m.profiles[i].ID < m.profiles[j].ID })
	return m, nil
}

func (m *Matcher) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

func (m *Matcher) Policy() Policy {
	return m.policy
}

// Match picks one eligible buyer for an unsold tranche and debits its
// capital. ok is false when nobody qualifies; the tranche stays unsold.
func (m *Matcher) Match(t securitize.Tranche) (Match, bool) {
	if t.Sold() || !t.TotalValueUSD.IsPositive() {
		return Match{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*Profile
	for _, p := range m.profiles {
		if p.Eligible(t) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		m.log.Debug("no buyer for tranche",
			zap.String("tranche_id", t.ID),
			zap.String("rating", t.Rating),
		)
		return Match{}, false
	}
	buyer := m.choose(candidates, t)
	at := m.now()
	buyer.CapitalUSD = buyer.CapitalUSD.Sub(t.TotalValueUSD)
	buyer.Purchases = append(buyer.Purchases, Purchase{
		ID:        uuid.NewString(),
		TrancheID: t.ID,
		Rating:    t.Rating,
		AmountUSD: t.TotalValueUSD,
		YieldRate: t.YieldRate,
		RiskScore: t.RiskScore,
		At:        at,
	})
	match := Match{
		BuyerID:      buyer.ID,
		TrancheID:    t.ID,
		Rating:       t.Rating,
		AmountUSD:    t.TotalValueUSD,
		RemainingUSD: buyer.CapitalUSD,
		Candidates:   len(candidates),
		Policy:       m.policy,
		At:           at,
	}
	m.log.Info("tranche matched",
		zap.String("tranche_id", t.ID),
		zap.String("buyer_id", buyer.ID),
		zap.String("amount_usd", t.TotalValueUSD.StringFixed(2)),
		zap.Int("candidates", len(candidates)),
	)
	return match, true
}

func (m *Matcher) choose(candidates []*Profile, t securitize.Tranche) *Profile {
	if m.policy == PolicyRandom {
		return candidates[m.rng.Intn(len(candidates))]
	}
	best := candidates[0]
	bestDist := fitDistance(best, t)
	for _, p := range candidates[1:] {
		if d := fitDistance(p, t); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// fitDistance measures headroom on both constraints; yield is scaled to
// percentage points so it sits on the same range as risk score.
func fitDistance(p *Profile, t securitize.Tranche) float64 {
	yieldGap := (t.YieldRate - p.MinYield) * 100
	riskGap := p.MaxRiskScore - t.RiskScore
	return math.Hypot(yieldGap, riskGap)
}

// Rollback reverses a match whose tranche could not be stamped.
func (m *Matcher) Rollback(match Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.ID != match.BuyerID {
			continue
		}
		for i := len(p.Purchases) - 1; i >= 0; i-- {
			if p.Purchases[i].TrancheID == match.TrancheID {
				p.Purchases = append(p.Purchases[:i], p.Purchases[i+1:]...)
				p.CapitalUSD = p.CapitalUSD.Add(match.AmountUSD)
				return
			}
		}
	}
}

func (m *Matcher) Profiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		cp.AcceptedRatings = append([]string(nil), p.AcceptedRatings...)
		cp.Purchases = append([]Purchase(nil), p.Purchases...)
		out = append(out, cp)
	}
	return out
}

func (m *Matcher) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Summary{Buyers: len(m.profiles), PurchasedUSD: decimal.Zero, CapitalUSD: decimal.Zero}
	for _, p := range m.profiles {
		out.CapitalUSD = out.CapitalUSD.Add(p.CapitalUSD)
		out.Purchases += len(p.Purchases)
		for _, purchase := range p.Purchases {
			out.PurchasedUSD = out.PurchasedUSD.Add(purchase.AmountUSD)
		}
	}
	return out
}

// Restore overlays persisted capital and purchase history onto configured
// profiles. Persisted buyers no longer in config are kept.
func (m *Matcher) Restore(profiles []Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[string]*Profile, len(m.profiles))
	for _, p := range m.profiles {
		byID[p.ID] = p
	}
	for _, saved := range profiles {
		saved.Purchases = append([]Purchase(nil), saved.Purchases...)
		if p, ok := byID[saved.ID]; ok {
			p.CapitalUSD = saved.CapitalUSD
			p.Purchases = saved.Purchases
			continue
		}
		cp := saved
		cp.AcceptedRatings = append([]string(nil), saved.AcceptedRatings...)
		m.profiles = append(m.profiles, &cp)
	}
	sort.Slice(m.profiles, func(i, j int) bool { return m.profiles[i].ID < m.profiles[j].ID })
}
