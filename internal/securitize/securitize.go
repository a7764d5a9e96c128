package securitize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"fry-engine/internal/config"
	"fry-engine/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnknownRating   = errors.New("unknown rating tier")
	ErrTrancheNotFound = errors.New("tranche not found")
	ErrTrancheSold     = errors.New("tranche already sold")
)

// Tranche is a rated bundle of collateral events. It is immutable once a
// buyer has been stamped on it.
type Tranche struct {
	ID             string          `json:"id"`
	Rating         string          `json:"rating"`
	Events         []ledger.Event  `json:"events"`
	TotalValueUSD  decimal.Decimal `json:"total_value_usd"`
	TargetUSD      float64         `json:"target_usd"`
	YieldRate      float64         `json:"yield_rate"`
	MinPurchaseUSD float64         `json:"min_purchase_usd"`
	RiskScore      float64         `json:"risk_score"`
	CreatedAt      time.Time       `json:"created_at"`
	BuyerID        string          `json:"buyer_id,omitempty"`
	PurchasedAt    *time.Time      `json:"purchased_at,omitempty"`
}

func (t Tranche) Sold() bool {
	return t.BuyerID != ""
}

// EventSum returns the exact sum of the backing loss amounts.
func (t Tranche) EventSum() decimal.Decimal {
	sum := decimal.Zero
	for _, ev := range t.Events {
		sum = sum.Add(decimal.NewFromFloat(ev.LossUSD))
	}
	return sum
}

type Securitizer struct {
	cfg    config.SecuritizationConfig
	tiers  map[string]config.TierConfig
	ledger *ledger.Ledger
	log    *zap.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	tranches []Tranche
}

func New(cfg config.SecuritizationConfig, l *ledger.Ledger, log *zap.Logger) (*Securitizer, error) {
	if err := config.ValidateTiers(cfg); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New("securitizer requires a ledger")
	}
	if log == nil {
		log = zap.NewNop()
	}
	tiers := make(map[string]config.TierConfig, len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		tiers[tier.Rating] = tier
	}
	return &Securitizer{
		cfg:    cfg,
		tiers:  tiers,
		ledger: l,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

func (s *Securitizer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Ratings lists tiers from best to worst.
func (s *Securitizer) Ratings() []string {
	out := make([]string, 0, len(s.cfg.Tiers))
	for _, tier := range s.cfg.Tiers {
		out = append(out, tier.Rating)
	}
	return out
}

func (s *Securitizer) Tier(rating string) (config.TierConfig, bool) {
	tier, ok := s.tiers[rating]
	return tier, ok
}

// Qualifies reports whether ev meets the admission limits of tier.
func Qualifies(tier config.TierConfig, ev ledger.Event) bool {
	return ev.Leverage <= tier.MaxLeverage &&
		ev.Multiplier <= tier.MaxMultiplier &&
		ev.PositionSizeUSD >= tier.MinPositionUSD
}

// Create packages pool events into a tranche of the given rating. The lowest
// multiplier events are taken first until targetUSD is reached or the pool is
// exhausted. ok is false when no event qualifies. A targetUSD <= 0 uses the
// configured default.
func (s *Securitizer) Create(rating string, targetUSD float64) (Tranche, bool, error) {
	tier, found := s.tiers[rating]
	if !found {
		return Tranche{}, false, fmt.Errorf("%w: %s", ErrUnknownRating, rating)
	}
	if targetUSD <= 0 {
		targetUSD = s.cfg.TargetUSD
	}
	target := decimal.NewFromFloat(targetUSD)

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.ledger.Withdraw(func(pool []ledger.Event) []string {
		return selectEvents(tier, pool, target)
	})
	if err != nil {
		return Tranche{}, false, err
	}
	if len(events) == 0 {
		s.log.Debug("no qualifying collateral",
			zap.String("rating", rating),
			zap.Float64("target_usd", targetUSD),
		)
		return Tranche{}, false, nil
	}

	risk := s.riskScore(events)
	tranche := Tranche{
		ID:             s.newID(),
		Rating:         rating,
		Events:         events,
		TargetUSD:      targetUSD,
		RiskScore:      risk,
		YieldRate:      math.Min(tier.BaseYield+risk*s.cfg.PremiumPerPoint, s.cfg.MaxYield),
		MinPurchaseUSD: tier.MinPurchaseUSD,
		CreatedAt:      s.now(),
	}
	tranche.TotalValueUSD = tranche.EventSum()
	s.tranches = append(s.tranches, tranche)
	s.log.Info("tranche created",
		zap.String("tranche_id", tranche.ID),
		zap.String("rating", rating),
		zap.Int("events", len(events)),
		zap.String("total_value_usd", tranche.TotalValueUSD.StringFixed(2)),
		zap.Float64("yield_rate", tranche.YieldRate),
		zap.Float64("risk_score", tranche.RiskScore),
	)
	return cloneTranche(tranche), true, nil
}

func selectEvents(tier config.TierConfig, pool []ledger.Event, target decimal.Decimal) []string {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Multiplier != pool[j].Multiplier {
			return pool[i].Multiplier < pool[j].Multiplier
		}
		if !pool[i].SweptAt.Equal(pool[j].SweptAt) {
			return pool[i].SweptAt.Before(pool[j].SweptAt)
		}
		return pool[i].ID < pool[j].ID
	})
	var ids []string
	sum := decimal.Zero
	for _, ev := range pool {
		if sum.GreaterThanOrEqual(target) && len(ids) > 0 {
			break
		}
		if !Qualifies(tier, ev) {
			continue
		}
		ids = append(ids, ev.ID)
		sum = sum.Add(decimal.NewFromFloat(ev.LossUSD))
	}
	return ids
}

func (s *Securitizer) riskScore(events []ledger.Event) float64 {
	var multipliers float64
	var manipulation, liquidation int
	for _, ev := range events {
		multipliers += ev.Multiplier
		if ev.Class == ledger.ClassManipulation {
			manipulation++
		}
		if ev.Liquidation {
			liquidation++
		}
	}
	n := float64(len(events))
	risk := (multipliers / n) * (1 + float64(manipulation)/n + float64(liquidation)/n)
	return math.Min(math.Max(risk, 0), s.cfg.MaxRiskScore)
}

// MarkSold stamps the buyer on an unsold tranche.
func (s *Securitizer) MarkSold(id, buyerID string, at time.Time) (Tranche, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tranches {
		if s.tranches[i].ID != id {
			continue
		}
		if s.tranches[i].Sold() {
			return Tranche{}, fmt.Errorf("%w: %s", ErrTrancheSold, id)
		}
		stamp := at
		s.tranches[i].BuyerID = buyerID
		s.tranches[i].PurchasedAt = &stamp
		return cloneTranche(s.tranches[i]), nil
	}
	return Tranche{}, fmt.Errorf("%w: %s", ErrTrancheNotFound, id)
}

func (s *Securitizer) Get(id string) (Tranche, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tranches {
		if t.ID == id {
			return cloneTranche(t), true
		}
	}
	return Tranche{}, false
}

func (s *Securitizer) Tranches() []Tranche {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tranche, 0, len(s.tranches))
	for _, t := range s.tranches {
		out = append(out, cloneTranche(t))
	}
	return out
}

func (s *Securitizer) Unsold() []Tranche {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Tranche
	for _, t := range s.tranches {
		if !t.Sold() {
			out = append(out, cloneTranche(t))
		}
	}
	return out
}

func (s *Securitizer) Restore(tranches []Tranche) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tranches = make([]Tranche, 0, len(tranches))
	for _, t := range tranches {
		s.tranches = append(s.tranches, cloneTranche(t))
	}
}

func cloneTranche(t Tranche) Tranche {
	t.Events = append([]ledger.Event(nil), t.Events...)
	if t.PurchasedAt != nil {
		at := *t.PurchasedAt
		t.PurchasedAt = &at
	}
	return t
}
