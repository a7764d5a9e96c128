package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Log            LoggingConfig        `yaml:"log"`
	State          StateConfig          `yaml:"state"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Slippage       SlippageConfig       `yaml:"slippage"`
	Paradox        ParadoxConfig        `yaml:"paradox"`
	Breaker        BreakerConfig        `yaml:"breaker"`
	Minting        MintingConfig        `yaml:"minting"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Securitization SecuritizationConfig `yaml:"securitization"`
	Buyers         []BuyerConfig        `yaml:"buyers"`
	Matcher        MatcherConfig        `yaml:"matcher"`
	Engine         EngineConfig         `yaml:"engine"`
	Feed           FeedConfig           `yaml:"feed"`
	Timescale      TimescaleConfig      `yaml:"timescale"`
	Telegram       TelegramConfig       `yaml:"telegram"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	Journal    *bool  `yaml:"journal"`
}

func (s StateConfig) JournalValue() bool {
	if s.Journal == nil {
		return true
	}
	return *s.Journal
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

type VenueConfig struct {
	Name       string  `yaml:"name"`
	DepthShare float64 `yaml:"depth_share"`
	FeeRate    float64 `yaml:"fee_rate"`
}

type SlippageConfig struct {
	FloorPct        *float64      `yaml:"floor_pct"`
	MinMarketCapUSD float64       `yaml:"min_market_cap_usd"`
	NoiseMin        float64       `yaml:"noise_min"`
	NoiseMax        float64       `yaml:"noise_max"`
	Venues          []VenueConfig `yaml:"venues"`
}

func (s SlippageConfig) FloorPctValue() float64 {
	if s.FloorPct == nil {
		return 0.1
	}
	return *s.FloorPct
}

type ParadoxConfig struct {
	BaselineLiquidityUSD float64       `yaml:"baseline_liquidity_usd"`
	Window               time.Duration `yaml:"window"`
	Normalization        float64       `yaml:"normalization"`
	FeedbackThreshold    *float64      `yaml:"feedback_threshold"`
	FeedbackMultiplier   float64       `yaml:"feedback_multiplier"`
}

func (p ParadoxConfig) FeedbackThresholdValue() float64 {
	if p.FeedbackThreshold == nil {
		return 0.75
	}
	return *p.FeedbackThreshold
}

type BreakerConfig struct {
	Window             time.Duration `yaml:"window"`
	BaselineRatePerMin float64       `yaml:"baseline_rate_per_min"`
	Multiplier         float64       `yaml:"multiplier"`
	ParadoxThreshold   *float64      `yaml:"paradox_threshold"`
}

func (b BreakerConfig) ParadoxThresholdValue() float64 {
	if b.ParadoxThreshold == nil {
		return 85
	}
	return *b.ParadoxThreshold
}

type MintingConfig struct {
	RiskAdjusted           *bool   `yaml:"risk_adjusted"`
	CapMultiple            float64 `yaml:"cap_multiple"`
	SeverityDivisor        float64 `yaml:"severity_divisor"`
	SizeFactorCap          float64 `yaml:"size_factor_cap"`
	SizeNormalizerUSD      float64 `yaml:"size_normalizer_usd"`
	ConcentrationNumerator float64 `yaml:"concentration_numerator"`
}

func (m MintingConfig) RiskAdjustedValue() bool {
	if m.RiskAdjusted == nil {
		return true
	}
	return *m.RiskAdjusted
}

type LedgerConfig struct {
	Salt                  string  `yaml:"salt"`
	SideFilter            string  `yaml:"side_filter"`
	OverleveragedLeverage float64 `yaml:"overleveraged_leverage"`
	CascadeLeverage       float64 `yaml:"cascade_leverage"`
}

type TierConfig struct {
	Rating         string  `yaml:"rating"`
	MaxLeverage    float64 `yaml:"max_leverage"`
	MaxMultiplier  float64 `yaml:"max_multiplier"`
	MinPositionUSD float64 `yaml:"min_position_usd"`
	BaseYield      float64 `yaml:"base_yield"`
	MinPurchaseUSD float64 `yaml:"min_purchase_usd"`
}

type SecuritizationConfig struct {
	Tiers           []TierConfig `yaml:"tiers"`
	PremiumPerPoint float64      `yaml:"premium_per_point"`
	MaxYield        float64      `yaml:"max_yield"`
	MaxRiskScore    float64      `yaml:"max_risk_score"`
	TargetUSD       float64      `yaml:"target_usd"`
}

type BuyerConfig struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	AcceptedRatings []string `yaml:"accepted_ratings"`
	MinYield        float64  `yaml:"min_yield"`
	MaxRiskScore    float64  `yaml:"max_risk_score"`
	CapitalUSD      float64  `yaml:"capital_usd"`
}

type MatcherConfig struct {
	Policy string `yaml:"policy"`
	Seed   int64  `yaml:"seed"`
}

type EngineConfig struct {
	TraderAddress      string        `yaml:"trader_address"`
	ScanInterval       time.Duration `yaml:"scan_interval"`
	SecuritizeInterval time.Duration `yaml:"securitize_interval"`
	CycleTiers         []string      `yaml:"cycle_tiers"`
	MaxEventLog        int           `yaml:"max_event_log"`
}

type FeedConfig struct {
	Mode           string        `yaml:"mode"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Assets         []string      `yaml:"assets"`
	Seed           int64         `yaml:"seed"`
	BatchSize      int           `yaml:"batch_size"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	AlertsPerMinute        float64       `yaml:"alerts_per_minute"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by an empty YAML document.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FRY_LEDGER_SALT")); v != "" && cfg.Ledger.Salt == "" {
		cfg.Ledger.Salt = v
	}
	if v := strings.TrimSpace(os.Getenv("FRY_TELEGRAM_TOKEN")); v != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("FRY_TELEGRAM_CHAT_ID")); v != "" && cfg.Telegram.ChatID == "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("FRY_TIMESCALE_DSN")); v != "" && cfg.Timescale.DSN == "" {
		cfg.Timescale.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/fry-engine.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9101"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Slippage.FloorPct == nil {
		cfg.Slippage.FloorPct = Float64(0.1)
	}
	if cfg.Slippage.MinMarketCapUSD == 0 {
		cfg.Slippage.MinMarketCapUSD = 10_000_000
	}
	if cfg.Slippage.NoiseMin == 0 && cfg.Slippage.NoiseMax == 0 {
		cfg.Slippage.NoiseMin = 0.9
		cfg.Slippage.NoiseMax = 1.1
	}
	if len(cfg.Slippage.Venues) == 0 {
		cfg.Slippage.Venues = DefaultVenues()
	}

	if cfg.Paradox.BaselineLiquidityUSD == 0 {
		cfg.Paradox.BaselineLiquidityUSD = 500_000_000
	}
	if cfg.Paradox.Window == 0 {
		cfg.Paradox.Window = time.Hour
	}
	if cfg.Paradox.Normalization == 0 {
		cfg.Paradox.Normalization = 1000
	}
	if cfg.Paradox.FeedbackThreshold == nil {
		cfg.Paradox.FeedbackThreshold = Float64(0.75)
	}
	if cfg.Paradox.FeedbackMultiplier == 0 {
		cfg.Paradox.FeedbackMultiplier = 4
	}

	if cfg.Breaker.Window == 0 {
		cfg.Breaker.Window = 10 * time.Minute
	}
	if cfg.Breaker.BaselineRatePerMin == 0 {
		cfg.Breaker.BaselineRatePerMin = 50_000
	}
	if cfg.Breaker.Multiplier == 0 {
		cfg.Breaker.Multiplier = 5
	}
	if cfg.Breaker.ParadoxThreshold == nil {
		cfg.Breaker.ParadoxThreshold = Float64(85)
	}

	if cfg.Minting.RiskAdjusted == nil {
		enabled := true
		cfg.Minting.RiskAdjusted = &enabled
	}
	if cfg.Minting.CapMultiple == 0 {
		cfg.Minting.CapMultiple = 50
	}
	if cfg.Minting.SeverityDivisor == 0 {
		cfg.Minting.SeverityDivisor = 10
	}
	if cfg.Minting.SizeFactorCap == 0 {
		cfg.Minting.SizeFactorCap = 0.5
	}
	if cfg.Minting.SizeNormalizerUSD == 0 {
		cfg.Minting.SizeNormalizerUSD = 1_000_000
	}
	if cfg.Minting.ConcentrationNumerator == 0 {
		cfg.Minting.ConcentrationNumerator = 5
	}

	if cfg.Ledger.SideFilter == "" {
		cfg.Ledger.SideFilter = "any"
	}
	if cfg.Ledger.OverleveragedLeverage == 0 {
		cfg.Ledger.OverleveragedLeverage = 20
	}
	if cfg.Ledger.CascadeLeverage == 0 {
		cfg.Ledger.CascadeLeverage = 25
	}

	if len(cfg.Securitization.Tiers) == 0 {
		cfg.Securitization.Tiers = DefaultTiers()
	}
	if cfg.Securitization.PremiumPerPoint == 0 {
		cfg.Securitization.PremiumPerPoint = 0.02
	}
	if cfg.Securitization.MaxYield == 0 {
		cfg.Securitization.MaxYield = 0.5
	}
	if cfg.Securitization.MaxRiskScore == 0 {
		cfg.Securitization.MaxRiskScore = 10
	}
	if cfg.Securitization.TargetUSD == 0 {
		cfg.Securitization.TargetUSD = 1_000_000
	}

	if cfg.Buyers == nil {
		cfg.Buyers = DefaultBuyers()
	}
	if cfg.Matcher.Policy == "" {
		cfg.Matcher.Policy = "best_fit"
	}

	if cfg.Engine.TraderAddress == "" {
		cfg.Engine.TraderAddress = "0x0000000000000000000000000000000000000f59"
	}
	if cfg.Engine.ScanInterval == 0 {
		cfg.Engine.ScanInterval = 5 * time.Second
	}
	if cfg.Engine.SecuritizeInterval == 0 {
		cfg.Engine.SecuritizeInterval = time.Minute
	}
	if len(cfg.Engine.CycleTiers) == 0 {
		for _, tier := range cfg.Securitization.Tiers {
			cfg.Engine.CycleTiers = append(cfg.Engine.CycleTiers, tier.Rating)
		}
	}
	if cfg.Engine.MaxEventLog == 0 {
		cfg.Engine.MaxEventLog = 10_000
	}

	if cfg.Feed.Mode == "" {
		cfg.Feed.Mode = "simulated"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if len(cfg.Feed.Assets) == 0 {
		cfg.Feed.Assets = []string{"BTC", "ETH", "SOL"}
	}
	if cfg.Feed.BatchSize == 0 {
		cfg.Feed.BatchSize = 1
	}

	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}

	if cfg.Telegram.AlertsPerMinute == 0 {
		cfg.Telegram.AlertsPerMinute = 20
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func DefaultVenues() []VenueConfig {
	return []VenueConfig{
		{Name: "binance", DepthShare: 0.35, FeeRate: 0.0004},
		{Name: "bybit", DepthShare: 0.25, FeeRate: 0.00055},
		{Name: "okx", DepthShare: 0.2, FeeRate: 0.0005},
		{Name: "hyperliquid", DepthShare: 0.2, FeeRate: 0.00035},
	}
}

// DefaultTiers is ordered best to worst; admission loosens down the table.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Rating: "AAA", MaxLeverage: 5, MaxMultiplier: 2, MinPositionUSD: 100_000, BaseYield: 0.04, MinPurchaseUSD: 1_000_000},
		{Rating: "AA", MaxLeverage: 10, MaxMultiplier: 3, MinPositionUSD: 50_000, BaseYield: 0.055, MinPurchaseUSD: 500_000},
		{Rating: "A", MaxLeverage: 20, MaxMultiplier: 5, MinPositionUSD: 25_000, BaseYield: 0.07, MinPurchaseUSD: 250_000},
		{Rating: "BBB", MaxLeverage: 30, MaxMultiplier: 8, MinPositionUSD: 10_000, BaseYield: 0.09, MinPurchaseUSD: 100_000},
		{Rating: "BB", MaxLeverage: 50, MaxMultiplier: 12, MinPositionUSD: 5_000, BaseYield: 0.12, MinPurchaseUSD: 50_000},
		{Rating: "B", MaxLeverage: 75, MaxMultiplier: 20, MinPositionUSD: 1_000, BaseYield: 0.16, MinPurchaseUSD: 25_000},
		{Rating: "CCC", MaxLeverage: 150, MaxMultiplier: 50, MinPositionUSD: 0, BaseYield: 0.22, MinPurchaseUSD: 10_000},
	}
}

func DefaultBuyers() []BuyerConfig {
	return []BuyerConfig{
		{ID: "meridian-pension", Name: "Meridian Pension Fund", AcceptedRatings: []string{"AAA", "AA"}, MinYield: 0.04, MaxRiskScore: 3, CapitalUSD: 50_000_000},
		{ID: "northgate-insurance", Name: "Northgate Insurance", AcceptedRatings: []string{"AAA", "AA", "A"}, MinYield: 0.05, MaxRiskScore: 5, CapitalUSD: 25_000_000},
		{ID: "halcyon-credit", Name: "Halcyon Credit Partners", AcceptedRatings: []string{"A", "BBB", "BB"}, MinYield: 0.08, MaxRiskScore: 8, CapitalUSD: 15_000_000},
		{ID: "vanta-distressed", Name: "Vanta Distressed Opportunities", AcceptedRatings: []string{"BB", "B", "CCC"}, MinYield: 0.12, MaxRiskScore: 10, CapitalUSD: 10_000_000},
	}
}

func validate(cfg *Config) error {
	if err := validateSlippage(cfg.Slippage); err != nil {
		return err
	}
	if err := validateParadox(cfg.Paradox); err != nil {
		return err
	}
	if err := ValidateBreaker(cfg.Breaker); err != nil {
		return err
	}
	if err := validateMinting(cfg.Minting); err != nil {
		return err
	}
	if err := validateLedger(cfg.Ledger); err != nil {
		return err
	}
	if err := ValidateTiers(cfg.Securitization); err != nil {
		return err
	}
	if err := ValidateBuyers(cfg.Buyers, cfg.Securitization.Tiers); err != nil {
		return err
	}
	switch cfg.Matcher.Policy {
	case "random", "best_fit":
	default:
		return invalid("matcher.policy must be random or best_fit, got %q", cfg.Matcher.Policy)
	}
	known := tierSet(cfg.Securitization.Tiers)
	for _, rating := range cfg.Engine.CycleTiers {
		if _, ok := known[rating]; !ok {
			return invalid("engine.cycle_tiers references unknown rating %q", rating)
		}
	}
	if cfg.Engine.ScanInterval < 0 || cfg.Engine.SecuritizeInterval < 0 {
		return invalid("engine intervals must be >= 0")
	}
	switch cfg.Feed.Mode {
	case "simulated", "none":
	case "websocket":
		if strings.TrimSpace(cfg.Feed.URL) == "" {
			return invalid("feed.url is required for websocket mode")
		}
	default:
		return invalid("feed.mode must be simulated, websocket or none, got %q", cfg.Feed.Mode)
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return invalid("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func validateSlippage(cfg SlippageConfig) error {
	if cfg.FloorPctValue() < 0 {
		return invalid("slippage.floor_pct must be >= 0")
	}
	if cfg.MinMarketCapUSD <= 0 {
		return invalid("slippage.min_market_cap_usd must be > 0")
	}
	if cfg.NoiseMin <= 0 || cfg.NoiseMax < cfg.NoiseMin {
		return invalid("slippage noise bounds must satisfy 0 < noise_min <= noise_max")
	}
	seen := make(map[string]struct{}, len(cfg.Venues))
	for _, venue := range cfg.Venues {
		if strings.TrimSpace(venue.Name) == "" {
			return invalid("slippage venue name is required")
		}
		if _, ok := seen[venue.Name]; ok {
			return invalid("duplicate slippage venue %q", venue.Name)
		}
		seen[venue.Name] = struct{}{}
		if venue.DepthShare <= 0 {
			return invalid("slippage venue %q depth_share must be > 0", venue.Name)
		}
		if venue.FeeRate < 0 {
			return invalid("slippage venue %q fee_rate must be >= 0", venue.Name)
		}
	}
	return nil
}

func validateParadox(cfg ParadoxConfig) error {
	if cfg.BaselineLiquidityUSD <= 0 {
		return invalid("paradox.baseline_liquidity_usd must be > 0")
	}
	if cfg.Window <= 0 {
		return invalid("paradox.window must be > 0")
	}
	if cfg.Normalization <= 0 {
		return invalid("paradox.normalization must be > 0")
	}
	if threshold := cfg.FeedbackThresholdValue(); threshold < 0 || threshold > 1 {
		return invalid("paradox.feedback_threshold must be within [0,1]")
	}
	if cfg.FeedbackMultiplier < 0 {
		return invalid("paradox.feedback_multiplier must be >= 0")
	}
	return nil
}

// ValidateBreaker is exported so the breaker can reject hand-built configs.
func ValidateBreaker(cfg BreakerConfig) error {
	if cfg.Window <= 0 {
		return invalid("breaker.window must be > 0")
	}
	if cfg.BaselineRatePerMin <= 0 {
		return invalid("breaker.baseline_rate_per_min must be > 0")
	}
	if cfg.Multiplier <= 0 {
		return invalid("breaker.multiplier must be > 0")
	}
	if threshold := cfg.ParadoxThresholdValue(); threshold < 0 || threshold > 100 {
		return invalid("breaker.paradox_threshold must be within [0,100]")
	}
	return nil
}

func validateMinting(cfg MintingConfig) error {
	if cfg.CapMultiple < 1 {
		return invalid("minting.cap_multiple must be >= 1")
	}
	if cfg.SeverityDivisor <= 0 || cfg.SizeNormalizerUSD <= 0 {
		return invalid("minting divisors must be > 0")
	}
	if cfg.SizeFactorCap < 0 || cfg.ConcentrationNumerator < 0 {
		return invalid("minting factors must be >= 0")
	}
	return nil
}

func validateLedger(cfg LedgerConfig) error {
	switch cfg.SideFilter {
	case "any", "long", "short":
	default:
		return invalid("ledger.side_filter must be any, long or short, got %q", cfg.SideFilter)
	}
	if cfg.OverleveragedLeverage < 0 || cfg.CascadeLeverage < 0 {
		return invalid("ledger leverage thresholds must be >= 0")
	}
	return nil
}

// ValidateTiers checks the rating table is non-empty, unique and ordered from
// tightest to loosest admission.
func ValidateTiers(cfg SecuritizationConfig) error {
	if len(cfg.Tiers) == 0 {
		return invalid("securitization.tiers must not be empty")
	}
	if cfg.PremiumPerPoint < 0 {
		return invalid("securitization.premium_per_point must be >= 0")
	}
	if cfg.MaxYield <= 0 {
		return invalid("securitization.max_yield must be > 0")
	}
	if cfg.MaxRiskScore <= 0 {
		return invalid("securitization.max_risk_score must be > 0")
	}
	if cfg.TargetUSD < 0 {
		return invalid("securitization.target_usd must be >= 0")
	}
	seen := make(map[string]struct{}, len(cfg.Tiers))
	for i, tier := range cfg.Tiers {
		rating := strings.TrimSpace(tier.Rating)
		if rating == "" {
			return invalid("securitization tier %d rating is required", i)
		}
		if _, ok := seen[rating]; ok {
			return invalid("duplicate securitization tier %q", rating)
		}
		seen[rating] = struct{}{}
		if tier.MaxLeverage <= 0 || tier.MaxMultiplier <= 0 {
			return invalid("tier %s limits must be > 0", rating)
		}
		if tier.MinPositionUSD < 0 || tier.MinPurchaseUSD < 0 || tier.BaseYield < 0 {
			return invalid("tier %s values must be >= 0", rating)
		}
		if tier.BaseYield > cfg.MaxYield {
			return invalid("tier %s base_yield exceeds max_yield", rating)
		}
		if i == 0 {
			continue
		}
		prev := cfg.Tiers[i-1]
		if tier.MaxLeverage < prev.MaxLeverage || tier.MaxMultiplier < prev.MaxMultiplier || tier.MinPositionUSD > prev.MinPositionUSD {
			return invalid("tier %s is tighter than %s; tiers must be ordered best to worst", rating, prev.Rating)
		}
	}
	return nil
}

func ValidateBuyers(buyers []BuyerConfig, tiers []TierConfig) error {
	known := tierSet(tiers)
	seen := make(map[string]struct{}, len(buyers))
	for _, buyer := range buyers {
		id := strings.TrimSpace(buyer.ID)
		if id == "" {
			return invalid("buyer id is required")
		}
		if _, ok := seen[id]; ok {
			return invalid("duplicate buyer %q", id)
		}
		seen[id] = struct{}{}
		if len(buyer.AcceptedRatings) == 0 {
			return invalid("buyer %s must accept at least one rating", id)
		}
		for _, rating := range buyer.AcceptedRatings {
			if _, ok := known[rating]; !ok {
				return invalid("buyer %s accepts unknown rating %q", id, rating)
			}
		}
		if buyer.CapitalUSD < 0 || buyer.MinYield < 0 || buyer.MaxRiskScore < 0 {
			return invalid("buyer %s values must be >= 0", id)
		}
	}
	return nil
}

func tierSet(tiers []TierConfig) map[string]struct{} {
	out := make(map[string]struct{}, len(tiers))
	for _, tier := range tiers {
		out[tier.Rating] = struct{}{}
	}
	return out
}

// Float64 returns a pointer for optional settings where zero is meaningful.
func Float64(v float64) *float64 {
	return &v
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
