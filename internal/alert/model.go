package alert

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the condition a rule evaluates. The set is closed; the
// evaluator rejects anything outside it.
type Kind string

const (
	// Per-company kinds.
	KindPriceAbove    Kind = "price_above"
	KindPriceBelow    Kind = "price_below"
	KindMNAVAbove     Kind = "mnav_above"
	KindMNAVBelow     Kind = "mnav_below"
	KindBTCHoldings   Kind = "btc_holdings"
	KindPctChangeUp   Kind = "pct_change_up"
	KindPctChangeDown Kind = "pct_change_down"

	// Global on-chain kinds.
	KindFearGreedAbove   Kind = "fear_greed_above"
	KindFearGreedBelow   Kind = "fear_greed_below"
	KindMVRVAbove        Kind = "mvrv_above"
	KindMVRVBelow        Kind = "mvrv_below"
	KindNUPLAbove        Kind = "nupl_above"
	KindNUPLBelow        Kind = "nupl_below"
	KindFundingRateAbove Kind = "funding_rate_above"
	KindFundingRateBelow Kind = "funding_rate_below"
	KindOnChainDigest    Kind = "onchain_daily_digest"
)

var kinds = map[Kind]bool{
	KindPriceAbove: true, KindPriceBelow: true,
	KindMNAVAbove: true, KindMNAVBelow: true,
	KindBTCHoldings:   true,
	KindPctChangeUp:   true,
	KindPctChangeDown: true,
	KindFearGreedAbove: true, KindFearGreedBelow: true,
	KindMVRVAbove: true, KindMVRVBelow: true,
	KindNUPLAbove: true, KindNUPLBelow: true,
	KindFundingRateAbove: true, KindFundingRateBelow: true,
	KindOnChainDigest: true,
}

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool { return kinds[k] }

// Global reports whether k evaluates against shared on-chain metrics rather
// than a specific company.
func (k Kind) Global() bool {
	switch k {
	case KindFearGreedAbove, KindFearGreedBelow,
		KindMVRVAbove, KindMVRVBelow,
		KindNUPLAbove, KindNUPLBelow,
		KindFundingRateAbove, KindFundingRateBelow,
		KindOnChainDigest:
		return true
	}
	return false
}

// Percentage reports whether k compares against ThresholdPercent instead of
// the absolute Threshold.
func (k Kind) Percentage() bool {
	return k == KindPctChangeUp || k == KindPctChangeDown
}

// Channel is a delivery provider family.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelSlack    Channel = "slack"
	ChannelEmail    Channel = "email"
)

// Status is the rule lifecycle state. Only active rules are evaluated.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusTriggered Status = "triggered"
	StatusExpired   Status = "expired"
)

// Rule is a user-configured alert condition. Threshold and ThresholdPercent
// are mutually exclusive by kind family: absolute kinds use Threshold,
// percentage kinds use ThresholdPercent, the digest uses neither.
type Rule struct {
	ID        int64
	UserID    int64
	CompanyID *int64

	Kind             Kind
	Threshold        *decimal.Decimal
	ThresholdPercent *decimal.Decimal

	Channel     Channel
	Destination string // per-rule chat id or webhook URL; empty falls back to defaults

	Repeating       bool
	CooldownMinutes int // 0 means no suppression

	Status          Status
	LastTriggeredAt *time.Time
	TriggerCount    int64

	Label       string
	Description string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// FiringEvent is the append-only audit record of one firing. Exactly one is
// written per evaluation that passes the cooldown gate and its condition,
// whatever the delivery outcome.
type FiringEvent struct {
	ID        int64
	RuleID    int64
	UserID    int64
	CompanyID *int64

	Kind             Kind
	Threshold        *decimal.Decimal
	ThresholdPercent *decimal.Decimal
	Observed         decimal.Decimal
	Previous         *decimal.Decimal

	Channel   Channel
	Sent      bool
	SendError *string

	Context json.RawMessage
	Title   string
	Body    string

	TriggeredAt time.Time
}

// Company carries the treasury figures a company rule is evaluated against.
// Scrapers maintain these rows; the engine reads them.
type Company struct {
	ID                int64
	Ticker            string
	Name              string
	Currency          string
	BTCHoldings       decimal.Decimal
	PrevBTCHoldings   *decimal.Decimal
	SharesOutstanding decimal.Decimal
	MarketCapUSD      *decimal.Decimal
	CashUSD           decimal.Decimal
	DebtUSD           decimal.Decimal
	PreferredUSD      decimal.Decimal
}

// StockQuote is the latest known price for a company in its trading currency.
type StockQuote struct {
	CompanyID int64
	Price     decimal.Decimal
	PrevClose *decimal.Decimal
	AsOf      time.Time
}

// FxRate converts a trading currency to and from USD.
type FxRate struct {
	Currency    string
	RateToUSD   decimal.Decimal
	RateFromUSD decimal.Decimal
	AsOf        time.Time
}
