package alert

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CompanyMetrics bundles the run-scoped inputs a company rule is evaluated
// against. Pointers are nil when the figure is not currently available.
type CompanyMetrics struct {
	Price        *decimal.Decimal // local trading currency
	PrevClose    *decimal.Decimal
	MNAV         *decimal.Decimal
	Holdings     *decimal.Decimal
	PrevHoldings *decimal.Decimal
}

// OnChainMetrics is the shared snapshot global rules compare against.
// FundingRate is a decimal fraction (0.0105 means 1.05%).
type OnChainMetrics struct {
	FearGreed     decimal.Decimal
	MVRVZScore    decimal.Decimal
	NUPL          decimal.Decimal
	FundingRate   decimal.Decimal
	BTCPriceUSD   decimal.Decimal
	Premium200WMA decimal.Decimal
}

// Decision is the outcome of evaluating one rule. Skip means the rule could
// not be computed with the data at hand; the caller treats that as neither
// fired nor an error.
type Decision struct {
	Fire     bool
	Skip     bool
	Observed decimal.Decimal
	Previous *decimal.Decimal
	Label    string
}

func skip() Decision { return Decision{Skip: true} }

// EvaluateCompany applies a per-company rule to the metrics snapshot.
// A rule whose company has no current quote is skipped, except the mnav
// kinds which evaluate whatever valuation figure is available.
func EvaluateCompany(rule Rule, m CompanyMetrics) (Decision, error) {
	switch rule.Kind {
	case KindPriceAbove, KindPriceBelow:
		if m.Price == nil {
			return skip(), nil
		}
		threshold, err := absoluteThreshold(rule)
		if err != nil {
			return Decision{}, err
		}
		fire := m.Price.GreaterThan(threshold)
		if rule.Kind == KindPriceBelow {
			fire = m.Price.LessThan(threshold)
		}
		return Decision{Fire: fire, Observed: *m.Price, Label: "stock price"}, nil

	case KindMNAVAbove, KindMNAVBelow:
		if m.MNAV == nil {
			return skip(), nil
		}
		threshold, err := absoluteThreshold(rule)
		if err != nil {
			return Decision{}, err
		}
		fire := m.MNAV.GreaterThan(threshold)
		if rule.Kind == KindMNAVBelow {
			fire = m.MNAV.LessThan(threshold)
		}
		return Decision{Fire: fire, Observed: *m.MNAV, Label: "mNAV"}, nil

	case KindBTCHoldings:
		if m.Holdings == nil || m.PrevHoldings == nil {
			return skip(), nil
		}
		// Fires on any change; direction is informational only.
		return Decision{
			Fire:     !m.Holdings.Equal(*m.PrevHoldings),
			Observed: *m.Holdings,
			Previous: m.PrevHoldings,
			Label:    "BTC holdings",
		}, nil

	case KindPctChangeUp, KindPctChangeDown:
		if m.Price == nil || m.PrevClose == nil || m.PrevClose.IsZero() {
			return skip(), nil
		}
		if rule.ThresholdPercent == nil {
			return Decision{}, fmt.Errorf("rule %d (%s): threshold_percent not set", rule.ID, rule.Kind)
		}
		change := m.Price.Sub(*m.PrevClose).Div(*m.PrevClose).Mul(hundred)
		fire := change.GreaterThan(*rule.ThresholdPercent)
		if rule.Kind == KindPctChangeDown {
			// Down thresholds are stored signed, typically negative.
			fire = change.LessThan(*rule.ThresholdPercent)
		}
		return Decision{Fire: fire, Observed: change, Label: "price change %"}, nil
	}

	if rule.Kind.Global() {
		return Decision{}, fmt.Errorf("rule %d: global kind %s passed to company evaluator", rule.ID, rule.Kind)
	}
	return Decision{}, fmt.Errorf("rule %d: unhandled rule kind %q", rule.ID, rule.Kind)
}

// EvaluateGlobal applies an on-chain rule to the shared metrics snapshot.
// The digest kind always fires; its cadence is enforced by the cooldown
// gate, not by a comparison.
func EvaluateGlobal(rule Rule, m OnChainMetrics) (Decision, error) {
	switch rule.Kind {
	case KindFearGreedAbove, KindFearGreedBelow:
		return compareGlobal(rule, m.FearGreed, rule.Kind == KindFearGreedAbove, "fear & greed index")

	case KindMVRVAbove, KindMVRVBelow:
		return compareGlobal(rule, m.MVRVZScore, rule.Kind == KindMVRVAbove, "MVRV Z-score")

	case KindNUPLAbove, KindNUPLBelow:
		return compareGlobal(rule, m.NUPL, rule.Kind == KindNUPLAbove, "NUPL")

	case KindFundingRateAbove, KindFundingRateBelow:
		threshold, err := absoluteThreshold(rule)
		if err != nil {
			return Decision{}, err
		}
		// Thresholds are entered as percentages; the metric is a fraction.
		threshold = threshold.Div(hundred)
		fire := m.FundingRate.GreaterThan(threshold)
		if rule.Kind == KindFundingRateBelow {
			fire = m.FundingRate.LessThan(threshold)
		}
		return Decision{Fire: fire, Observed: m.FundingRate, Label: "funding rate"}, nil

	case KindOnChainDigest:
		return Decision{Fire: true, Observed: m.BTCPriceUSD, Label: "daily digest"}, nil
	}

	if !rule.Kind.Global() && rule.Kind.Valid() {
		return Decision{}, fmt.Errorf("rule %d: company kind %s passed to global evaluator", rule.ID, rule.Kind)
	}
	return Decision{}, fmt.Errorf("rule %d: unhandled rule kind %q", rule.ID, rule.Kind)
}

func compareGlobal(rule Rule, observed decimal.Decimal, above bool, label string) (Decision, error) {
	threshold, err := absoluteThreshold(rule)
	if err != nil {
		return Decision{}, err
	}
	fire := observed.GreaterThan(threshold)
	if !above {
		fire = observed.LessThan(threshold)
	}
	return Decision{Fire: fire, Observed: observed, Label: label}, nil
}

func absoluteThreshold(rule Rule) (decimal.Decimal, error) {
	if rule.Threshold == nil {
		return decimal.Decimal{}, fmt.Errorf("rule %d (%s): threshold not set", rule.ID, rule.Kind)
	}
	return *rule.Threshold, nil
}
