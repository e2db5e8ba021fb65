package valuation

import (
	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
)

// Inputs feed one valuation computation. Price and FxToUSD are nil when no
// current quote exists for the company; the calculator then falls back to
// the last stored USD market cap.
type Inputs struct {
	Company alert.Company
	Price   *decimal.Decimal // local trading currency
	FxToUSD *decimal.Decimal // 1 unit of local currency in USD
	BTCUSD  decimal.Decimal
}

// Snapshot is the derived valuation used by the mnav rule kinds.
type Snapshot struct {
	MarketCapUSD     decimal.Decimal
	HoldingsValueUSD decimal.Decimal
	EnterpriseUSD    decimal.Decimal
	MNAV             decimal.Decimal
	HasMNAV          bool
}

// Compute derives the valuation snapshot. mNAV is
// (marketCapUSD + debtUSD + preferredUSD - cashUSD) / (holdings * btcPriceUSD),
// undefined when holdings or the BTC price is zero or no market cap can be
// established.
func Compute(in Inputs) Snapshot {
	snap := Snapshot{}

	marketCap, ok := marketCapUSD(in)
	if !ok {
		return snap
	}
	snap.MarketCapUSD = marketCap
	snap.EnterpriseUSD = marketCap.
		Add(in.Company.DebtUSD).
		Add(in.Company.PreferredUSD).
		Sub(in.Company.CashUSD)

	if in.Company.BTCHoldings.IsZero() || in.BTCUSD.IsZero() {
		return snap
	}
	snap.HoldingsValueUSD = in.Company.BTCHoldings.Mul(in.BTCUSD)
	if snap.HoldingsValueUSD.IsZero() {
		return snap
	}

	snap.MNAV = snap.EnterpriseUSD.Div(snap.HoldingsValueUSD)
	snap.HasMNAV = true
	return snap
}

func marketCapUSD(in Inputs) (decimal.Decimal, bool) {
	if in.Price != nil && in.FxToUSD != nil && !in.Company.SharesOutstanding.IsZero() {
		return in.Price.Mul(in.Company.SharesOutstanding).Mul(*in.FxToUSD), true
	}
	if in.Company.MarketCapUSD != nil {
		return *in.Company.MarketCapUSD, true
	}
	return decimal.Decimal{}, false
}
