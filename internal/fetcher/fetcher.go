package fetcher

import (
	"context"

	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
)

// BTCPriceFetcher retrieves the current BTC spot price in USD.
type BTCPriceFetcher interface {
	FetchBTCPriceUSD(ctx context.Context) (decimal.Decimal, error)
}

// OnChainFetcher retrieves the latest on-chain metric bundle, derived from
// a short lookback window of each series.
type OnChainFetcher interface {
	FetchOnChain(ctx context.Context, lookbackDays int) (alert.OnChainMetrics, error)
}
