package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const spotPricePath = "/simple/price?ids=bitcoin&vs_currencies=usd"

// BTCPriceOptions parameterise the spot price fetcher.
type BTCPriceOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// BTCPrice fetches the BTC spot price from a CoinGecko-compatible API.
type BTCPrice struct {
	opts    BTCPriceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBTCPrice constructs a spot price fetcher.
func NewBTCPrice(opts BTCPriceOptions, logger zerolog.Logger) *BTCPrice {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &BTCPrice{
		opts:    opts,
		logger:  logger.With().Str("component", "btc_price_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchBTCPriceUSD retrieves the current spot price.
func (b *BTCPrice) FetchBTCPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+spotPricePath, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("create spot price request: %w", err)
	}
	if b.opts.UserAgent != "" {
		req.Header.Set("User-Agent", b.opts.UserAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch spot price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Decimal{}, fmt.Errorf("spot price API returned status %d", resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode spot price response: %w", err)
	}

	raw, ok := payload["bitcoin"]["usd"]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("spot price response missing bitcoin.usd")
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse spot price %q: %w", raw.String(), err)
	}
	if price.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("spot price API returned zero")
	}

	b.logger.Debug().Str("btc_usd", price.String()).Msg("fetched BTC spot price")
	return price, nil
}

var _ BTCPriceFetcher = (*BTCPrice)(nil)
