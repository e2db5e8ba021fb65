package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
)

// OnChainOptions parameterise the on-chain metrics fetcher.
type OnChainOptions struct {
	FearGreedURL   string // alternative.me-compatible index endpoint
	MetricsBaseURL string // bitcoin-data-compatible series API
	Timeout        time.Duration
	UserAgent      string
}

// OnChain aggregates the global metric bundle from two public APIs. Each
// series is fetched over a short lookback window and reduced to its latest
// point so every global rule in a run sees the same snapshot.
type OnChain struct {
	opts       OnChainOptions
	logger     zerolog.Logger
	client     *http.Client
	fngURL     string
	metricsURL string
}

// NewOnChain constructs an on-chain metrics fetcher.
func NewOnChain(opts OnChainOptions, logger zerolog.Logger) *OnChain {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	fngURL := strings.TrimRight(opts.FearGreedURL, "/")
	if fngURL == "" {
		fngURL = "https://api.alternative.me/fng/"
	}

	metricsURL := strings.TrimRight(opts.MetricsBaseURL, "/")
	if metricsURL == "" {
		metricsURL = "https://bitcoin-data.com/v1"
	}

	return &OnChain{
		opts:       opts,
		logger:     logger.With().Str("component", "onchain_fetcher").Logger(),
		client:     &http.Client{Timeout: timeout},
		fngURL:     fngURL,
		metricsURL: metricsURL,
	}
}

// FetchOnChain retrieves the full metric bundle. Any unreachable series is
// a hard error; the caller decides whether a run can proceed without it.
func (o *OnChain) FetchOnChain(ctx context.Context, lookbackDays int) (alert.OnChainMetrics, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	var m alert.OnChainMetrics
	var err error

	if m.FearGreed, err = o.fetchFearGreed(ctx, lookbackDays); err != nil {
		return alert.OnChainMetrics{}, err
	}
	if m.MVRVZScore, err = o.fetchLatest(ctx, "mvrv-zscore", "mvrvZscore", lookbackDays); err != nil {
		return alert.OnChainMetrics{}, err
	}
	if m.NUPL, err = o.fetchLatest(ctx, "nupl", "nupl", lookbackDays); err != nil {
		return alert.OnChainMetrics{}, err
	}
	if m.FundingRate, err = o.fetchLatest(ctx, "funding-rates", "fundingRate", lookbackDays); err != nil {
		return alert.OnChainMetrics{}, err
	}
	if m.BTCPriceUSD, err = o.fetchLatest(ctx, "btc-price", "btcPrice", lookbackDays); err != nil {
		return alert.OnChainMetrics{}, err
	}

	ma, err := o.fetchLatest(ctx, "200wma", "ma200w", lookbackDays)
	if err != nil {
		return alert.OnChainMetrics{}, err
	}
	if !ma.IsZero() {
		m.Premium200WMA = m.BTCPriceUSD.Sub(ma).Div(ma).Mul(decimal.NewFromInt(100))
	}

	o.logger.Debug().
		Str("fear_greed", m.FearGreed.String()).
		Str("mvrv_z", m.MVRVZScore.String()).
		Str("nupl", m.NUPL.String()).
		Str("funding_rate", m.FundingRate.String()).
		Msg("fetched on-chain metrics")

	return m, nil
}

type fngResponse struct {
	Data []struct {
		Value string `json:"value"`
	} `json:"data"`
}

func (o *OnChain) fetchFearGreed(ctx context.Context, lookbackDays int) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/?limit=%d", o.fngURL, lookbackDays)
	body, err := o.get(ctx, url)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fear & greed: %w", err)
	}
	defer body.Close()

	var payload fngResponse
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode fear & greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return decimal.Decimal{}, fmt.Errorf("fear & greed response has no data")
	}

	// The index API returns the newest point first.
	value, err := decimal.NewFromString(payload.Data[0].Value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse fear & greed value %q: %w", payload.Data[0].Value, err)
	}
	return value, nil
}

// fetchLatest pulls a metric series and returns the last point. The series
// API returns oldest-first arrays of objects keyed by a per-metric field.
func (o *OnChain) fetchLatest(ctx context.Context, endpoint, field string, lookbackDays int) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s?days=%d", o.metricsURL, endpoint, lookbackDays)
	body, err := o.get(ctx, url)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer body.Close()

	var series []map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&series); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if len(series) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%s series is empty", endpoint)
	}

	raw, ok := series[len(series)-1][field]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s series missing field %q", endpoint, field)
	}
	return parseRawNumber(raw, endpoint)
}

// parseRawNumber accepts both quoted and bare numeric JSON values, which
// the series API mixes freely across endpoints.
func parseRawNumber(raw json.RawMessage, endpoint string) (decimal.Decimal, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s value %q: %w", endpoint, s, err)
	}
	return value, nil
}

func (o *OnChain) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if o.opts.UserAgent != "" {
		req.Header.Set("User-Agent", o.opts.UserAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

var _ OnChainFetcher = (*OnChain)(nil)
