package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
	"treasury-alerts/internal/alerting"
	"treasury-alerts/internal/fetcher"
	"treasury-alerts/internal/storage"
	"treasury-alerts/internal/valuation"
)

// Summary is the run report and the only contract external callers depend
// on. Checked counts rules actually evaluated (data-missing skips are not
// counted), Triggered counts firings regardless of delivery outcome, and
// Errors lists per-rule failures that did not abort the run.
type Summary struct {
	Checked   int
	Triggered int
	Errors    []string
}

// MessageSender is the dispatch boundary. Implementations never return a Go
// error; failures are captured in the Delivery.
type MessageSender interface {
	Send(ctx context.Context, channel alert.Channel, destination string, msg alerting.Message) alerting.Delivery
}

// Options tune one engine instance.
type Options struct {
	LookbackDays int
}

// Engine scans all active rules once per invocation: snapshot the metric
// inputs, evaluate each rule inside its own failure boundary, and fire the
// ones whose condition holds and whose cooldown has elapsed.
type Engine struct {
	rules      storage.RuleStore
	events     storage.EventStore
	market     storage.MarketDataStore
	btcPrice   fetcher.BTCPriceFetcher
	onChain    fetcher.OnChainFetcher
	dispatcher MessageSender
	logger     zerolog.Logger
	opts       Options

	now func() time.Time
}

// New constructs an engine. All collaborators are injected; the engine
// holds no ambient state.
func New(
	rules storage.RuleStore,
	events storage.EventStore,
	market storage.MarketDataStore,
	btcPrice fetcher.BTCPriceFetcher,
	onChain fetcher.OnChainFetcher,
	dispatcher MessageSender,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 7
	}
	return &Engine{
		rules:      rules,
		events:     events,
		market:     market,
		btcPrice:   btcPrice,
		onChain:    onChain,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "engine").Logger(),
		opts:       opts,
		now:        time.Now,
	}
}

// snapshot holds the run-scoped metric inputs, fetched once so every rule
// in a run sees the same values.
type snapshot struct {
	btcUSD     decimal.Decimal
	companies  map[int64]alert.Company
	quotes     map[int64]alert.StockQuote
	fx         map[string]alert.FxRate
	onChain    alert.OnChainMetrics
	hasOnChain bool
}

// RunOnce executes one full scan. A failure to load rules or metric
// snapshots aborts the whole run; everything after that point is isolated
// per rule.
func (e *Engine) RunOnce(ctx context.Context) (Summary, error) {
	start := e.now()

	rules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load active rules: %w", err)
	}

	var companyRules, globalRules []alert.Rule
	for _, rule := range rules {
		if rule.Kind.Global() {
			globalRules = append(globalRules, rule)
		} else {
			companyRules = append(companyRules, rule)
		}
	}

	snap, err := e.loadSnapshot(ctx, len(companyRules) > 0, len(globalRules) > 0)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{}
	for _, rule := range companyRules {
		e.processCompanyRule(ctx, rule, snap, &summary)
	}
	for _, rule := range globalRules {
		e.processGlobalRule(ctx, rule, snap, &summary)
	}

	e.logger.Info().
		Int("checked", summary.Checked).
		Int("triggered", summary.Triggered).
		Int("errors", len(summary.Errors)).
		Dur("elapsed", e.now().Sub(start)).
		Msg("alert run complete")

	return summary, nil
}

func (e *Engine) loadSnapshot(ctx context.Context, needCompany, needGlobal bool) (snapshot, error) {
	snap := snapshot{
		companies: make(map[int64]alert.Company),
		quotes:    make(map[int64]alert.StockQuote),
		fx:        make(map[string]alert.FxRate),
	}

	if needCompany {
		btcUSD, err := e.btcPrice.FetchBTCPriceUSD(ctx)
		if err != nil {
			return snapshot{}, fmt.Errorf("load btc price: %w", err)
		}
		snap.btcUSD = btcUSD

		companies, err := e.market.ListCompanies(ctx)
		if err != nil {
			return snapshot{}, fmt.Errorf("load companies: %w", err)
		}
		for _, c := range companies {
			snap.companies[c.ID] = c
		}

		if snap.quotes, err = e.market.LatestStockPrices(ctx); err != nil {
			return snapshot{}, fmt.Errorf("load stock prices: %w", err)
		}
		if snap.fx, err = e.market.LatestFxRates(ctx); err != nil {
			return snapshot{}, fmt.Errorf("load fx rates: %w", err)
		}
	}

	if needGlobal {
		onChain, err := e.onChain.FetchOnChain(ctx, e.opts.LookbackDays)
		if err != nil {
			return snapshot{}, fmt.Errorf("load on-chain metrics: %w", err)
		}
		snap.onChain = onChain
		snap.hasOnChain = true
	}

	return snap, nil
}

func (e *Engine) processCompanyRule(ctx context.Context, rule alert.Rule, snap snapshot, summary *Summary) {
	if rule.CompanyID == nil {
		// Dangling reference; neither a firing nor an error.
		e.logger.Warn().Int64("rule_id", rule.ID).Msg("company rule without company; skipping")
		return
	}
	company, ok := snap.companies[*rule.CompanyID]
	if !ok {
		e.logger.Warn().Int64("rule_id", rule.ID).Int64("company_id", *rule.CompanyID).
			Msg("rule references unknown company; skipping")
		return
	}

	label := company.Ticker
	e.guard(label, summary, func() error {
		metrics, inputs := e.companyMetrics(company, snap)

		decision, err := alert.EvaluateCompany(rule, metrics)
		if err != nil {
			return err
		}
		if decision.Skip {
			return nil
		}
		summary.Checked++

		if !decision.Fire {
			return nil
		}
		fired, err := e.fire(ctx, rule, decision, fireMeta{
			ticker:    company.Ticker,
			companyID: rule.CompanyID,
			inputs:    inputs,
		})
		if fired {
			summary.Triggered++
		}
		return err
	})
}

func (e *Engine) processGlobalRule(ctx context.Context, rule alert.Rule, snap snapshot, summary *Summary) {
	label := fmt.Sprintf("rule %d", rule.ID)
	e.guard(label, summary, func() error {
		if !snap.hasOnChain {
			return fmt.Errorf("on-chain snapshot not loaded")
		}
		meta := fireMeta{
			onChain: &snap.onChain,
			inputs:  onChainInputs(snap.onChain),
		}

		// The digest is a scheduled broadcast, not a condition; it fires
		// whenever its cooldown has elapsed and never reaches the
		// comparison branch below.
		if rule.Kind == alert.KindOnChainDigest {
			summary.Checked++
			fired, err := e.fire(ctx, rule, alert.Decision{
				Fire:     true,
				Observed: snap.onChain.BTCPriceUSD,
				Label:    "daily digest",
			}, meta)
			if fired {
				summary.Triggered++
			}
			return err
		}

		decision, err := alert.EvaluateGlobal(rule, snap.onChain)
		if err != nil {
			return err
		}
		summary.Checked++

		if !decision.Fire {
			return nil
		}
		fired, err := e.fire(ctx, rule, decision, meta)
		if fired {
			summary.Triggered++
		}
		return err
	})
}

// guard runs one rule inside its own failure boundary: a panic or error is
// converted into a labeled entry in the run's error list and never stops
// the batch.
func (e *Engine) guard(label string, summary *Summary, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: panic: %v", label, r))
			e.logger.Error().Str("rule", label).Interface("panic", r).Msg("rule processing panicked")
		}
	}()

	if err := fn(); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", label, err))
		e.logger.Error().Err(err).Str("rule", label).Msg("rule processing failed")
	}
}

// fireMeta carries rendering and audit context into the fire step.
type fireMeta struct {
	ticker    string
	companyID *int64
	onChain   *alert.OnChainMetrics
	inputs    map[string]string
}

// fire performs the terminal step for a rule whose condition holds: check
// the cooldown gate, render, dispatch, append the firing event, then update
// the rule's trigger state. The event insert happens before the rule update
// so a crash between the two re-fires rather than losing history.
func (e *Engine) fire(ctx context.Context, rule alert.Rule, decision alert.Decision, meta fireMeta) (bool, error) {
	now := e.now().UTC()

	if alert.Suppressed(rule.LastTriggeredAt, rule.CooldownMinutes, now) {
		// Expected outcome, not an error; nothing is recorded.
		e.logger.Debug().Int64("rule_id", rule.ID).Msg("firing suppressed by cooldown")
		return false, nil
	}
	if rule.Status != alert.StatusActive {
		return false, nil
	}

	msg := alerting.Render(alerting.Event{
		Rule:     rule,
		Decision: decision,
		Ticker:   meta.ticker,
		OnChain:  meta.onChain,
	}, rule.Channel)

	delivery := e.dispatcher.Send(ctx, rule.Channel, rule.Destination, msg)
	if !delivery.Sent {
		e.logger.Warn().Int64("rule_id", rule.ID).Str("error", delivery.Error).
			Msg("notification delivery failed")
	}

	contextBlob, err := json.Marshal(meta.inputs)
	if err != nil {
		return false, fmt.Errorf("marshal firing context: %w", err)
	}

	event := alert.FiringEvent{
		RuleID:           rule.ID,
		UserID:           rule.UserID,
		CompanyID:        meta.companyID,
		Kind:             rule.Kind,
		Threshold:        rule.Threshold,
		ThresholdPercent: rule.ThresholdPercent,
		Observed:         decision.Observed,
		Previous:         decision.Previous,
		Channel:          rule.Channel,
		Sent:             delivery.Sent,
		Context:          contextBlob,
		Title:            msg.Title,
		Body:             msg.Body,
		TriggeredAt:      now,
	}
	if delivery.Error != "" {
		event.SendError = &delivery.Error
	}

	if _, err := e.events.InsertFiringEvent(ctx, event); err != nil {
		return false, fmt.Errorf("record firing event: %w", err)
	}

	status := alert.StatusActive
	if !rule.Repeating {
		status = alert.StatusTriggered
	}
	if err := e.rules.UpdateRuleAfterFiring(ctx, rule.ID, now, status); err != nil {
		// The event is already durable; surface the stats failure.
		return true, fmt.Errorf("update rule after firing: %w", err)
	}

	return true, nil
}

// companyMetrics assembles the evaluation inputs for one company from the
// run snapshot, including the derived valuation.
func (e *Engine) companyMetrics(company alert.Company, snap snapshot) (alert.CompanyMetrics, map[string]string) {
	metrics := alert.CompanyMetrics{
		Holdings:     &company.BTCHoldings,
		PrevHoldings: company.PrevBTCHoldings,
	}

	inputs := map[string]string{
		"btc_price_usd": snap.btcUSD.String(),
		"currency":      company.Currency,
	}

	if quote, ok := snap.quotes[company.ID]; ok {
		price := quote.Price
		metrics.Price = &price
		metrics.PrevClose = quote.PrevClose
		inputs["price"] = price.String()
		if quote.PrevClose != nil {
			inputs["prev_close"] = quote.PrevClose.String()
		}
	}

	fxToUSD := fxToUSDRate(company.Currency, snap.fx)
	if fxToUSD != nil {
		inputs["fx_to_usd"] = fxToUSD.String()
	}

	val := valuation.Compute(valuation.Inputs{
		Company: company,
		Price:   metrics.Price,
		FxToUSD: fxToUSD,
		BTCUSD:  snap.btcUSD,
	})
	if val.HasMNAV {
		mnav := val.MNAV
		metrics.MNAV = &mnav
		inputs["mnav"] = mnav.String()
		inputs["market_cap_usd"] = val.MarketCapUSD.String()
	}

	inputs["btc_holdings"] = company.BTCHoldings.String()
	if company.PrevBTCHoldings != nil {
		inputs["prev_btc_holdings"] = company.PrevBTCHoldings.String()
	}

	return metrics, inputs
}

var one = decimal.NewFromInt(1)

func fxToUSDRate(currency string, fx map[string]alert.FxRate) *decimal.Decimal {
	if currency == "" || currency == "USD" {
		rate := one
		return &rate
	}
	if r, ok := fx[currency]; ok {
		rate := r.RateToUSD
		return &rate
	}
	return nil
}

func onChainInputs(m alert.OnChainMetrics) map[string]string {
	return map[string]string{
		"fear_greed":     m.FearGreed.String(),
		"mvrv_zscore":    m.MVRVZScore.String(),
		"nupl":           m.NUPL.String(),
		"funding_rate":   m.FundingRate.String(),
		"btc_price_usd":  m.BTCPriceUSD.String(),
		"premium_200wma": m.Premium200WMA.String(),
	}
}
