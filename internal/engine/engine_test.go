package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
	"treasury-alerts/internal/alerting"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// fakeStore implements the rule, event, and market-data store boundaries in
// memory and records the order of writes.
type fakeStore struct {
	rules     []alert.Rule
	companies []alert.Company
	quotes    map[int64]alert.StockQuote
	fx        map[string]alert.FxRate

	events []alert.FiringEvent
	ops    []string

	listRulesErr error
	insertErr    error
}

func (f *fakeStore) ListActiveRules(ctx context.Context) ([]alert.Rule, error) {
	if f.listRulesErr != nil {
		return nil, f.listRulesErr
	}
	active := make([]alert.Rule, 0, len(f.rules))
	for _, r := range f.rules {
		if r.Status == alert.StatusActive {
			active = append(active, r)
		}
	}
	return active, nil
}

func (f *fakeStore) UpdateRuleAfterFiring(ctx context.Context, ruleID int64, firedAt time.Time, status alert.Status) error {
	f.ops = append(f.ops, "update")
	for i := range f.rules {
		if f.rules[i].ID == ruleID {
			t := firedAt
			f.rules[i].LastTriggeredAt = &t
			f.rules[i].TriggerCount++
			f.rules[i].Status = status
		}
	}
	return nil
}

func (f *fakeStore) InsertFiringEvent(ctx context.Context, event alert.FiringEvent) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.ops = append(f.ops, "insert")
	f.events = append(f.events, event)
	return int64(len(f.events)), nil
}

func (f *fakeStore) ListRecentEvents(ctx context.Context, limit int) ([]alert.FiringEvent, error) {
	return f.events, nil
}

func (f *fakeStore) ListEventsBetween(ctx context.Context, from, to time.Time) ([]alert.FiringEvent, error) {
	return f.events, nil
}

func (f *fakeStore) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (f *fakeStore) ListCompanies(ctx context.Context) ([]alert.Company, error) {
	return f.companies, nil
}

func (f *fakeStore) LatestStockPrices(ctx context.Context) (map[int64]alert.StockQuote, error) {
	return f.quotes, nil
}

func (f *fakeStore) LatestFxRates(ctx context.Context) (map[string]alert.FxRate, error) {
	return f.fx, nil
}

type fakeBTC struct {
	price decimal.Decimal
}

func (f *fakeBTC) FetchBTCPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	return f.price, nil
}

type fakeOnChain struct {
	metrics alert.OnChainMetrics
	calls   int
}

func (f *fakeOnChain) FetchOnChain(ctx context.Context, lookbackDays int) (alert.OnChainMetrics, error) {
	f.calls++
	return f.metrics, nil
}

type sentMessage struct {
	channel     alert.Channel
	destination string
	msg         alerting.Message
}

type fakeSender struct {
	delivery alerting.Delivery
	sent     []sentMessage
	panicOn  string // panic when the message title contains this
}

func (f *fakeSender) Send(ctx context.Context, channel alert.Channel, destination string, msg alerting.Message) alerting.Delivery {
	if f.panicOn != "" && strings.Contains(msg.Title, f.panicOn) {
		panic("sender exploded")
	}
	f.sent = append(f.sent, sentMessage{channel: channel, destination: destination, msg: msg})
	return f.delivery
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(store *fakeStore, sender *fakeSender, onChain *fakeOnChain) *Engine {
	e := New(store, store, store,
		&fakeBTC{price: dec("100000")},
		onChain,
		sender,
		Options{LookbackDays: 7},
		zerolog.Nop(),
	)
	e.now = func() time.Time { return fixedNow }
	return e
}

func mstr() alert.Company {
	return alert.Company{
		ID:                1,
		Ticker:            "MSTR",
		Name:              "Strategy",
		Currency:          "USD",
		BTCHoldings:       dec("5000"),
		PrevBTCHoldings:   decPtr("5000"),
		SharesOutstanding: dec("1000000"),
		CashUSD:           dec("0"),
		DebtUSD:           dec("0"),
		PreferredUSD:      dec("0"),
	}
}

func priceBelowRule(id int64) alert.Rule {
	companyID := int64(1)
	return alert.Rule{
		ID:              id,
		UserID:          7,
		CompanyID:       &companyID,
		Kind:            alert.KindPriceBelow,
		Threshold:       decPtr("100"),
		Channel:         alert.ChannelTelegram,
		Repeating:       true,
		CooldownMinutes: 60,
		Status:          alert.StatusActive,
	}
}

func TestRunOnceEndToEndFireThenSuppress(t *testing.T) {
	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1)},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
		fx:        map[string]alert.FxRate{},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Checked != 1 || summary.Triggered != 1 || len(summary.Errors) != 0 {
		t.Fatalf("first run summary = %+v, want checked=1 triggered=1 errors=0", summary)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one firing event, got %d", len(store.events))
	}

	event := store.events[0]
	if !event.Observed.Equal(dec("95")) {
		t.Errorf("observed = %s, want 95", event.Observed)
	}
	if !event.Sent {
		t.Error("event should record successful delivery")
	}
	if event.Threshold == nil || !event.Threshold.Equal(dec("100")) {
		t.Errorf("event should snapshot the threshold, got %v", event.Threshold)
	}

	rule := store.rules[0]
	if rule.LastTriggeredAt == nil || !rule.LastTriggeredAt.Equal(fixedNow) {
		t.Errorf("last_triggered_at = %v, want %v", rule.LastTriggeredAt, fixedNow)
	}
	if rule.TriggerCount != 1 {
		t.Errorf("trigger_count = %d, want 1", rule.TriggerCount)
	}

	// Immediate second run: condition still holds, cooldown suppresses.
	summary, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.Checked != 1 || summary.Triggered != 0 {
		t.Errorf("second run summary = %+v, want checked=1 triggered=0", summary)
	}
	if len(store.events) != 1 {
		t.Errorf("cooldown-suppressed run must not append events, got %d", len(store.events))
	}
}

func TestDeliveryFailureStillCountsAsTriggered(t *testing.T) {
	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1)},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: false, Error: "boom"}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Triggered != 1 {
		t.Errorf("triggered = %d, want 1 despite delivery failure", summary.Triggered)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("delivery failure must not surface as run error, got %v", summary.Errors)
	}

	if len(store.events) != 1 {
		t.Fatalf("expected one firing event, got %d", len(store.events))
	}
	event := store.events[0]
	if event.Sent {
		t.Error("event should record failed delivery")
	}
	if event.SendError == nil || *event.SendError != "boom" {
		t.Errorf("event send error = %v, want boom", event.SendError)
	}

	if store.rules[0].LastTriggeredAt == nil || store.rules[0].TriggerCount != 1 {
		t.Error("rule stats must advance on firing regardless of delivery outcome")
	}
}

func TestBatchFaultIsolation(t *testing.T) {
	companyID := int64(1)
	broken := alert.Rule{
		ID:        2,
		CompanyID: &companyID,
		Kind:      alert.KindPriceAbove, // threshold missing: evaluation error
		Channel:   alert.ChannelTelegram,
		Status:    alert.StatusActive,
		Repeating: true,
	}
	healthy := priceBelowRule(3)

	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1), broken, healthy},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(summary.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one entry for the broken rule", summary.Errors)
	}
	if !strings.Contains(summary.Errors[0], "MSTR") {
		t.Errorf("error should be labeled with the ticker, got %q", summary.Errors[0])
	}
	if summary.Triggered != 2 {
		t.Errorf("triggered = %d, want 2 healthy rules fired", summary.Triggered)
	}
}

func TestPanicInDispatchIsIsolated(t *testing.T) {
	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1)},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{panicOn: "MSTR"}
	e := newTestEngine(store, sender, &fakeOnChain{})

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run must survive a panicking rule: %v", err)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "panic") {
		t.Errorf("panic should surface as a labeled error, got %v", summary.Errors)
	}
}

func TestNonRepeatingRuleBecomesTriggered(t *testing.T) {
	rule := priceBelowRule(1)
	rule.Repeating = false
	rule.CooldownMinutes = 0

	store := &fakeStore{
		rules:     []alert.Rule{rule},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if store.rules[0].Status != alert.StatusTriggered {
		t.Fatalf("status = %s, want triggered", store.rules[0].Status)
	}

	// Status is the pre-filter: with no cooldown at all, the rule must
	// still never fire again.
	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.Checked != 0 || summary.Triggered != 0 {
		t.Errorf("triggered rule must not be evaluated again, got %+v", summary)
	}
	if len(store.events) != 1 {
		t.Errorf("expected exactly one lifetime event, got %d", len(store.events))
	}
}

func TestEventInsertHappensBeforeRuleUpdate(t *testing.T) {
	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1)},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.ops) != 2 || store.ops[0] != "insert" || store.ops[1] != "update" {
		t.Errorf("write order = %v, want [insert update]", store.ops)
	}
}

func TestMissingQuoteSkipsWithoutCounting(t *testing.T) {
	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1)},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{}, // no quote
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Checked != 0 || summary.Triggered != 0 || len(summary.Errors) != 0 {
		t.Errorf("missing quote should be a silent skip, got %+v", summary)
	}
}

func TestDanglingCompanyReferenceSkips(t *testing.T) {
	missing := int64(99)
	rule := priceBelowRule(1)
	rule.CompanyID = &missing

	store := &fakeStore{
		rules:     []alert.Rule{rule},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, &fakeOnChain{})

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Checked != 0 || len(summary.Errors) != 0 {
		t.Errorf("dangling company reference should skip silently, got %+v", summary)
	}
}

func TestGlobalRulesShareOneSnapshot(t *testing.T) {
	onChain := &fakeOnChain{metrics: alert.OnChainMetrics{
		FearGreed:   dec("72"),
		MVRVZScore:  dec("2.4"),
		NUPL:        dec("0.4"),
		FundingRate: dec("0.0105"),
		BTCPriceUSD: dec("97000"),
	}}

	fearGreed := alert.Rule{
		ID: 1, Kind: alert.KindFearGreedAbove, Threshold: decPtr("70"),
		Channel: alert.ChannelSlack, Repeating: true, Status: alert.StatusActive,
	}
	nupl := alert.Rule{
		ID: 2, Kind: alert.KindNUPLAbove, Threshold: decPtr("0.5"),
		Channel: alert.ChannelSlack, Repeating: true, Status: alert.StatusActive,
	}
	funding := alert.Rule{
		ID: 3, Kind: alert.KindFundingRateAbove, Threshold: decPtr("1.0"),
		Channel: alert.ChannelSlack, Repeating: true, Status: alert.StatusActive,
	}

	store := &fakeStore{rules: []alert.Rule{fearGreed, nupl, funding}}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, onChain)

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if onChain.calls != 1 {
		t.Errorf("on-chain metrics fetched %d times, want once per run", onChain.calls)
	}
	// fear_greed (72>70) and funding (0.0105>0.01) fire; nupl (0.4<0.5) does not.
	if summary.Checked != 3 || summary.Triggered != 2 {
		t.Errorf("summary = %+v, want checked=3 triggered=2", summary)
	}
}

func TestDigestFiresOnCooldownAlone(t *testing.T) {
	digest := alert.Rule{
		ID:              1,
		Kind:            alert.KindOnChainDigest,
		Channel:         alert.ChannelTelegram,
		Repeating:       true,
		CooldownMinutes: 1440,
		Status:          alert.StatusActive,
	}

	onChain := &fakeOnChain{metrics: alert.OnChainMetrics{BTCPriceUSD: dec("97000"), FearGreed: dec("50")}}
	store := &fakeStore{rules: []alert.Rule{digest}}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, onChain)

	summary, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Triggered != 1 {
		t.Fatalf("digest should fire on first run, got %+v", summary)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one digest event, got %d", len(store.events))
	}

	// Within the 24h window nothing new fires.
	summary, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.Triggered != 0 || len(store.events) != 1 {
		t.Errorf("digest must fire at most once per cooldown window, got %+v, %d events", summary, len(store.events))
	}
}

func TestOnChainNotFetchedWithoutGlobalRules(t *testing.T) {
	onChain := &fakeOnChain{}
	store := &fakeStore{
		rules:     []alert.Rule{priceBelowRule(1)},
		companies: []alert.Company{mstr()},
		quotes:    map[int64]alert.StockQuote{1: {CompanyID: 1, Price: dec("95"), AsOf: fixedNow}},
	}
	sender := &fakeSender{delivery: alerting.Delivery{Sent: true}}
	e := newTestEngine(store, sender, onChain)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if onChain.calls != 0 {
		t.Errorf("on-chain metrics fetched %d times with no global rules, want 0", onChain.calls)
	}
}

func TestRunAbortsWhenRuleLoadFails(t *testing.T) {
	store := &fakeStore{listRulesErr: context.DeadlineExceeded}
	e := newTestEngine(store, &fakeSender{}, &fakeOnChain{})

	if _, err := e.RunOnce(context.Background()); err == nil {
		t.Fatal("rule load failure must abort the run")
	}
}
