package alert

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
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

func companyRule(kind Kind, threshold string) Rule {
	r := Rule{ID: 1, UserID: 7, Kind: kind, Status: StatusActive, Channel: ChannelTelegram}
	if kind.Percentage() {
		r.ThresholdPercent = decPtr(threshold)
	} else if threshold != "" {
		r.Threshold = decPtr(threshold)
	}
	return r
}

func TestEvaluateCompanyComparisonTable(t *testing.T) {
	cases := []struct {
		name     string
		kind     Kind
		thresh   string
		metrics  CompanyMetrics
		wantFire bool
	}{
		{"price_above strictly above fires", KindPriceAbove, "100.00", CompanyMetrics{Price: decPtr("100.01")}, true},
		{"price_above equality does not fire", KindPriceAbove, "100.00", CompanyMetrics{Price: decPtr("100.00")}, false},
		{"price_above below does not fire", KindPriceAbove, "100.00", CompanyMetrics{Price: decPtr("99.99")}, false},
		{"price_below strictly below fires", KindPriceBelow, "100.00", CompanyMetrics{Price: decPtr("99.99")}, true},
		{"price_below equality does not fire", KindPriceBelow, "100.00", CompanyMetrics{Price: decPtr("100.00")}, false},
		{"mnav_above fires", KindMNAVAbove, "1.5", CompanyMetrics{MNAV: decPtr("1.51")}, true},
		{"mnav_above equality does not fire", KindMNAVAbove, "1.5", CompanyMetrics{MNAV: decPtr("1.5")}, false},
		{"mnav_below fires", KindMNAVBelow, "1.5", CompanyMetrics{MNAV: decPtr("1.49")}, true},
		{"holdings delta fires", KindBTCHoldings, "", CompanyMetrics{Holdings: decPtr("5100"), PrevHoldings: decPtr("5000")}, true},
		{"holdings unchanged does not fire", KindBTCHoldings, "", CompanyMetrics{Holdings: decPtr("5000"), PrevHoldings: decPtr("5000")}, false},
		{"holdings decrease fires", KindBTCHoldings, "", CompanyMetrics{Holdings: decPtr("4900"), PrevHoldings: decPtr("5000")}, true},
		{"pct_change_up fires past threshold", KindPctChangeUp, "5", CompanyMetrics{Price: decPtr("105.01"), PrevClose: decPtr("100")}, true},
		{"pct_change_up equality does not fire", KindPctChangeUp, "5", CompanyMetrics{Price: decPtr("105"), PrevClose: decPtr("100")}, false},
		{"pct_change_down fires on signed move", KindPctChangeDown, "-5", CompanyMetrics{Price: decPtr("94.99"), PrevClose: decPtr("100")}, true},
		{"pct_change_down equality does not fire", KindPctChangeDown, "-5", CompanyMetrics{Price: decPtr("95"), PrevClose: decPtr("100")}, false},
		{"pct_change_down up-move does not fire", KindPctChangeDown, "-5", CompanyMetrics{Price: decPtr("106"), PrevClose: decPtr("100")}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := EvaluateCompany(companyRule(tc.kind, tc.thresh), tc.metrics)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Skip {
				t.Fatal("unexpected skip")
			}
			if d.Fire != tc.wantFire {
				t.Errorf("Fire = %v, want %v", d.Fire, tc.wantFire)
			}
		})
	}
}

func TestEvaluateCompanyMissingQuoteSkips(t *testing.T) {
	for _, kind := range []Kind{KindPriceAbove, KindPriceBelow, KindPctChangeUp, KindPctChangeDown} {
		d, err := EvaluateCompany(companyRule(kind, "10"), CompanyMetrics{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if !d.Skip || d.Fire {
			t.Errorf("%s without quote should skip, got %+v", kind, d)
		}
	}
}

func TestEvaluateCompanyMNAVWithoutQuote(t *testing.T) {
	// mnav kinds still evaluate from whatever valuation figure is available.
	d, err := EvaluateCompany(companyRule(KindMNAVAbove, "1.2"), CompanyMetrics{MNAV: decPtr("1.3")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Skip || !d.Fire {
		t.Errorf("mnav_above with valuation but no quote should fire, got %+v", d)
	}

	d, err = EvaluateCompany(companyRule(KindMNAVAbove, "1.2"), CompanyMetrics{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Skip {
		t.Errorf("mnav_above with no valuation at all should skip, got %+v", d)
	}
}

func TestEvaluateCompanyHoldingsReportsPrevious(t *testing.T) {
	d, err := EvaluateCompany(companyRule(KindBTCHoldings, ""), CompanyMetrics{
		Holdings:     decPtr("5100"),
		PrevHoldings: decPtr("5000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Previous == nil || !d.Previous.Equal(dec("5000")) {
		t.Errorf("expected previous holdings 5000, got %v", d.Previous)
	}
	if !d.Observed.Equal(dec("5100")) {
		t.Errorf("expected observed holdings 5100, got %s", d.Observed)
	}
}

func TestEvaluateGlobalComparisonTable(t *testing.T) {
	metrics := OnChainMetrics{
		FearGreed:   dec("72"),
		MVRVZScore:  dec("2.4"),
		NUPL:        dec("0.55"),
		FundingRate: dec("0.0105"),
		BTCPriceUSD: dec("97000"),
	}

	cases := []struct {
		name     string
		kind     Kind
		thresh   string
		wantFire bool
	}{
		{"fear_greed_above fires", KindFearGreedAbove, "70", true},
		{"fear_greed_above equality does not fire", KindFearGreedAbove, "72", false},
		{"fear_greed_below does not fire above", KindFearGreedBelow, "70", false},
		{"fear_greed_below fires", KindFearGreedBelow, "75", true},
		{"mvrv_above fires", KindMVRVAbove, "2.0", true},
		{"mvrv_below fires", KindMVRVBelow, "3.0", true},
		{"nupl_above fires", KindNUPLAbove, "0.5", true},
		{"nupl_above does not fire", KindNUPLAbove, "0.6", false},
		{"nupl_below fires", KindNUPLBelow, "0.6", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := Rule{ID: 2, Kind: tc.kind, Threshold: decPtr(tc.thresh)}
			d, err := EvaluateGlobal(rule, metrics)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Fire != tc.wantFire {
				t.Errorf("Fire = %v, want %v", d.Fire, tc.wantFire)
			}
		})
	}
}

func TestEvaluateGlobalFundingRateUnitConversion(t *testing.T) {
	// Threshold 1.0 means 1%; the metric arrives as a decimal fraction.
	rule := Rule{ID: 3, Kind: KindFundingRateAbove, Threshold: decPtr("1.0")}

	d, err := EvaluateGlobal(rule, OnChainMetrics{FundingRate: dec("0.0105")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Fire {
		t.Error("0.0105 > 0.01 should fire")
	}

	d, err = EvaluateGlobal(rule, OnChainMetrics{FundingRate: dec("0.0095")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Fire {
		t.Error("0.0095 < 0.01 must not fire")
	}

	d, err = EvaluateGlobal(rule, OnChainMetrics{FundingRate: dec("0.01")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Fire {
		t.Error("exact equality must not fire")
	}
}

func TestEvaluateGlobalDigestIgnoresThresholds(t *testing.T) {
	rule := Rule{ID: 4, Kind: KindOnChainDigest}
	d, err := EvaluateGlobal(rule, OnChainMetrics{BTCPriceUSD: dec("97000")})
	if err != nil {
		t.Fatalf("digest must not require a threshold: %v", err)
	}
	if !d.Fire {
		t.Error("digest always fires; the cooldown gate provides the cadence")
	}
}

func TestEvaluateUnknownKind(t *testing.T) {
	if _, err := EvaluateCompany(Rule{ID: 5, Kind: Kind("made_up")}, CompanyMetrics{Price: decPtr("1")}); err == nil {
		t.Fatal("unknown kind must be an explicit error")
	}
	if _, err := EvaluateGlobal(Rule{ID: 5, Kind: Kind("made_up")}, OnChainMetrics{}); err == nil {
		t.Fatal("unknown kind must be an explicit error")
	}
}

func TestEvaluateKindRouting(t *testing.T) {
	_, err := EvaluateCompany(Rule{ID: 6, Kind: KindFearGreedAbove, Threshold: decPtr("50")}, CompanyMetrics{})
	if err == nil || !strings.Contains(err.Error(), "global kind") {
		t.Errorf("global kind in company evaluator should error, got %v", err)
	}
	_, err = EvaluateGlobal(Rule{ID: 6, Kind: KindPriceAbove, Threshold: decPtr("50")}, OnChainMetrics{})
	if err == nil {
		t.Error("company kind in global evaluator should error")
	}
}

func TestEvaluateMissingThreshold(t *testing.T) {
	if _, err := EvaluateCompany(Rule{ID: 7, Kind: KindPriceAbove}, CompanyMetrics{Price: decPtr("1")}); err == nil {
		t.Fatal("price rule without threshold should error")
	}
	if _, err := EvaluateCompany(Rule{ID: 7, Kind: KindPctChangeUp}, CompanyMetrics{Price: decPtr("1"), PrevClose: decPtr("1")}); err == nil {
		t.Fatal("percentage rule without threshold_percent should error")
	}
}
