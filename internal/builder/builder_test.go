package builder

import (
	"errors"
	"math"
	"testing"
	"time"

	"directindex/internal/model"
)

var asOf = time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)

func holdings(shares map[string]float64) model.Portfolio {
	pf := model.NewPortfolio(5000, asOf)
	for t, n := range shares {
		pf.Positions[t] = model.Position{
			Ticker: t,
			Lots:   []model.Lot{{AcquiredAt: asOf.AddDate(0, -6, 0), Quantity: n, UnitCost: 100}},
		}
	}
	return pf
}

func TestBuild_FloorShareMath(t *testing.T) {
	in := Input{
		Portfolio: holdings(map[string]float64{"AAPL": 50}),
		Weights:   map[string]float64{"AAPL": 0.10},
		Prices:    map[string]float64{"AAPL": 170},
		NAV:       100000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// floor(0.10*100000/170) = floor(58.82) = 58; held 50 → buy 8.
	if got := d.TargetShares["AAPL"]; got != 58 {
		t.Errorf("expected target 58 shares, got %d", got)
	}
	if len(d.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(d.Trades))
	}
	tr := d.Trades[0]
	if tr.Side != model.SideBuy || tr.Shares != 8 || tr.Ticker != "AAPL" {
		t.Errorf("expected BUY 8 AAPL, got %+v", tr)
	}
	if tr.MarkPrice != 170 {
		t.Errorf("expected mark price 170, got %.2f", tr.MarkPrice)
	}
	if tr.ClientOrderID == "" {
		t.Error("trades must carry a client order id")
	}

	// Fractional leftover absorbs into cash.
	wantCash := 100000.0 - 58*170.0
	if math.Abs(d.CashTarget-wantCash) > 1e-9 {
		t.Errorf("expected cash target %.2f, got %.2f", wantCash, d.CashTarget)
	}
}

func TestBuild_SellsBeforeBuys(t *testing.T) {
	in := Input{
		Portfolio: holdings(map[string]float64{"A": 100, "B": 10, "C": 40}),
		Weights:   map[string]float64{"A": 0.01, "B": 0.05, "C": 0.04},
		Prices:    map[string]float64{"A": 100, "B": 100, "C": 100},
		NAV:       100000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// A: 100 → 10 (sell 90), B: 10 → 50 (buy 40), C: 40 → 40 (no trade).
	if len(d.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d: %+v", len(d.Trades), d.Trades)
	}
	if d.Trades[0].Side != model.SideSell {
		t.Errorf("sells must come first, got %+v", d.Trades[0])
	}
	if d.Trades[1].Side != model.SideBuy {
		t.Errorf("buys must come last, got %+v", d.Trades[1])
	}
}

func TestBuild_WithinSideTickerOrder(t *testing.T) {
	in := Input{
		Portfolio: holdings(map[string]float64{"ZZ": 50, "AA": 50}),
		Weights:   map[string]float64{},
		Prices:    map[string]float64{"ZZ": 10, "AA": 10},
		NAV:       6000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(d.Trades) != 2 || d.Trades[0].Ticker != "AA" || d.Trades[1].Ticker != "ZZ" {
		t.Errorf("expected deterministic ticker order AA,ZZ, got %+v", d.Trades)
	}
}

func TestBuild_LiquidatesDroppedHoldings(t *testing.T) {
	in := Input{
		Portfolio: holdings(map[string]float64{"GONE": 25}),
		Weights:   map[string]float64{"KEEP": 0.10},
		Prices:    map[string]float64{"GONE": 40, "KEEP": 50},
		NAV:       10000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var sold bool
	for _, tr := range d.Trades {
		if tr.Ticker == "GONE" && tr.Side == model.SideSell && tr.Shares == 25 {
			sold = true
		}
	}
	if !sold {
		t.Errorf("expected full liquidation of GONE, trades: %+v", d.Trades)
	}
	if d.TargetShares["GONE"] != 0 {
		t.Errorf("expected zero target for GONE, got %d", d.TargetShares["GONE"])
	}
}

func TestBuild_SkipsTickerWithoutPrice(t *testing.T) {
	in := Input{
		Portfolio: holdings(map[string]float64{"DARK": 10, "LIT": 10}),
		Weights:   map[string]float64{"LIT": 0.05},
		Prices:    map[string]float64{"LIT": 100},
		NAV:       100000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, tr := range d.Trades {
		if tr.Ticker == "DARK" {
			t.Errorf("must not trade a ticker without a price: %+v", tr)
		}
	}
	if _, ok := d.TargetShares["DARK"]; ok {
		t.Error("unpriced ticker must not get a share target")
	}
}

func TestBuild_WashSaleGuard(t *testing.T) {
	in := Input{
		Portfolio:  holdings(map[string]float64{"X": 10}),
		Weights:    map[string]float64{"X": 0.50},
		Prices:     map[string]float64{"X": 100},
		NAV:        100000,
		AsOf:       asOf,
		Restricted: map[string]bool{"X": true},
	}
	_, err := Build(in)
	var wv *WashSaleViolationError
	if !errors.As(err, &wv) {
		t.Fatalf("expected WashSaleViolationError, got %v", err)
	}
	if wv.Ticker != "X" {
		t.Errorf("expected ticker X, got %s", wv.Ticker)
	}

	// Restricted sells stay legal.
	in.Weights["X"] = 0
	if _, err := Build(in); err != nil {
		t.Errorf("restricted sell must be allowed: %v", err)
	}
}

func TestBuild_SubShareDeltaNoTrade(t *testing.T) {
	pf := model.NewPortfolio(100, asOf)
	pf.Positions["F"] = model.Position{
		Ticker: "F",
		Lots:   []model.Lot{{AcquiredAt: asOf.AddDate(-1, 0, 0), Quantity: 58.4, UnitCost: 90}},
	}
	in := Input{
		Portfolio: pf,
		Weights:   map[string]float64{"F": 0.10},
		Prices:    map[string]float64{"F": 170},
		NAV:       100000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// target 58 vs held 58.4: |delta| < 1, not tradable in whole shares.
	if len(d.Trades) != 0 {
		t.Errorf("expected no trades for sub-share delta, got %+v", d.Trades)
	}
}

func TestBuild_NoSpuriousTradesAtTarget(t *testing.T) {
	in := Input{
		Portfolio: holdings(map[string]float64{"A": 100}),
		Weights:   map[string]float64{"A": 0.10},
		Prices:    map[string]float64{"A": 100},
		NAV:       100000,
		AsOf:      asOf,
	}
	d, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(d.Trades) != 0 {
		t.Errorf("portfolio already on target must yield zero trades, got %+v", d.Trades)
	}
}

func TestBuild_RejectsBadNAV(t *testing.T) {
	if _, err := Build(Input{NAV: 0}); err == nil {
		t.Error("zero NAV must fail")
	}
}
