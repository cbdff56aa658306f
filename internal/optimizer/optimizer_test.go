package optimizer

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"directindex/internal/model"
)

func baseParams() Params {
	return Params{
		TaxCoefficient:             0.4,
		MaxDeviationFromTrueWeight: 0.05,
		MaxTotalDeviation:          0.9,
		CashConstraint:             1.0,
		TrackingErrorFunc:          StrategyLeastSquared,
		LookbackDays:               100,
	}
}

func mustSolve(t *testing.T, p Params, cands []Candidate, nav float64) Result {
	t.Helper()
	strat, err := NewStrategy(p.TrackingErrorFunc, nil)
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	res, err := New(p, strat).Solve(cands, nav)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return res
}

// checkConstraints verifies the solved weights honor every constraint
// within solver tolerance.
func checkConstraints(t *testing.T, p Params, cands []Candidate, w map[string]float64) {
	t.Helper()
	const eps = 1e-6
	var sum, l1 float64
	for _, c := range cands {
		wi := w[c.Ticker]
		if wi < -eps {
			t.Errorf("%s: negative weight %.8f", c.Ticker, wi)
		}
		if c.Restricted {
			if wi > c.CurrentWeight+eps {
				t.Errorf("%s: restricted ticker increased %.6f → %.6f", c.Ticker, c.CurrentWeight, wi)
			}
		} else if d := math.Abs(wi - c.IndexWeight); d > p.MaxDeviationFromTrueWeight+eps {
			t.Errorf("%s: per-ticker deviation %.6f exceeds %.4f", c.Ticker, d, p.MaxDeviationFromTrueWeight)
		}
		sum += wi
		l1 += math.Abs(wi - c.IndexWeight)
	}
	if sum > p.CashConstraint+eps {
		t.Errorf("invested sum %.6f exceeds cash constraint %.4f", sum, p.CashConstraint)
	}
	if l1 > p.MaxTotalDeviation+eps {
		t.Errorf("total deviation %.6f exceeds %.4f", l1, p.MaxTotalDeviation)
	}
}

func TestSolve_TracksIndexWhenNoLosses(t *testing.T) {
	p := baseParams()
	cands := []Candidate{
		{Ticker: "A", IndexWeight: 0.6, CurrentWeight: 0.5, Price: 100},
		{Ticker: "B", IndexWeight: 0.4, CurrentWeight: 0.5, Price: 50},
	}
	res := mustSolve(t, p, cands, 100000)

	checkConstraints(t, p, cands, res.Weights)
	if !res.Converged {
		t.Error("expected convergence")
	}
	// With no tax benefit available the optimum is the index itself.
	if math.Abs(res.Weights["A"]-0.6) > 1e-4 || math.Abs(res.Weights["B"]-0.4) > 1e-4 {
		t.Errorf("expected index weights, got %v", res.Weights)
	}
	if res.HarvestedLoss != 0 {
		t.Errorf("no loss lots: harvested must be 0, got %.2f", res.HarvestedLoss)
	}
	if res.TrackingError < 0 || res.TrackingError > 1e-6 {
		t.Errorf("tracking error should be ~0, got %.9f", res.TrackingError)
	}
}

func TestSolve_HarvestsLossesWhenBeneficial(t *testing.T) {
	p := baseParams()
	p.TaxCoefficient = 0.5
	p.MaxDeviationFromTrueWeight = 0.05

	nav := 100000.0
	// A holds 100 shares bought at 120 now marked 100: $20/share of loss.
	curve := NewLossCurve([]model.Lot{{Quantity: 100, UnitCost: 120}}, 100)
	cands := []Candidate{
		{Ticker: "A", IndexWeight: 0.10, CurrentWeight: 0.10, Price: 100, LossCurve: curve},
		{Ticker: "B", IndexWeight: 0.10, CurrentWeight: 0.10, Price: 50},
	}

	res := mustSolve(t, p, cands, nav)
	checkConstraints(t, p, cands, res.Weights)

	// The marginal tax benefit (0.5*20/100 = 0.1 per unit of weight)
	// beats the quadratic tracking penalty down to the band edge.
	if got := res.Weights["A"]; math.Abs(got-0.05) > 1e-3 {
		t.Errorf("expected A sold to ~0.05, got %.6f", got)
	}
	if math.Abs(res.HarvestedLoss-1000) > 5 {
		t.Errorf("expected ~$1000 harvested, got %.2f", res.HarvestedLoss)
	}
	if res.HarvestedLoss < 0 {
		t.Error("harvested loss must never be negative")
	}

	// Without the tax term the same inputs stay on the index.
	p.TaxCoefficient = 0
	res0 := mustSolve(t, p, cands, nav)
	if got := res0.Weights["A"]; math.Abs(got-0.10) > 1e-4 {
		t.Errorf("tax_coefficient=0 must not harvest, got A=%.6f", got)
	}
	if res0.Weights["A"] <= res.Weights["A"] {
		t.Error("tax term must push the loss holder's weight down")
	}
}

func TestSolve_NullifiedLossNotHarvested(t *testing.T) {
	p := baseParams()
	p.TaxCoefficient = 0.5
	curve := NewLossCurve([]model.Lot{{Quantity: 100, UnitCost: 120}}, 100)
	cands := []Candidate{
		{Ticker: "A", IndexWeight: 0.10, CurrentWeight: 0.10, Price: 100, LossCurve: curve, LossNullified: true},
	}
	res := mustSolve(t, p, cands, 100000)

	if math.Abs(res.Weights["A"]-0.10) > 1e-4 {
		t.Errorf("nullified loss must not be harvested, got A=%.6f", res.Weights["A"])
	}
	if res.HarvestedLoss != 0 {
		t.Errorf("nullified harvest must be 0, got %.2f", res.HarvestedLoss)
	}
}

func TestSolve_RestrictedNeverIncreases(t *testing.T) {
	p := baseParams()
	cands := []Candidate{
		// Tracking error wants A at 0.10; wash-sale restriction caps it.
		{Ticker: "A", IndexWeight: 0.10, CurrentWeight: 0.03, Price: 100, Restricted: true},
		{Ticker: "B", IndexWeight: 0.90, CurrentWeight: 0.90, Price: 200},
	}
	res := mustSolve(t, p, cands, 100000)
	checkConstraints(t, p, cands, res.Weights)

	if res.Weights["A"] > 0.03+1e-6 {
		t.Errorf("restricted ticker exceeded current weight: %.6f", res.Weights["A"])
	}
	// The cap should bind, since tracking error pulls upward.
	if res.Weights["A"] < 0.03-1e-3 {
		t.Errorf("expected A pinned at its cap, got %.6f", res.Weights["A"])
	}
}

func TestSolve_CashFloorShedsAcrossBands(t *testing.T) {
	p := baseParams()
	p.TaxCoefficient = 0.6
	p.MaxDeviationFromTrueWeight = 0.02
	p.CashConstraint = 0.95

	nav := 100000.0
	// A currently underweight and underwater; the cycle buys it back
	// toward its band, so no loss is realized.
	curveA := NewLossCurve([]model.Lot{{Quantity: 20, UnitCost: 150}}, 100)
	cands := []Candidate{
		{Ticker: "A", IndexWeight: 0.10, CurrentWeight: 0.02, Price: 100, LossCurve: curveA},
		{Ticker: "B", IndexWeight: 0.05, CurrentWeight: 0.05, Price: 50},
		{Ticker: "C", IndexWeight: 0.85, CurrentWeight: 0.88, Price: 200},
	}
	res := mustSolve(t, p, cands, nav)
	checkConstraints(t, p, cands, res.Weights)

	// Index weights sum to 1 but only 0.95 may be invested; the shed
	// spreads evenly, keeping every name inside its band.
	if got := res.Weights["A"]; got < 0.08-1e-4 {
		t.Errorf("A must rise into its band, got %.6f", got)
	}
	if got := res.Weights["C"]; got > 0.85+1e-6 || got < 0.83-1e-4 {
		t.Errorf("C must trim inside its band, got %.6f", got)
	}
	var sum float64
	for _, w := range res.Weights {
		sum += w
	}
	if math.Abs(sum-0.95) > 1e-3 {
		t.Errorf("expected the cash floor to bind at 0.95, invested %.6f", sum)
	}
	// A is bought, not sold: nothing is harvested.
	if res.HarvestedLoss != 0 {
		t.Errorf("buying a loss holder harvests nothing, got %.2f", res.HarvestedLoss)
	}
}

func TestSolve_Deterministic(t *testing.T) {
	p := baseParams()
	curve := NewLossCurve([]model.Lot{{Quantity: 40, UnitCost: 130}, {Quantity: 60, UnitCost: 110}}, 100)
	cands := []Candidate{
		{Ticker: "A", IndexWeight: 0.30, CurrentWeight: 0.25, Price: 100, LossCurve: curve},
		{Ticker: "B", IndexWeight: 0.30, CurrentWeight: 0.35, Price: 80},
		{Ticker: "C", IndexWeight: 0.40, CurrentWeight: 0.40, Price: 120},
	}
	a := mustSolve(t, p, cands, 250000)
	b := mustSolve(t, p, cands, 250000)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical inputs must give identical results:\n%+v\n%+v", a, b)
	}
}

func TestSolve_InfeasibleTotalDeviation(t *testing.T) {
	p := baseParams()
	p.MaxTotalDeviation = 0.2
	cands := []Candidate{
		// Restricted at 0.01 while the index wants 0.50: forced
		// deviation 0.49 exceeds the total budget.
		{Ticker: "A", IndexWeight: 0.50, CurrentWeight: 0.01, Price: 100, Restricted: true},
		{Ticker: "B", IndexWeight: 0.50, CurrentWeight: 0.60, Price: 100},
	}
	strat, _ := NewStrategy(p.TrackingErrorFunc, nil)
	_, err := New(p, strat).Solve(cands, 100000)

	var ie *InfeasibleOptimizationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InfeasibleOptimizationError, got %v", err)
	}
	if len(ie.Violations) == 0 || !strings.Contains(ie.Violations[0], "max_total_deviation") {
		t.Errorf("violation should name the total deviation bound: %v", ie.Violations)
	}
}

func TestSolve_InfeasibleCashFloor(t *testing.T) {
	p := baseParams()
	p.MaxDeviationFromTrueWeight = 0.01
	p.CashConstraint = 0.5
	p.MaxTotalDeviation = 0.6
	cands := []Candidate{
		{Ticker: "A", IndexWeight: 0.50, CurrentWeight: 0.50, Price: 100},
		{Ticker: "B", IndexWeight: 0.50, CurrentWeight: 0.50, Price: 100},
	}
	strat, _ := NewStrategy(p.TrackingErrorFunc, nil)
	_, err := New(p, strat).Solve(cands, 100000)

	var ie *InfeasibleOptimizationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InfeasibleOptimizationError, got %v", err)
	}
	found := false
	for _, v := range ie.Violations {
		if strings.Contains(v, "cash floor") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations should name the cash floor: %v", ie.Violations)
	}
}

func TestSolve_InputValidation(t *testing.T) {
	p := baseParams()
	strat, _ := NewStrategy(p.TrackingErrorFunc, nil)
	o := New(p, strat)

	if _, err := o.Solve([]Candidate{{Ticker: "A", IndexWeight: 1, Price: 100}}, 0); err == nil {
		t.Error("zero nav must fail")
	}
	if _, err := o.Solve([]Candidate{{Ticker: "A", IndexWeight: 1, Price: 0}}, 1000); err == nil {
		t.Error("zero price must fail")
	}

	res, err := o.Solve(nil, 1000)
	if err != nil || len(res.Weights) != 0 || !res.Converged {
		t.Errorf("empty candidate set must solve trivially: %+v, %v", res, err)
	}

	bad := baseParams()
	bad.CashConstraint = 1.5
	if _, err := New(bad, strat).Solve([]Candidate{{Ticker: "A", IndexWeight: 1, Price: 100}}, 1000); err == nil {
		t.Error("cash_constraint > 1 must fail validation")
	}
}

func TestParams_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{"valid", func(p *Params) {}, true},
		{"negative tax", func(p *Params) { p.TaxCoefficient = -0.1 }, false},
		{"zero deviation", func(p *Params) { p.MaxDeviationFromTrueWeight = 0 }, false},
		{"zero total deviation", func(p *Params) { p.MaxTotalDeviation = 0 }, false},
		{"zero cash", func(p *Params) { p.CashConstraint = 0 }, false},
		{"var without lookback", func(p *Params) {
			p.TrackingErrorFunc = StrategyVarTrackingDiff
			p.LookbackDays = 1
		}, false},
	}
	for _, c := range cases {
		p := baseParams()
		c.mutate(&p)
		err := p.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}
