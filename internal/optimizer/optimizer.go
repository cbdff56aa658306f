// Package optimizer solves the tax-aware rebalancing problem: minimize
// tracking error against the benchmark net of a tax benefit for
// harvested losses, under no-short, per-ticker deviation, total
// deviation, cash-floor, and wash-sale constraints. The solver is
// projected gradient descent with Dykstra projections, deterministic
// for identical inputs.
package optimizer

import (
	"fmt"
	"math"
)

const (
	maxIterations = 2000
	convergeTol   = 1e-10
	feasTol       = 1e-9

	// turnoverReg breaks objective ties toward the current weights, so
	// equal-objective solutions prefer minimal turnover.
	turnoverReg = 1e-6

	// maxStep caps the gradient step when the tracking-error curvature
	// is too flat to size it (near-constant return history).
	maxStep = 0.5
)

// Params configures one optimization solve. The zero value is invalid;
// load from configuration and validate.
type Params struct {
	TaxCoefficient             float64 `json:"tax_coefficient" yaml:"tax_coefficient"`
	MaxDeviationFromTrueWeight float64 `json:"max_deviation_from_true_weight" yaml:"max_deviation_from_true_weight"`
	MaxTotalDeviation          float64 `json:"max_total_deviation" yaml:"max_total_deviation"`
	CashConstraint             float64 `json:"cash_constraint" yaml:"cash_constraint"`
	TrackingErrorFunc          string  `json:"tracking_error_func" yaml:"tracking_error_func"`
	LookbackDays               int     `json:"lookback_days" yaml:"lookback_days"`
}

// Validate rejects parameter combinations the solver cannot honor.
func (p *Params) Validate() error {
	if p.TaxCoefficient < 0 {
		return fmt.Errorf("optimizer params: tax_coefficient must be >= 0, got %.4f", p.TaxCoefficient)
	}
	if p.MaxDeviationFromTrueWeight <= 0 {
		return fmt.Errorf("optimizer params: max_deviation_from_true_weight must be > 0, got %.4f", p.MaxDeviationFromTrueWeight)
	}
	if p.MaxTotalDeviation <= 0 {
		return fmt.Errorf("optimizer params: max_total_deviation must be > 0, got %.4f", p.MaxTotalDeviation)
	}
	if p.CashConstraint <= 0 || p.CashConstraint > 1 {
		return fmt.Errorf("optimizer params: cash_constraint must be in (0,1], got %.4f", p.CashConstraint)
	}
	if !KnownStrategy(p.TrackingErrorFunc) {
		return fmt.Errorf("optimizer params: unknown tracking_error_func %q (valid: %s, %s)",
			p.TrackingErrorFunc, StrategyLeastSquared, StrategyVarTrackingDiff)
	}
	if p.TrackingErrorFunc == StrategyVarTrackingDiff && p.LookbackDays < 2 {
		return fmt.Errorf("optimizer params: %s requires lookback_days >= 2, got %d", StrategyVarTrackingDiff, p.LookbackDays)
	}
	return nil
}

// Candidate is one ticker admitted to the optimization universe.
// IndexWeight is renormalized over the candidate set. A Restricted
// candidate may keep its current weight but not increase it; restricted
// tickers that are not held are excluded upstream, never passed here.
type Candidate struct {
	Ticker        string
	IndexWeight   float64
	CurrentWeight float64
	Price         float64
	Restricted    bool
	LossNullified bool // recent purchase: losses do not count as harvested
	LossCurve     LossCurve
}

// Result is a solved weight vector with diagnostics.
type Result struct {
	Weights       map[string]float64 `json:"weights"`
	TrackingError float64            `json:"tracking_error"`
	HarvestedLoss float64            `json:"harvested_loss"` // dollars at mark prices
	Objective     float64            `json:"objective"`
	Iterations    int                `json:"iterations"`
	Converged     bool               `json:"converged"`
}

// Optimizer solves rebalancing problems with a fixed parameter set and
// tracking-error strategy.
type Optimizer struct {
	params Params
	strat  Strategy
}

// New builds an optimizer. The strategy comes from NewStrategy, so the
// covariance-aware variant is already bound to its return history.
func New(params Params, strat Strategy) *Optimizer {
	return &Optimizer{params: params, strat: strat}
}

// Solve computes target weights for the candidate set. nav is the
// portfolio's net asset value in dollars, used to convert between
// weights and shares for the harvest estimate. Candidate order fixes
// the iteration order, so identical inputs give identical outputs.
func (o *Optimizer) Solve(cands []Candidate, nav float64) (Result, error) {
	if err := o.params.Validate(); err != nil {
		return Result{}, err
	}
	if nav <= 0 {
		return Result{}, fmt.Errorf("optimizer: non-positive nav %.2f", nav)
	}
	if len(cands) == 0 {
		return Result{Weights: map[string]float64{}, Converged: true}, nil
	}
	for i := range cands {
		if cands[i].Price <= 0 {
			return Result{}, fmt.Errorf("optimizer: candidate %s has non-positive price %.4f",
				cands[i].Ticker, cands[i].Price)
		}
	}

	p := newProblem(o.params, o.strat, cands, nav)
	if err := p.checkFeasible(); err != nil {
		return Result{}, err
	}

	fs := &feasibleSet{
		lo:       p.lo,
		hi:       p.hi,
		index:    p.idx,
		maxSum:   o.params.CashConstraint,
		l1Radius: o.params.MaxTotalDeviation,
	}

	// Deterministic start: the current weights pulled into the
	// feasible set.
	w := fs.project(p.cur)

	step := maxStep
	if l := o.strat.LipschitzBound() + 2*turnoverReg; l > 1/maxStep {
		step = 1 / l
	}

	n := len(cands)
	grad := make([]float64, n)
	prev := make([]float64, n)
	res := Result{}
	for it := 0; it < maxIterations; it++ {
		copy(prev, w)
		p.gradient(w, grad)
		for i := 0; i < n; i++ {
			w[i] = prev[i] - step*grad[i]
		}
		w = fs.project(w)
		res.Iterations = it + 1

		var shift float64
		for i := 0; i < n; i++ {
			if d := math.Abs(w[i] - prev[i]); d > shift {
				shift = d
			}
		}
		if shift < convergeTol {
			res.Converged = true
			break
		}
	}

	res.TrackingError = o.strat.Value(w, p.idx)
	res.HarvestedLoss = p.harvestDollars(w)
	res.Objective = res.TrackingError - o.params.TaxCoefficient*res.HarvestedLoss/nav
	res.Weights = make(map[string]float64, n)
	for i := range cands {
		wi := w[i]
		if math.Abs(wi) < 1e-12 {
			wi = 0
		}
		res.Weights[cands[i].Ticker] = wi
	}
	return res, nil
}

// problem holds the solve's dense views of the candidate set.
type problem struct {
	params Params
	strat  Strategy
	cands  []Candidate
	nav    float64

	idx, cur, lo, hi []float64
}

func newProblem(params Params, strat Strategy, cands []Candidate, nav float64) *problem {
	n := len(cands)
	p := &problem{
		params: params, strat: strat, cands: cands, nav: nav,
		idx: make([]float64, n), cur: make([]float64, n),
		lo: make([]float64, n), hi: make([]float64, n),
	}
	for i := range cands {
		p.idx[i] = cands[i].IndexWeight
		p.cur[i] = cands[i].CurrentWeight
		if cands[i].Restricted {
			// Held but wash-sale restricted: hold or trim, never add.
			p.lo[i] = 0
			p.hi[i] = cands[i].CurrentWeight
		} else {
			p.lo[i] = math.Max(0, cands[i].IndexWeight-params.MaxDeviationFromTrueWeight)
			p.hi[i] = cands[i].IndexWeight + params.MaxDeviationFromTrueWeight
		}
	}
	return p
}

// checkFeasible proves or refutes feasibility exactly before the solver
// runs. Per-ticker clamps of the index weights minimize total deviation
// on the boxes alone; shedding below the clamps (one extra unit of
// deviation per unit shed, since clamps never exceed the index weight)
// is the cheapest way to honor the cash floor.
func (p *problem) checkFeasible() error {
	var base, sumClamp, capacity float64
	for i := range p.idx {
		cl := p.idx[i]
		if cl > p.hi[i] {
			cl = p.hi[i]
		}
		if cl < p.lo[i] {
			cl = p.lo[i]
		}
		base += p.idx[i] - cl
		sumClamp += cl
		capacity += cl - p.lo[i]
	}

	var viol []string
	excess := sumClamp - p.params.CashConstraint
	if excess < 0 {
		excess = 0
	}
	if excess > feasTol && capacity+feasTol < excess {
		viol = append(viol, fmt.Sprintf(
			"cash floor: invested sum must stay <= %.4f but per-ticker lower bounds force >= %.4f",
			p.params.CashConstraint, sumClamp-capacity))
	}
	if minL1 := base + excess; minL1 > p.params.MaxTotalDeviation+feasTol {
		viol = append(viol, fmt.Sprintf(
			"max_total_deviation %.4f unreachable: deviation bounds, wash-sale caps and cash floor force total deviation >= %.4f",
			p.params.MaxTotalDeviation, minL1))
	}
	if len(viol) > 0 {
		return &InfeasibleOptimizationError{Violations: viol}
	}
	return nil
}

// gradient writes the full objective gradient: tracking error, tax
// benefit, and the turnover regularizer.
func (p *problem) gradient(w, grad []float64) {
	p.strat.Gradient(w, p.idx, grad)
	for i := range p.cands {
		c := &p.cands[i]
		if !c.LossNullified && c.LossCurve.MaxShares() > 0 && w[i] <= p.cur[i] {
			sold := (p.cur[i] - w[i]) * p.nav / c.Price
			// Lowering w_i harvests slope dollars per share; in weight
			// units the objective falls by taxCoef*slope/price.
			grad[i] += p.params.TaxCoefficient * c.LossCurve.SlopeAt(sold) / c.Price
		}
		grad[i] += 2 * turnoverReg * (w[i] - p.cur[i])
	}
}

// harvestDollars estimates the realized loss, in dollars, implied by
// moving from the current weights to w. Sales at a gain contribute
// nothing; nullified tickers contribute nothing.
func (p *problem) harvestDollars(w []float64) float64 {
	var total float64
	for i := range p.cands {
		c := &p.cands[i]
		if c.LossNullified {
			continue
		}
		if d := p.cur[i] - w[i]; d > 0 {
			total += c.LossCurve.LossAt(d * p.nav / c.Price)
		}
	}
	return total
}
