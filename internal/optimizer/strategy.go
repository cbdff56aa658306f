package optimizer

import "fmt"

// Tracking-error strategy names, selectable by configuration key.
const (
	StrategyLeastSquared    = "least_squared"
	StrategyVarTrackingDiff = "var_tracking_diff"
)

// Strategy is one member of the closed set of tracking-error functions.
// Implementations must be symmetric in (w, index), non-negative, and
// zero only when w equals index on the candidate set.
type Strategy interface {
	Name() string

	// Value returns the tracking error of w against index.
	Value(w, index []float64) float64

	// Gradient writes ∂TE/∂w_i into grad.
	Gradient(w, index, grad []float64)

	// LipschitzBound bounds the gradient's Lipschitz constant; the
	// solver sizes its step from it.
	LipschitzBound() float64
}

// KnownStrategy reports whether name selects a tracking-error function.
// The empty string is known; it aliases the default.
func KnownStrategy(name string) bool {
	switch name {
	case "", StrategyLeastSquared, StrategyVarTrackingDiff:
		return true
	}
	return false
}

// NewStrategy selects a tracking-error function by name. returns is the
// per-candidate daily return series (rows oldest first, one column per
// candidate, aligned to candidate order); only the covariance-aware
// variant reads it.
func NewStrategy(name string, returns [][]float64) (Strategy, error) {
	switch name {
	case "", StrategyLeastSquared:
		return leastSquared{}, nil
	case StrategyVarTrackingDiff:
		return newVarTrackingDiff(returns)
	default:
		return nil, fmt.Errorf("unknown tracking_error_func %q (valid: %s, %s)",
			name, StrategyLeastSquared, StrategyVarTrackingDiff)
	}
}

// leastSquared is the default: sum of squared per-ticker weight
// deviations from the index.
type leastSquared struct{}

func (leastSquared) Name() string { return StrategyLeastSquared }

func (leastSquared) Value(w, index []float64) float64 {
	var s float64
	for i := range w {
		d := w[i] - index[i]
		s += d * d
	}
	return s
}

func (leastSquared) Gradient(w, index, grad []float64) {
	for i := range w {
		grad[i] = 2 * (w[i] - index[i])
	}
}

func (leastSquared) LipschitzBound() float64 { return 2 }

// varRidge keeps the covariance form strictly positive definite so the
// zero-iff-equal property holds even when the lookback window is
// shorter than the candidate count.
const varRidge = 1e-8

// varTrackingDiff measures the variance of the daily return difference
// between portfolio and index over the lookback window. With the index
// return computed from the same candidate returns, the variance reduces
// to (w-index)' Cov (w-index).
type varTrackingDiff struct {
	cov [][]float64
	lip float64
}

func newVarTrackingDiff(returns [][]float64) (Strategy, error) {
	if len(returns) < 2 {
		return nil, fmt.Errorf("%s: need at least 2 return rows, got %d",
			StrategyVarTrackingDiff, len(returns))
	}
	n := len(returns[0])
	if n == 0 {
		return nil, fmt.Errorf("%s: empty return rows", StrategyVarTrackingDiff)
	}
	for t := range returns {
		if len(returns[t]) != n {
			return nil, fmt.Errorf("%s: ragged return matrix at row %d", StrategyVarTrackingDiff, t)
		}
	}

	tn := float64(len(returns))
	mean := make([]float64, n)
	for t := range returns {
		for i := 0; i < n; i++ {
			mean[i] += returns[t][i]
		}
	}
	for i := 0; i < n; i++ {
		mean[i] /= tn
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for t := range returns {
		for i := 0; i < n; i++ {
			di := returns[t][i] - mean[i]
			for j := i; j < n; j++ {
				cov[i][j] += di * (returns[t][j] - mean[j])
			}
		}
	}
	var trace float64
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov[i][j] /= tn
			cov[j][i] = cov[i][j]
		}
		trace += cov[i][i]
	}

	// λmax ≤ trace for a PSD matrix, so 2(trace+ridge) bounds the
	// quadratic form's curvature.
	return &varTrackingDiff{cov: cov, lip: 2 * (trace + varRidge)}, nil
}

func (s *varTrackingDiff) Name() string { return StrategyVarTrackingDiff }

func (s *varTrackingDiff) Value(w, index []float64) float64 {
	n := len(w)
	var val float64
	for i := 0; i < n; i++ {
		di := w[i] - index[i]
		val += varRidge * di * di
		var row float64
		for j := 0; j < n; j++ {
			row += s.cov[i][j] * (w[j] - index[j])
		}
		val += di * row
	}
	return val
}

func (s *varTrackingDiff) Gradient(w, index, grad []float64) {
	n := len(w)
	for i := 0; i < n; i++ {
		g := 2 * varRidge * (w[i] - index[i])
		for j := 0; j < n; j++ {
			g += 2 * s.cov[i][j] * (w[j] - index[j])
		}
		grad[i] = g
	}
}

func (s *varTrackingDiff) LipschitzBound() float64 { return s.lip }
