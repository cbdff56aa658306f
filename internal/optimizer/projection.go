package optimizer

import (
	"math"
	"sort"
)

// feasibleSet bundles the constraint geometry the solver projects onto:
// per-ticker boxes, the invested-sum halfspace (cash floor), and the L1
// ball of deviations around the index weights.
type feasibleSet struct {
	lo, hi   []float64
	index    []float64
	maxSum   float64 // Σw ≤ maxSum
	l1Radius float64 // Σ|w − index| ≤ l1Radius
}

// project returns the point of the feasible set nearest to w, computed
// with Dykstra's alternating projections. All member sets are convex,
// so the iteration converges to the true Euclidean projection; the
// input slice is not modified.
func (f *feasibleSet) project(w []float64) []float64 {
	const (
		maxRounds = 200
		roundTol  = 1e-12
	)
	n := len(w)
	x := append([]float64(nil), w...)
	pBox := make([]float64, n)
	pSum := make([]float64, n)
	pL1 := make([]float64, n)
	prev := make([]float64, n)

	for round := 0; round < maxRounds; round++ {
		copy(prev, x)

		applyDykstraStep(x, pBox, f.projectBox)
		applyDykstraStep(x, pSum, f.projectSum)
		applyDykstraStep(x, pL1, f.projectL1)

		var shift float64
		for i := 0; i < n; i++ {
			if d := math.Abs(x[i] - prev[i]); d > shift {
				shift = d
			}
		}
		if shift < roundTol {
			break
		}
	}
	return x
}

// applyDykstraStep runs one corrected projection: y = x + p, x' = P(y),
// p' = y - x'.
func applyDykstraStep(x, p []float64, proj func([]float64)) {
	for i := range x {
		x[i] += p[i]
		p[i] = x[i]
	}
	proj(x)
	for i := range x {
		p[i] -= x[i]
	}
}

func (f *feasibleSet) projectBox(x []float64) {
	for i := range x {
		if x[i] < f.lo[i] {
			x[i] = f.lo[i]
		} else if x[i] > f.hi[i] {
			x[i] = f.hi[i]
		}
	}
}

func (f *feasibleSet) projectSum(x []float64) {
	var sum float64
	for i := range x {
		sum += x[i]
	}
	if sum <= f.maxSum {
		return
	}
	shift := (sum - f.maxSum) / float64(len(x))
	for i := range x {
		x[i] -= shift
	}
}

func (f *feasibleSet) projectL1(x []float64) {
	d := make([]float64, len(x))
	var sum float64
	for i := range x {
		d[i] = x[i] - f.index[i]
		sum += math.Abs(d[i])
	}
	if sum <= f.l1Radius {
		return
	}
	softThresholdL1(d, f.l1Radius)
	for i := range x {
		x[i] = f.index[i] + d[i]
	}
}

// softThresholdL1 projects d onto the L1 ball of radius r, in place.
// Same sort-then-threshold scheme as the classic simplex projection.
func softThresholdL1(d []float64, r float64) {
	if r < 0 {
		r = 0
	}
	abs := make([]float64, len(d))
	for i, v := range d {
		abs[i] = math.Abs(v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(abs)))

	var cum, theta float64
	for k, v := range abs {
		cum += v
		t := (cum - r) / float64(k+1)
		if v-t <= 0 {
			break
		}
		theta = t
	}
	for i, v := range d {
		m := math.Abs(v) - theta
		if m <= 0 {
			d[i] = 0
			continue
		}
		if v < 0 {
			d[i] = -m
		} else {
			d[i] = m
		}
	}
}
