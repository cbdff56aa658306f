package model

// IndexWeight is one constituent of the benchmark index.
type IndexWeight struct {
	Ticker string  `json:"ticker"`
	Weight float64 `json:"weight"` // fraction of the index, 0..1
}

// WeightMap converts a constituent list to a ticker→weight map.
// Duplicate tickers accumulate.
func WeightMap(ws []IndexWeight) map[string]float64 {
	m := make(map[string]float64, len(ws))
	for _, w := range ws {
		m[w.Ticker] += w.Weight
	}
	return m
}

// NormalizeWeights rescales a weight map in place so it sums to one.
// A zero or negative sum leaves the map untouched.
func NormalizeWeights(m map[string]float64) {
	var sum float64
	for _, w := range m {
		sum += w
	}
	if sum <= 0 {
		return
	}
	for t, w := range m {
		m[t] = w / sum
	}
}
