package model

import "time"

// NAVPoint is one net-asset-value mark. One point is kept per day; a
// later cycle the same day replaces it. IndexReturn is the benchmark's
// return since the previous day's closes, so the returns endpoint can
// chain an index series next to the NAV series.
type NAVPoint struct {
	TS          time.Time `json:"ts"`
	NAV         float64   `json:"nav"` // dollars
	IndexReturn float64   `json:"index_return"`
}
