package model

import "math"

// Round2 rounds a dollar amount to cents. Used at reporting edges only;
// internal accounting keeps full float64 precision.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// FloorShares returns the whole-share count a dollar allocation buys at
// price. Non-positive prices yield zero rather than dividing by zero.
func FloorShares(value, price float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(math.Floor(value / price))
}
