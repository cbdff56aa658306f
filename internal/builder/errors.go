package builder

import "fmt"

// WashSaleViolationError reports a buy emitted for a wash-sale
// restricted ticker. A correct pipeline never produces one; it is an
// internal invariant failure, not an operator error.
type WashSaleViolationError struct {
	Ticker string
}

func (e *WashSaleViolationError) Error() string {
	return fmt.Sprintf("wash sale violation: buy emitted for restricted ticker %s", e.Ticker)
}
