package ledger

import "fmt"

// InsufficientLotQuantityError reports an attempt to sell more shares of
// a ticker than the ledger holds. It invalidates that ticker's candidacy
// for the cycle, not the whole run.
type InsufficientLotQuantityError struct {
	Ticker    string
	Requested float64
	Held      float64
}

func (e *InsufficientLotQuantityError) Error() string {
	return fmt.Sprintf("insufficient lot quantity for %s: requested %.4f, held %.4f",
		e.Ticker, e.Requested, e.Held)
}
