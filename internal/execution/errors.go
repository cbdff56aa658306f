package execution

import "fmt"

// ReconciliationError reports a broker/local mismatch beyond tolerance.
// Live execution aborts before placing any order when it fires.
type ReconciliationError struct {
	BrokerCash float64
	LocalCash  float64
	Tolerance  float64
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("broker cash %.2f differs from local cash %.2f (tolerance %.2f)",
		e.BrokerCash, e.LocalCash, e.Tolerance)
}
