package marketdata

import (
	"fmt"
	"time"
)

// DataUnavailableError reports that a ticker has no usable price on or
// before asOf. Callers exclude the ticker from the cycle and report the
// exclusion; it never aborts the whole run.
type DataUnavailableError struct {
	Ticker string
	AsOf   time.Time
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for %s as of %s", e.Ticker, e.AsOf.Format("2006-01-02"))
}
