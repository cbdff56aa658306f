package ledger

import "time"

// WashSaleRecord marks a realized loss on a ticker. While the record is
// active (within washSaleDays of the realization date) the ticker may
// not be repurchased.
type WashSaleRecord struct {
	Ticker           string    `json:"ticker"`
	LossRealizedDate time.Time `json:"loss_realized_date"`
	Loss             float64   `json:"loss"` // dollars, positive magnitude
}

// Acquisition records a buy date. A loss sale of shares acquired within
// the trailing window is nullified for tax purposes.
type Acquisition struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Shares float64   `json:"shares"`
}

// inWindow reports whether event lies inside the trailing wash-sale
// window [asOf - days, asOf]. Future-dated events never match, so the
// query stays a pure function of asOf.
func inWindow(event, asOf time.Time, days int) bool {
	if event.After(asOf) {
		return false
	}
	cutoff := asOf.AddDate(0, 0, -days)
	return !event.Before(cutoff)
}

// IsRepurchaseRestricted reports whether a loss was realized for ticker
// within the trailing wash-sale window. A restricted ticker may keep its
// current position but must not be bought.
func (l *Ledger) IsRepurchaseRestricted(ticker string, asOf time.Time) bool {
	for i := range l.realizations {
		r := &l.realizations[i]
		if r.Ticker == ticker && inWindow(r.LossRealizedDate, asOf, l.washDays) {
			return true
		}
	}
	return false
}

// IsLossNullified reports whether ticker was acquired within the
// trailing window, which disallows counting a loss sale of it as a
// realized loss for tax-benefit purposes.
func (l *Ledger) IsLossNullified(ticker string, asOf time.Time) bool {
	for i := range l.acquisitions {
		a := &l.acquisitions[i]
		if a.Ticker == ticker && inWindow(a.Date, asOf, l.washDays) {
			return true
		}
	}
	return false
}

// IsWashSaleRestricted reports whether trading ticker is constrained by
// wash-sale rules as of asOf: either a loss was realized inside the
// window (no repurchase), or the position holds lots underwater at price
// whose loss a recent purchase would nullify. price marks the position;
// pass zero when the ticker is not held.
func (l *Ledger) IsWashSaleRestricted(ticker string, asOf time.Time, price float64) bool {
	if l.IsRepurchaseRestricted(ticker, asOf) {
		return true
	}
	if !l.IsLossNullified(ticker, asOf) {
		return false
	}
	pos, ok := l.pf.Positions[ticker]
	if !ok {
		return false
	}
	return pos.HasLossLots(price)
}

// ActiveWashSaleRecords returns the loss realizations still inside the
// window as of asOf.
func (l *Ledger) ActiveWashSaleRecords(asOf time.Time) []WashSaleRecord {
	var out []WashSaleRecord
	for i := range l.realizations {
		r := l.realizations[i]
		if inWindow(r.LossRealizedDate, asOf, l.washDays) {
			out = append(out, r)
		}
	}
	return out
}

// SeedRealization injects a historical loss realization, used when
// rebuilding wash-sale state from the trade journal at startup.
func (l *Ledger) SeedRealization(ticker string, date time.Time, loss float64) {
	if loss <= 0 {
		return
	}
	l.realizations = append(l.realizations, WashSaleRecord{
		Ticker:           ticker,
		LossRealizedDate: date,
		Loss:             loss,
	})
}

// SeedAcquisition injects a historical purchase event, used when
// rebuilding wash-sale state from the trade journal at startup.
func (l *Ledger) SeedAcquisition(ticker string, date time.Time, shares float64) {
	if shares <= 0 {
		return
	}
	l.acquisitions = append(l.acquisitions, Acquisition{
		Ticker: ticker,
		Date:   date,
		Shares: shares,
	})
}
