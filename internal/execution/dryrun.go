package execution

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"directindex/internal/ledger"
	"directindex/internal/model"
)

// DryRunner simulates execution without touching the broker: every
// order fills in full at its mark price, flows through the same ledger
// accounting as a live fill, and lands in the journal flagged dry_run.
type DryRunner struct {
	journal *Journal
	out     io.Writer
}

// NewDryRunner returns a dry-run executor. out receives the trade
// table; nil means stdout.
func NewDryRunner(journal *Journal, out io.Writer) *DryRunner {
	if out == nil {
		out = os.Stdout
	}
	return &DryRunner{journal: journal, out: out}
}

// Run applies the trade list to the ledger at mark prices and prints
// the simulated trade table.
func (d *DryRunner) Run(led *ledger.Ledger, desired model.DesiredPortfolio, asOf time.Time) (Report, error) {
	rep := Report{DryRun: true, CashAfter: led.Cash()}
	realizedByOrder := make(map[string]float64)

	orders := append(desired.Sells(), desired.Buys()...)
	for _, order := range orders {
		fill := model.Fill{
			ClientOrderID: order.ClientOrderID,
			ExecutionID:   "dry-" + order.ClientOrderID,
			Ticker:        order.Ticker,
			Side:          order.Side,
			Quantity:      float64(order.Shares),
			Price:         order.MarkPrice,
			ExecutedAt:    asOf,
		}

		var realized *float64
		switch order.Side {
		case model.SideSell:
			res, err := led.RecordSale(fill.Ticker, fill.Quantity, fill.Price, asOf)
			if err != nil {
				return rep, fmt.Errorf("dry-run sell %s: %w", fill.Ticker, err)
			}
			realized = &res.Realized
			rep.Realized += res.Realized
			realizedByOrder[order.ClientOrderID] = res.Realized
		case model.SideBuy:
			if err := led.RecordBuy(fill.Ticker, fill.Quantity, fill.Price, asOf); err != nil {
				return rep, fmt.Errorf("dry-run buy %s: %w", fill.Ticker, err)
			}
		}

		rep.Submitted++
		rep.Fills = append(rep.Fills, fill)
		if d.journal != nil {
			if err := d.journal.RecordFill(fill, realized, true); err != nil {
				log.Printf("[dryrun] journal write failed for %s: %v", fill.ClientOrderID, err)
			}
		}
	}

	rep.CashAfter = led.Cash()
	d.printTable(rep, realizedByOrder)
	return rep, nil
}

func (d *DryRunner) printTable(rep Report, realizedByOrder map[string]float64) {
	if len(rep.Fills) == 0 {
		fmt.Fprintln(d.out, "dry run: no trades")
		return
	}

	tbl := tablewriter.NewWriter(d.out)
	tbl.Header("Ticker", "Side", "Shares", "Price", "Notional", "Realized")
	for i := range rep.Fills {
		f := &rep.Fills[i]
		realized := "-"
		if f.Side == model.SideSell {
			realized = fmt.Sprintf("%.2f", realizedByOrder[f.ClientOrderID])
		}
		tbl.Append(
			f.Ticker,
			string(f.Side),
			fmt.Sprintf("%.0f", f.Quantity),
			fmt.Sprintf("%.2f", f.Price),
			fmt.Sprintf("%.2f", f.Notional()),
			realized,
		)
	}
	tbl.Render()
	fmt.Fprintf(d.out, "dry run: %d trades, realized %.2f, cash after %.2f\n",
		rep.Submitted, rep.Realized, rep.CashAfter)
}
