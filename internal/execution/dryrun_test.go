package execution

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"directindex/internal/model"
)

func dryRunDesired() model.DesiredPortfolio {
	return model.DesiredPortfolio{Trades: []model.TradeOrder{
		buyOrder("MSFT", 5, 300, "b1"),
		sellOrder("AAPL", 10, 150, "s1"),
	}}
}

func dryRunEmptyDesired() model.DesiredPortfolio {
	return model.DesiredPortfolio{}
}

func TestDryRun_AppliesTradesAtMark(t *testing.T) {
	led := lossLedger(1000)
	journal := newTestJournal(t)
	var out bytes.Buffer
	runner := NewDryRunner(journal, &out)

	desired := dryRunDesired()
	asOf := time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC)
	rep, err := runner.Run(led, desired, asOf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !rep.DryRun || rep.Submitted != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if math.Abs(rep.Realized-(-500)) > 1e-9 {
		t.Errorf("realized = %v, want -500", rep.Realized)
	}
	// 1000 + 1500 − 1500, no commissions in a simulation.
	if math.Abs(led.Cash()-1000) > 1e-9 {
		t.Errorf("cash = %v, want 1000", led.Cash())
	}
	if led.Held("AAPL") != 0 || led.Held("MSFT") != 5 {
		t.Errorf("positions wrong: AAPL=%v MSFT=%v", led.Held("AAPL"), led.Held("MSFT"))
	}

	rows, err := journal.GetTrades(10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("journal rows = %d err = %v", len(rows), err)
	}
	for _, row := range rows {
		if !row.DryRun {
			t.Errorf("journal row not flagged dry_run: %+v", row)
		}
	}

	table := out.String()
	for _, want := range []string{"AAPL", "MSFT", "-500.00", "dry run: 2 trades"} {
		if !strings.Contains(table, want) {
			t.Errorf("trade table missing %q:\n%s", want, table)
		}
	}
}

func TestDryRun_NoTrades(t *testing.T) {
	led := lossLedger(1000)
	var out bytes.Buffer
	runner := NewDryRunner(nil, &out)

	rep, err := runner.Run(led, dryRunEmptyDesired(), time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Submitted != 0 || len(rep.Fills) != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if !strings.Contains(out.String(), "no trades") {
		t.Errorf("expected no-trades notice, got %q", out.String())
	}
}
