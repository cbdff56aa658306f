package execution

import (
	"math"
	"testing"
	"time"
)

func TestJournal_RoundTrip(t *testing.T) {
	j := newTestJournal(t)
	t0 := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	loss := -500.0
	sell := fillFor(sellOrder("AAPL", 10, 150, "s1"), 10, 150, 1)
	sell.ExecutedAt = t0
	if err := j.RecordFill(sell, &loss, false); err != nil {
		t.Fatalf("RecordFill sell: %v", err)
	}
	buy := fillFor(buyOrder("MSFT", 5, 300, "b1"), 5, 300, 1)
	buy.ExecutedAt = t0.Add(time.Minute)
	if err := j.RecordFill(buy, nil, true); err != nil {
		t.Fatalf("RecordFill buy: %v", err)
	}

	rows, err := j.GetTrades(10)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Ticker != "MSFT" {
		t.Errorf("rows must be newest first, got %s", rows[0].Ticker)
	}
	if !rows[0].DryRun || rows[0].RealizedGain != nil {
		t.Errorf("buy row wrong: %+v", rows[0])
	}
	if rows[1].DryRun || rows[1].RealizedGain == nil || math.Abs(*rows[1].RealizedGain-(-500)) > 1e-9 {
		t.Errorf("sell row wrong: %+v", rows[1])
	}
	if rows[1].ExecutionID != "x-s1" || rows[1].Commission != 1 {
		t.Errorf("sell row fields wrong: %+v", rows[1])
	}
}

func TestJournal_GetTradesLimit(t *testing.T) {
	j := newTestJournal(t)
	for i := 0; i < 5; i++ {
		f := fillFor(buyOrder("AAPL", 1, 100, "b"), 1, 100, 0)
		if err := j.RecordFill(f, nil, false); err != nil {
			t.Fatalf("RecordFill: %v", err)
		}
	}
	rows, err := j.GetTrades(3)
	if err != nil || len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d err=%v", len(rows), err)
	}
}

func TestJournal_TradesSince(t *testing.T) {
	j := newTestJournal(t)
	t0 := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		f := fillFor(buyOrder("AAPL", 1, 100, "b"), 1, 100, 0)
		f.ExecutedAt = t0.Add(time.Duration(i) * 24 * time.Hour)
		if err := j.RecordFill(f, nil, false); err != nil {
			t.Fatalf("RecordFill: %v", err)
		}
	}

	rows, err := j.TradesSince(t0.Add(2 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("TradesSince: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows at or after the cutoff, got %d", len(rows))
	}
	if rows[0].ID > rows[1].ID {
		t.Error("TradesSince must return oldest first")
	}
}
