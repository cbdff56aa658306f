package sqlite

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"directindex/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshots_EmptyStore(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.LatestPortfolio(); err != nil || ok {
		t.Errorf("empty store: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.LatestDesired(); err != nil || ok {
		t.Errorf("empty store: ok=%v err=%v", ok, err)
	}
}

func TestSnapshots_LatestWins(t *testing.T) {
	s := newTestStore(t)
	asOf := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

	first := model.NewPortfolio(1000, asOf)
	if err := s.SavePortfolio(first); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}

	second := model.NewPortfolio(2000, asOf.AddDate(0, 0, 1))
	second.Positions["AAPL"] = model.Position{
		Ticker: "AAPL",
		Lots:   []model.Lot{{AcquiredAt: asOf, Quantity: 10, UnitCost: 150}},
	}
	if err := s.SavePortfolio(second); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}

	got, ok, err := s.LatestPortfolio()
	if err != nil || !ok {
		t.Fatalf("LatestPortfolio: ok=%v err=%v", ok, err)
	}
	if got.Cash != 2000 {
		t.Errorf("expected latest snapshot, got cash %.2f", got.Cash)
	}
	if got.Shares("AAPL") != 10 {
		t.Errorf("position lost in round-trip: %+v", got.Positions)
	}
}

func TestSnapshots_PruneKeepsLast(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < snapshotKeep+5; i++ {
		if err := s.SavePortfolio(model.NewPortfolio(float64(i), time.Now())); err != nil {
			t.Fatalf("SavePortfolio: %v", err)
		}
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM portfolio_snapshots`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != snapshotKeep {
		t.Errorf("expected %d retained snapshots, got %d", snapshotKeep, n)
	}

	got, ok, _ := s.LatestPortfolio()
	if !ok || got.Cash != float64(snapshotKeep+4) {
		t.Errorf("latest snapshot wrong after prune: %+v", got)
	}
}

func TestDesired_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	d := model.DesiredPortfolio{
		CreatedAt:    time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC),
		NAV:          10000,
		Weights:      map[string]float64{"AAPL": 0.6},
		TargetShares: map[string]int64{"AAPL": 40},
		CashTarget:   4000,
		Trades: []model.TradeOrder{
			{Ticker: "AAPL", Side: model.SideBuy, Shares: 40, MarkPrice: 150, ClientOrderID: "abc"},
		},
		TrackingError: 0.0012,
		HarvestedLoss: 310.5,
	}
	if err := s.SaveDesired(d); err != nil {
		t.Fatalf("SaveDesired: %v", err)
	}

	got, ok, err := s.LatestDesired()
	if err != nil || !ok {
		t.Fatalf("LatestDesired: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got.Trades, d.Trades) {
		t.Errorf("trades changed in round-trip: %+v", got.Trades)
	}
	if got.TargetShares["AAPL"] != 40 || got.HarvestedLoss != 310.5 {
		t.Errorf("fields changed in round-trip: %+v", got)
	}
}

func TestCloses_HistoryWindowAndOrder(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		closes := map[string]float64{"AAPL": 100 + float64(i)}
		if i < 2 {
			closes["MSFT"] = 50 + float64(i)
		}
		if err := s.WriteCloses(day.AddDate(0, 0, i), closes); err != nil {
			t.Fatalf("WriteCloses: %v", err)
		}
	}

	hist, err := s.History([]string{"AAPL", "MSFT", "GONE"}, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !reflect.DeepEqual(hist["AAPL"], []float64{102, 103, 104}) {
		t.Errorf("AAPL history: want last 3 oldest first, got %v", hist["AAPL"])
	}
	if !reflect.DeepEqual(hist["MSFT"], []float64{50, 51}) {
		t.Errorf("MSFT short history: got %v", hist["MSFT"])
	}
	if _, ok := hist["GONE"]; ok {
		t.Error("ticker with no closes must be absent")
	}
}

func TestCloses_UpsertReplacesSameDay(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if err := s.WriteCloses(day, map[string]float64{"AAPL": 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCloses(day, map[string]float64{"AAPL": 101}); err != nil {
		t.Fatal(err)
	}

	hist, err := s.History([]string{"AAPL"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hist["AAPL"], []float64{101}) {
		t.Errorf("same-day rewrite should replace, got %v", hist["AAPL"])
	}
}

func TestWeights_LatestSetWins(t *testing.T) {
	s := newTestStore(t)
	older := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if err := s.SaveWeights(older, []model.IndexWeight{{Ticker: "OLD", Weight: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveWeights(newer, []model.IndexWeight{
		{Ticker: "MSFT", Weight: 0.4},
		{Ticker: "AAPL", Weight: 0.6},
	}); err != nil {
		t.Fatal(err)
	}

	ws, asOf, err := s.LatestWeights()
	if err != nil {
		t.Fatalf("LatestWeights: %v", err)
	}
	if !asOf.Equal(newer) {
		t.Errorf("asOf: want %v, got %v", newer, asOf)
	}
	want := []model.IndexWeight{{Ticker: "AAPL", Weight: 0.6}, {Ticker: "MSFT", Weight: 0.4}}
	if !reflect.DeepEqual(ws, want) {
		t.Errorf("weights: want %v, got %v", want, ws)
	}
}

func TestWeights_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	ws, asOf, err := s.LatestWeights()
	if err != nil {
		t.Fatalf("LatestWeights: %v", err)
	}
	if len(ws) != 0 || !asOf.IsZero() {
		t.Errorf("empty store should yield no weights, got %v at %v", ws, asOf)
	}
}

func TestInstruments_Upsert(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveInstruments([]model.Instrument{
		{Ticker: "AAPL", ConID: "265598", Exchange: "NASDAQ"},
		{Ticker: "MSFT", ConID: "272093"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInstruments([]model.Instrument{
		{Ticker: "AAPL", ConID: "999999", Exchange: "NASDAQ", Name: "Apple Inc"},
	}); err != nil {
		t.Fatal(err)
	}

	ins, err := s.Instruments()
	if err != nil {
		t.Fatalf("Instruments: %v", err)
	}
	if len(ins) != 2 {
		t.Fatalf("expected 2 instruments, got %v", ins)
	}
	if ins[0].Ticker != "AAPL" || ins[0].ConID != "999999" || ins[0].Name != "Apple Inc" {
		t.Errorf("upsert did not replace: %+v", ins[0])
	}
}

func TestNAVs_SinceFilter(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if err := s.AppendNAV(model.NAVPoint{TS: base.AddDate(0, 0, i), NAV: 1000 + float64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	points, err := s.NAVs(base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("NAVs: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points since cutoff, got %v", points)
	}
	if points[0].NAV != 1002 || !points[0].TS.Equal(base.AddDate(0, 0, 2)) {
		t.Errorf("first point wrong: %+v", points[0])
	}
	if points[1].NAV != 1003 {
		t.Errorf("points not ascending: %+v", points)
	}
}

func TestAppendNAV_SameDayReplaces(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := s.AppendNAV(model.NAVPoint{TS: day, NAV: 1000, IndexReturn: 0.01}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendNAV(model.NAVPoint{TS: day.Add(4 * time.Hour), NAV: 1010, IndexReturn: 0.012}); err != nil {
		t.Fatal(err)
	}

	points, err := s.NAVs(time.Time{})
	if err != nil {
		t.Fatalf("NAVs: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected the later same-day mark to replace, got %v", points)
	}
	if points[0].NAV != 1010 || points[0].IndexReturn != 0.012 {
		t.Errorf("kept the wrong mark: %+v", points[0])
	}
}
