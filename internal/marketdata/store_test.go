package marketdata

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakePrices struct {
	history map[string][]float64
	writes  map[string]float64
	err     error
}

func (f *fakePrices) WriteCloses(date time.Time, closes map[string]float64) error {
	if f.writes == nil {
		f.writes = map[string]float64{}
	}
	for t, p := range closes {
		f.writes[t] = p
	}
	return nil
}

func (f *fakePrices) History(tickers []string, days int) (map[string][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string][]float64{}
	for _, t := range tickers {
		closes, ok := f.history[t]
		if !ok {
			continue
		}
		if len(closes) > days {
			closes = closes[len(closes)-days:]
		}
		out[t] = closes
	}
	return out, nil
}

func (f *fakePrices) Close() error { return nil }

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]float64
	sets   int
}

func (f *fakeQuotes) SetQuotes(_ context.Context, prices map[string]float64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quotes == nil {
		f.quotes = map[string]float64{}
	}
	for t, p := range prices {
		f.quotes[t] = p
	}
	f.sets++
	return nil
}

func (f *fakeQuotes) GetQuotes(_ context.Context, tickers []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]float64{}
	for _, t := range tickers {
		if p, ok := f.quotes[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (f *fakeQuotes) Close() error { return nil }

type fakeFetcher struct {
	mu    sync.Mutex
	marks map[string]float64
	calls int
	fail  bool
}

func (f *fakeFetcher) FetchMarks(_ context.Context, tickers []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("gateway down")
	}
	out := map[string]float64{}
	for _, t := range tickers {
		if p, ok := f.marks[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func newTestStore(prices *fakePrices, quotes *fakeQuotes, fetcher Fetcher) *Store {
	deps := Deps{Prices: prices, Blacklist: NewBlacklist()}
	if quotes != nil {
		deps.Quotes = quotes
	}
	if fetcher != nil {
		deps.Fetcher = fetcher
	}
	return New(Config{FetchChunkSize: 2, FetchWorkers: 2}, deps)
}

func TestMarkPrices_CacheHitSkipsFetcher(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]float64{"A": 100, "B": 50}}
	fetcher := &fakeFetcher{}
	s := newTestStore(&fakePrices{}, quotes, fetcher)

	prices, missing, err := s.MarkPrices(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("MarkPrices: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no missing, got %v", missing)
	}
	if prices["A"] != 100 || prices["B"] != 50 {
		t.Errorf("unexpected prices %v", prices)
	}
	if fetcher.calls != 0 {
		t.Errorf("cache hit must not call the fetcher, calls=%d", fetcher.calls)
	}
}

func TestMarkPrices_FetchesMissesAndCaches(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]float64{"A": 100}}
	fetcher := &fakeFetcher{marks: map[string]float64{"B": 55}}
	s := newTestStore(&fakePrices{}, quotes, fetcher)

	prices, missing, err := s.MarkPrices(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("MarkPrices: %v", err)
	}
	if prices["B"] != 55 {
		t.Errorf("expected fetched mark for B, got %v", prices)
	}
	if len(missing) != 0 {
		t.Errorf("expected no missing, got %v", missing)
	}
	if quotes.sets == 0 {
		t.Error("fetched marks must be written back to the quote cache")
	}
	if quotes.quotes["B"] != 55 {
		t.Errorf("cache should hold the fetched mark, got %v", quotes.quotes)
	}
}

func TestMarkPrices_FallsBackToStoredClose(t *testing.T) {
	prices := &fakePrices{history: map[string][]float64{"C": {88, 90}}}
	s := newTestStore(prices, nil, nil)

	got, missing, err := s.MarkPrices(context.Background(), []string{"C", "D"})
	if err != nil {
		t.Fatalf("MarkPrices: %v", err)
	}
	if got["C"] != 90 {
		t.Errorf("expected latest close 90 for C, got %v", got)
	}
	if !reflect.DeepEqual(missing, []string{"D"}) {
		t.Errorf("expected D missing, got %v", missing)
	}
}

func TestMarkPrices_FetcherFailureFallsThrough(t *testing.T) {
	prices := &fakePrices{history: map[string][]float64{"A": {101}}}
	fetcher := &fakeFetcher{fail: true}
	s := newTestStore(prices, &fakeQuotes{}, fetcher)

	got, missing, err := s.MarkPrices(context.Background(), []string{"A"})
	if err != nil {
		t.Fatalf("MarkPrices: %v", err)
	}
	if got["A"] != 101 {
		t.Errorf("gateway failure must fall back to stored close, got %v", got)
	}
	if len(missing) != 0 {
		t.Errorf("expected no missing, got %v", missing)
	}
}

func TestReturnSeries(t *testing.T) {
	prices := &fakePrices{history: map[string][]float64{
		"A":     {100, 110, 99},
		"B":     {50, 50, 55},
		"SHORT": {42},
	}}
	s := newTestStore(prices, nil, nil)

	rows, missing, err := s.ReturnSeries([]string{"A", "B", "SHORT"}, 2)
	if err != nil {
		t.Fatalf("ReturnSeries: %v", err)
	}
	if !reflect.DeepEqual(missing, []string{"SHORT"}) {
		t.Errorf("expected SHORT excluded, got %v", missing)
	}
	if len(rows) != 2 || len(rows[0]) != 2 {
		t.Fatalf("expected 2x2 return matrix, got %dx%d", len(rows), len(rows[0]))
	}
	if math.Abs(rows[0][0]-0.10) > 1e-12 {
		t.Errorf("A day-1 return: expected 0.10, got %.6f", rows[0][0])
	}
	if math.Abs(rows[1][0]-(99.0/110.0-1)) > 1e-12 {
		t.Errorf("A day-2 return: got %.6f", rows[1][0])
	}
	if rows[0][1] != 0 {
		t.Errorf("B day-1 return: expected 0, got %.6f", rows[0][1])
	}
	if math.Abs(rows[1][1]-0.10) > 1e-12 {
		t.Errorf("B day-2 return: expected 0.10, got %.6f", rows[1][1])
	}
}

func TestFetchParallel_MergesChunks(t *testing.T) {
	fetcher := &fakeFetcher{marks: map[string]float64{"A": 1, "B": 2, "C": 3, "D": 4, "E": 5}}
	out := fetchParallel(context.Background(), fetcher, []string{"A", "B", "C", "D", "E"}, 2, 3)
	if len(out) != 5 {
		t.Fatalf("expected 5 marks, got %v", out)
	}
	if fetcher.calls != 3 {
		t.Errorf("expected 3 chunked calls, got %d", fetcher.calls)
	}
}

func TestRecordCloses(t *testing.T) {
	prices := &fakePrices{}
	s := newTestStore(prices, nil, nil)
	if err := s.RecordCloses(time.Now(), map[string]float64{"A": 123}); err != nil {
		t.Fatalf("RecordCloses: %v", err)
	}
	if prices.writes["A"] != 123 {
		t.Errorf("close not written through, got %v", prices.writes)
	}
}
