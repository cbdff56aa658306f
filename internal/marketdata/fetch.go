package marketdata

import (
	"context"
	"log"
	"sync"
)

// fetchParallel pulls marks for tickers through the fetcher, chunked
// and processed by a bounded worker pool. The fetches are read-only
// over disjoint tickers, so workers share no mutable state. A chunk
// that fails is logged and dropped; its tickers fall through to the
// stored-close fallback.
func fetchParallel(ctx context.Context, f Fetcher, tickers []string, chunkSize, workers int) map[string]float64 {
	if len(tickers) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(tickers); start += chunkSize {
		end := start + chunkSize
		if end > len(tickers) {
			end = len(tickers)
		}
		chunks = append(chunks, tickers[start:end])
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}

	workCh := make(chan []string, len(chunks))
	resultCh := make(chan map[string]float64, len(chunks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range workCh {
				marks, err := f.FetchMarks(ctx, chunk)
				if err != nil {
					log.Printf("[marketdata] mark fetch failed for %d tickers: %v", len(chunk), err)
					continue
				}
				resultCh <- marks
			}
		}()
	}

	for _, chunk := range chunks {
		workCh <- chunk
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make(map[string]float64, len(tickers))
	for marks := range resultCh {
		for t, p := range marks {
			out[t] = p
		}
	}
	return out
}
