package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"directindex/internal/model"
)

// tickerCorrections maps iShares holdings tickers to their primary
// listing. GOOGL collapses onto GOOG so the two share classes track as
// one line; the rest are renames the fund file lagged behind on.
var tickerCorrections = map[string]string{
	"BRKB":  "BRK-B",
	"GEC":   "GE",
	"GE,":   "GE",
	"GOOGL": "GOOG",
	"FB":    "META",
	"ANTM":  "ELV",
}

// LoadWeightsCSV reads index constituents from a "ticker,weight" CSV.
// A header row is detected by an unparseable weight and skipped.
// Weights may sum to anything; callers renormalize over the universe
// they actually use.
func LoadWeightsCSV(path string) ([]model.IndexWeight, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("weights csv open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("weights csv parse %s: %w", path, err)
	}

	var out []model.IndexWeight
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("weights csv %s line %d: need ticker,weight", path, i+1)
		}
		ticker := strings.TrimSpace(rec[0])
		w, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("weights csv %s line %d: bad weight %q", path, i+1, rec[1])
		}
		if ticker == "" {
			return nil, fmt.Errorf("weights csv %s line %d: empty ticker", path, i+1)
		}
		if w < 0 {
			return nil, fmt.Errorf("weights csv %s line %d: negative weight %.6f", path, i+1, w)
		}
		out = append(out, model.IndexWeight{Ticker: ticker, Weight: w})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("weights csv %s: no constituents", path)
	}
	return out, nil
}

// LoadISharesCSV reads constituent weights from a fund holdings file
// as published for IVV: a preamble with the as-of date, a header row
// starting at "Ticker", the holdings, then a non-breaking-space line
// and disclaimers. Non-equity rows are dropped, tickers are corrected
// and de-starred, and duplicate tickers have their weights summed.
// Weights stay in percent; callers renormalize.
//
// The returned time is the "Fund Holdings as of" date, zero when the
// preamble does not carry one.
func LoadISharesCSV(path string) ([]model.IndexWeight, time.Time, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("holdings csv open: %w", err)
	}
	text := string(raw)

	asOf := parseHoldingsAsOf(text)

	start := strings.Index(text, "Ticker")
	if start < 0 {
		return nil, time.Time{}, fmt.Errorf("holdings csv %s: no Ticker header", path)
	}
	text = text[start:]

	// Holdings end at the first NBSP separator line; the file may carry
	// it as raw latin-1 or UTF-8.
	for _, sep := range []string{"\n \n", "\n\xa0\n"} {
		if end := strings.Index(text, sep); end >= 0 {
			text = text[:end]
			break
		}
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("holdings csv parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, time.Time{}, fmt.Errorf("holdings csv %s: no holdings rows", path)
	}

	header := records[0]
	tickerCol, weightCol, classCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "Ticker":
			tickerCol = i
		case "Weight (%)":
			weightCol = i
		case "Asset Class":
			classCol = i
		}
	}
	if tickerCol < 0 || weightCol < 0 {
		return nil, time.Time{}, fmt.Errorf("holdings csv %s: missing Ticker or Weight (%%) column", path)
	}

	sums := make(map[string]float64)
	var order []string
	for i, rec := range records[1:] {
		if tickerCol >= len(rec) || weightCol >= len(rec) {
			continue
		}
		if classCol >= 0 && classCol < len(rec) {
			if class := strings.TrimSpace(rec[classCol]); class != "" && class != "Equity" {
				continue
			}
		}

		ticker := strings.TrimSpace(rec[tickerCol])
		if fixed, ok := tickerCorrections[ticker]; ok {
			ticker = fixed
		}
		ticker = strings.ReplaceAll(ticker, "*", "")
		if ticker == "" || ticker == "-" {
			continue
		}

		wStr := strings.ReplaceAll(strings.TrimSpace(rec[weightCol]), ",", "")
		w, err := strconv.ParseFloat(wStr, 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("holdings csv %s row %d: bad weight %q", path, i+2, rec[weightCol])
		}
		if w <= 0 {
			continue
		}

		if _, seen := sums[ticker]; !seen {
			order = append(order, ticker)
		}
		sums[ticker] += w
	}

	if len(sums) == 0 {
		return nil, time.Time{}, fmt.Errorf("holdings csv %s: no equity constituents", path)
	}

	out := make([]model.IndexWeight, 0, len(sums))
	for _, t := range order {
		out = append(out, model.IndexWeight{Ticker: t, Weight: sums[t]})
	}
	return out, asOf, nil
}

// parseHoldingsAsOf pulls the date out of the `Fund Holdings as of,"Sep
// 13, 2022"` preamble line.
func parseHoldingsAsOf(text string) time.Time {
	const marker = `Fund Holdings as of,"`
	i := strings.Index(text, marker)
	if i < 0 {
		return time.Time{}
	}
	rest := text[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return time.Time{}
	}
	asOf, err := time.Parse("Jan 2, 2006", rest[:j])
	if err != nil {
		return time.Time{}
	}
	return asOf
}
