package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

const blacklistDateFormat = "2006-01-02"

// Blacklist excludes tickers from index candidacy. An entry carries an
// optional expiry date; a nil expiry is permanent. Wash-sale
// restrictions materialize as dated entries so they survive restarts.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]*time.Time
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]*time.Time)}
}

// LoadBlacklist reads a JSON file of {"TICKER": "YYYY-MM-DD" | null}.
// Entries already expired at now are pruned. A missing file yields an
// empty blacklist, not an error.
func LoadBlacklist(path string, now time.Time) (*Blacklist, error) {
	b := NewBlacklist()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("blacklist read %s: %w", path, err)
	}
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("blacklist parse %s: %w", path, err)
	}
	for ticker, exp := range raw {
		if exp == nil {
			b.entries[ticker] = nil
			continue
		}
		t, err := time.Parse(blacklistDateFormat, *exp)
		if err != nil {
			return nil, fmt.Errorf("blacklist entry %s: bad expiry %q: %w", ticker, *exp, err)
		}
		if t.Before(now) {
			continue
		}
		expiry := t
		b.entries[ticker] = &expiry
	}
	return b, nil
}

// Save writes the blacklist back to disk in the load format.
func (b *Blacklist) Save(path string) error {
	b.mu.RLock()
	raw := make(map[string]*string, len(b.entries))
	for ticker, exp := range b.entries {
		if exp == nil {
			raw[ticker] = nil
			continue
		}
		s := exp.Format(blacklistDateFormat)
		raw[ticker] = &s
	}
	b.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("blacklist marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("blacklist write %s: %w", path, err)
	}
	return nil
}

// AddPermanent adds tickers with no expiry, e.g. the configured
// ticker_blacklist_extra set.
func (b *Blacklist) AddPermanent(tickers ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tickers {
		if t != "" {
			b.entries[t] = nil
		}
	}
}

// AddUntil adds or extends a dated entry. An existing permanent entry
// stays permanent; a later expiry wins over an earlier one.
func (b *Blacklist) AddUntil(ticker string, expiry time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.entries[ticker]
	if ok && cur == nil {
		return
	}
	if ok && cur.After(expiry) {
		return
	}
	b.entries[ticker] = &expiry
}

// Contains reports whether ticker is excluded as of asOf.
func (b *Blacklist) Contains(ticker string, asOf time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	exp, ok := b.entries[ticker]
	if !ok {
		return false
	}
	return exp == nil || !exp.Before(asOf)
}

// Tickers returns the excluded tickers as of asOf, sorted.
func (b *Blacklist) Tickers(asOf time.Time) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.entries))
	for t, exp := range b.entries {
		if exp == nil || !exp.Before(asOf) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
