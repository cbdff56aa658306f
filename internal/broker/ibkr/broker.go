// Package ibkr adapts the Interactive Brokers Client Portal gateway to
// the model.Broker port. It owns ticker→conid resolution (cached in the
// instrument store across restarts) and the venue trading schedule.
package ibkr

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"directindex/internal/marketdata"
	"directindex/internal/model"
	"directindex/pkg/clientportal"
)

// Config tunes the adapter. The zero value targets the first account on
// the session and proxies NYSE hours through AAPL@NASDAQ's schedule.
type Config struct {
	AccountID string // discovered from the session when empty

	// ScheduleSymbol/ScheduleExchange pick the contract whose venue
	// schedule stands in for "is the market open".
	ScheduleSymbol   string // default: AAPL
	ScheduleExchange string // default: NASDAQ
}

// Broker implements model.Broker and marketdata.Fetcher over one
// Client Portal session.
type Broker struct {
	cp  *clientportal.Client
	ins model.InstrumentStore
	cfg Config

	mu        sync.Mutex
	accountID string
	conids    map[string]string // ticker → conid
	tickers   map[string]string // conid → ticker
	sched     *clientportal.Schedule
	schedDay  string
}

var (
	_ model.Broker       = (*Broker)(nil)
	_ marketdata.Fetcher = (*Broker)(nil)
)

// New returns a broker over cp, warming the conid cache from the
// instrument store.
func New(cp *clientportal.Client, ins model.InstrumentStore, cfg Config) (*Broker, error) {
	if cfg.ScheduleSymbol == "" {
		cfg.ScheduleSymbol = "AAPL"
	}
	if cfg.ScheduleExchange == "" {
		cfg.ScheduleExchange = "NASDAQ"
	}

	b := &Broker{
		cp:      cp,
		ins:     ins,
		cfg:     cfg,
		conids:  make(map[string]string),
		tickers: make(map[string]string),
	}

	cached, err := ins.Instruments()
	if err != nil {
		return nil, fmt.Errorf("load instrument cache: %w", err)
	}
	for _, in := range cached {
		b.conids[in.Ticker] = in.ConID
		b.tickers[in.ConID] = in.Ticker
	}
	if len(cached) > 0 {
		log.Printf("[ibkr] warmed conid cache with %d instruments", len(cached))
	}
	return b, nil
}

// gatewaySymbol converts a dashed class-share ticker to the gateway's
// space convention (BRK-B to "BRK B"); localSymbol undoes it.
func gatewaySymbol(ticker string) string { return strings.ReplaceAll(ticker, "-", " ") }

func localSymbol(desc string) string { return strings.ReplaceAll(desc, " ", "-") }

// ---- Session & account ----

// EnsureAuthenticated verifies the gateway session, triggering
// reauthentication when it lapsed.
func (b *Broker) EnsureAuthenticated(ctx context.Context) error {
	return b.cp.EnsureAuthenticated(ctx)
}

func (b *Broker) account(ctx context.Context) (string, error) {
	b.mu.Lock()
	cached := b.accountID
	b.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	if b.cfg.AccountID != "" {
		b.mu.Lock()
		b.accountID = b.cfg.AccountID
		b.mu.Unlock()
		return b.cfg.AccountID, nil
	}

	acct, err := b.cp.AccountID(ctx)
	if err != nil {
		return "", err
	}
	log.Printf("[ibkr] using account %s", acct)
	b.mu.Lock()
	b.accountID = acct
	b.mu.Unlock()
	return acct, nil
}

// Cash returns the account's settled cash.
func (b *Broker) Cash(ctx context.Context) (float64, error) {
	acct, err := b.account(ctx)
	if err != nil {
		return 0, err
	}
	return b.cp.CashBalance(ctx, acct)
}

// Positions returns broker-reported holdings. The gateway's position
// cache is invalidated first so post-trade reads are not stale.
func (b *Broker) Positions(ctx context.Context) ([]model.BrokerPosition, error) {
	acct, err := b.account(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.cp.InvalidatePositions(ctx, acct); err != nil {
		return nil, err
	}

	rows, err := b.cp.Positions(ctx, acct)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.BrokerPosition, 0, len(rows))
	for _, row := range rows {
		if row.Quantity == 0 {
			continue
		}
		conid := strconv.FormatInt(row.ConID, 10)
		ticker, ok := b.tickers[conid]
		if !ok {
			// Unresolved conid: the contract description is the symbol
			// for stocks, in the gateway's space convention.
			ticker = localSymbol(strings.TrimSpace(row.ContractDesc))
		}
		out = append(out, model.BrokerPosition{
			Ticker:    ticker,
			ConID:     conid,
			Quantity:  row.Quantity,
			AvgCost:   row.AvgCost,
			MarkPrice: row.MktPrice,
		})
	}
	return out, nil
}

// ---- Instrument resolution ----

// Resolve maps tickers to conids, querying the gateway only for cache
// misses and persisting new resolutions. Tickers the gateway cannot
// resolve are absent from the result.
func (b *Broker) Resolve(ctx context.Context, tickers []string) (map[string]string, error) {
	out := make(map[string]string, len(tickers))
	var missing []string

	b.mu.Lock()
	for _, t := range tickers {
		if conid, ok := b.conids[t]; ok {
			out[t] = conid
		} else {
			missing = append(missing, t)
		}
	}
	b.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	sort.Strings(missing)

	// The gateway wants class shares in space form: BRK-B goes out as
	// "BRK B" and comes back keyed the same way.
	sent := make(map[string]string, len(missing))
	query := make([]string, 0, len(missing))
	for _, t := range missing {
		sym := gatewaySymbol(t)
		sent[sym] = t
		query = append(query, sym)
	}

	resolved, err := b.cp.StockConIDs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("resolve conids: %w", err)
	}

	fresh := make([]model.Instrument, 0, len(resolved))
	b.mu.Lock()
	for sym, conid := range resolved {
		t, ok := sent[sym]
		if !ok {
			t = sym
		}
		b.conids[t] = conid
		b.tickers[conid] = t
		out[t] = conid
		fresh = append(fresh, model.Instrument{Ticker: t, ConID: conid})
	}
	b.mu.Unlock()

	if len(fresh) > 0 {
		if err := b.ins.SaveInstruments(fresh); err != nil {
			log.Printf("[ibkr] instrument cache save warning: %v", err)
		}
		log.Printf("[ibkr] resolved %d new conids (%d cached)", len(fresh), len(out)-len(fresh))
	}
	return out, nil
}

// ---- Market data ----

// FetchMarks pulls mark prices for tickers through the snapshot
// endpoint. Tickers without a conid or a live mark are absent.
func (b *Broker) FetchMarks(ctx context.Context, tickers []string) (map[string]float64, error) {
	conids, err := b.Resolve(ctx, tickers)
	if err != nil {
		return nil, err
	}
	if len(conids) == 0 {
		return map[string]float64{}, nil
	}

	ids := make([]string, 0, len(conids))
	for _, conid := range conids {
		ids = append(ids, conid)
	}
	sort.Strings(ids)

	marks, err := b.cp.MarkPrices(ctx, ids)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(marks))
	for conid, px := range marks {
		if ticker, ok := b.tickers[conid]; ok {
			out[ticker] = px
		}
	}
	return out, nil
}

// MarketOpen reports whether the venue is trading right now. The
// schedule is fetched once per day and answered locally after that.
func (b *Broker) MarketOpen(ctx context.Context) (bool, error) {
	now := time.Now()
	day := now.UTC().Format("20060102")

	b.mu.Lock()
	sched, schedDay := b.sched, b.schedDay
	b.mu.Unlock()

	if sched == nil || schedDay != day {
		fresh, err := b.cp.TradingSchedule(ctx, "STK", b.cfg.ScheduleSymbol, b.cfg.ScheduleExchange)
		if err != nil {
			return false, fmt.Errorf("fetch trading schedule: %w", err)
		}
		b.mu.Lock()
		b.sched, b.schedDay = fresh, day
		b.mu.Unlock()
		sched = fresh
	}
	return sched.IsOpen(now), nil
}

// ---- Orders & fills ----

// SubmitOrders places whole-share market orders. Tickers that cannot be
// resolved to a conid fail the whole batch before anything is sent.
func (b *Broker) SubmitOrders(ctx context.Context, orders []model.TradeOrder) error {
	if len(orders) == 0 {
		return nil
	}

	tickers := make([]string, 0, len(orders))
	for _, o := range orders {
		tickers = append(tickers, o.Ticker)
	}
	conids, err := b.Resolve(ctx, tickers)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if _, ok := conids[o.Ticker]; !ok {
			return fmt.Errorf("no conid for %s, refusing to submit batch", o.Ticker)
		}
	}

	acct, err := b.account(ctx)
	if err != nil {
		return err
	}

	cpOrders := make([]clientportal.Order, 0, len(orders))
	for _, o := range orders {
		conid, err := strconv.ParseInt(conids[o.Ticker], 10, 64)
		if err != nil {
			return fmt.Errorf("bad conid %q for %s: %w", conids[o.Ticker], o.Ticker, err)
		}
		cpOrders = append(cpOrders, clientportal.Order{
			ConID:         conid,
			ClientOrderID: o.ClientOrderID,
			Side:          string(o.Side),
			Quantity:      float64(o.Shares),
		})
	}

	results, err := b.cp.SubmitOrders(ctx, acct, cpOrders)
	if err != nil {
		return err
	}
	if len(results) < len(orders) {
		return fmt.Errorf("broker acknowledged %d of %d orders", len(results), len(orders))
	}
	return nil
}

// Fills returns executions matching the given client order ids. The
// gateway reports sides as B/S and money fields as quoted strings.
func (b *Broker) Fills(ctx context.Context, clientOrderIDs []string) ([]model.Fill, error) {
	wanted := make(map[string]bool, len(clientOrderIDs))
	for _, id := range clientOrderIDs {
		wanted[id] = true
	}

	trades, err := b.cp.Trades(ctx)
	if err != nil {
		return nil, err
	}

	var fills []model.Fill
	for i := range trades {
		tr := &trades[i]
		if !wanted[tr.OrderRef] {
			continue
		}
		side := model.SideBuy
		if tr.Side == "S" {
			side = model.SideSell
		}
		fills = append(fills, model.Fill{
			ClientOrderID: tr.OrderRef,
			ExecutionID:   tr.ExecutionID,
			Ticker:        tr.Symbol,
			Side:          side,
			Quantity:      tr.Size,
			Price:         tr.Price.InexactFloat64(),
			Commission:    tr.Commission.InexactFloat64(),
			ExecutedAt:    tr.Time(),
		})
	}
	return fills, nil
}
