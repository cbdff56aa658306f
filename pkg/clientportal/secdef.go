package clientportal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type stockContract struct {
	ConID    int64  `json:"conid"`
	Exchange string `json:"exchange"`
	IsUS     bool   `json:"isUS"`
}

type stockInfo struct {
	Name       string          `json:"name"`
	AssetClass string          `json:"assetClass"`
	Contracts  []stockContract `json:"contracts"`
}

// StockConIDs resolves tickers to contract ids, assuming the first
// listed contract is the primary one. Unresolved tickers are absent
// from the result.
func (c *Client) StockConIDs(ctx context.Context, symbols []string) (map[string]string, error) {
	if len(symbols) == 0 {
		return map[string]string{}, nil
	}

	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	var res map[string][]stockInfo
	if err := c.getJSON(ctx, "secdef.stocks", nil, query, &res); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		infos := res[sym]
		if len(infos) == 0 || len(infos[0].Contracts) == 0 {
			log.Printf("[clientportal] no conid found for %s, skipping", sym)
			continue
		}
		out[sym] = strconv.FormatInt(infos[0].Contracts[0].ConID, 10)
	}
	return out, nil
}

// DaySchedule is one day of a venue's trading schedule. Rows dated in
// the 20000101–20000107 range are weekday defaults; any other date is
// a special case (holiday, short session).
type DaySchedule struct {
	TradingScheduleDate json.Number   `json:"tradingScheduleDate"`
	TradingTimes        []TradingTime `json:"tradingtimes"`
}

// TradingTime is a venue-local open/close pair in HHMM form.
type TradingTime struct {
	OpeningTime string `json:"openingTime"`
	ClosingTime string `json:"closingTime"`
}

type scheduleEntry struct {
	ID         string        `json:"id"`
	TradeVenue string        `json:"tradeVenueId"`
	Schedules  []DaySchedule `json:"schedules"`
}

// TradingSchedule fetches the venue schedule for one symbol and indexes
// it for open checks in New York time.
func (c *Client) TradingSchedule(ctx context.Context, assetClass, symbol, exchangeFilter string) (*Schedule, error) {
	query := url.Values{}
	query.Set("assetClass", assetClass)
	query.Set("symbol", symbol)
	query.Set("exchangeFilter", exchangeFilter)

	var res []scheduleEntry
	if err := c.getJSON(ctx, "secdef.schedule", nil, query, &res); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("gateway returned no trading schedule for %s", symbol)
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return NewSchedule(res[0].Schedules, loc), nil
}

type openClose struct {
	open  int // minutes since venue-local midnight
	close int
}

// Schedule answers "is the venue open at t" from a schedule response.
type Schedule struct {
	tz       *time.Location
	defaults map[time.Weekday]openClose
	special  map[string]openClose // keyed YYYYMMDD
}

// NewSchedule indexes day schedules. A day with no trading times is
// closed all day.
func NewSchedule(days []DaySchedule, tz *time.Location) *Schedule {
	s := &Schedule{
		tz:       tz,
		defaults: make(map[time.Weekday]openClose),
		special:  make(map[string]openClose),
	}
	for _, day := range days {
		date := day.TradingScheduleDate.String()
		t, err := time.Parse("20060102", date)
		if err != nil {
			continue
		}
		oc := makeOpenClose(day.TradingTimes)
		if t.Year() == 2000 && t.Month() == time.January && t.Day() <= 7 {
			s.defaults[t.Weekday()] = oc
		} else {
			s.special[date] = oc
		}
	}
	return s
}

// IsOpen reports whether the venue trades at t. Special-case dates win
// over weekday defaults; a weekday with no schedule at all is closed.
func (s *Schedule) IsOpen(t time.Time) bool {
	local := t.In(s.tz)
	minutes := local.Hour()*60 + local.Minute()

	oc, ok := s.special[local.Format("20060102")]
	if !ok {
		oc, ok = s.defaults[local.Weekday()]
		if !ok {
			return false
		}
	}
	return minutes > oc.open && minutes < oc.close
}

func makeOpenClose(times []TradingTime) openClose {
	if len(times) == 0 {
		return openClose{}
	}
	return openClose{
		open:  parseHHMM(times[0].OpeningTime),
		close: parseHHMM(times[0].ClosingTime),
	}
}

func parseHHMM(s string) int {
	if len(s) != 4 {
		return 0
	}
	h, errH := strconv.Atoi(s[:2])
	m, errM := strconv.Atoi(s[2:])
	if errH != nil || errM != nil {
		return 0
	}
	return h*60 + m
}
