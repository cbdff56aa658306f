package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"directindex/internal/execution"
	"directindex/internal/model"
	"directindex/internal/optimizer"
)

// dateFormat is the timestamp format of the return series, matching
// what the dashboard chart expects.
const dateFormat = "2006-01-02 15:04:05"

// setCORS sets CORS headers for REST endpoints.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// record wraps a handler with CORS, the OPTIONS short-circuit and the
// request counter.
func (s *Server) record(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.deps.Metrics != nil {
			s.deps.Metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		}
	}
}

// statusRecorder captures the response status for the request counter.
// The WS route bypasses it: hijacking needs the raw ResponseWriter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// authed gates a handler behind a live session.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.valid(sessionToken(r)) {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Not authenticated"})
			return
		}
		next(w, r)
	}
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleAuth verifies the dashboard password, and the one-time code
// when a TOTP secret is configured, then sets the session cookie.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "POST only"})
		return
	}

	var req struct {
		PW  string `json:"pw"`
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}

	token, err := s.sessions.login(req.PW, req.OTP)
	if err != nil {
		log.Printf("[api] login rejected: %v", err)
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Invalid credentials"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessions.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogout drops the session. Safe to call unauthenticated.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := sessionToken(r); tok != "" {
		s.sessions.logout(tok)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// returnPoint is one sample of a cumulative return series.
type returnPoint struct {
	Date   string  `json:"date"`
	Return float64 `json:"return"`
}

// handleReturns serves the portfolio and benchmark cumulative return
// series since inception. The portfolio series is NAV over the first
// NAV; the benchmark series chains the per-mark index returns, so both
// start at zero on the first mark.
func (s *Server) handleReturns(w http.ResponseWriter, r *http.Request) {
	points, err := s.deps.NAVs.NAVs(time.Time{})
	if err != nil {
		log.Printf("[api] nav history read failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "nav history unavailable"})
		return
	}

	pf := make([]returnPoint, 0, len(points))
	idx := make([]returnPoint, 0, len(points))
	if len(points) > 0 {
		first := points[0].NAV
		level := 1.0
		for i, p := range points {
			date := p.TS.UTC().Format(dateFormat)
			ret := 0.0
			if first > 0 {
				ret = p.NAV/first - 1
			}
			if i > 0 {
				level *= 1 + p.IndexReturn
			}
			pf = append(pf, returnPoint{Date: date, Return: ret})
			idx = append(idx, returnPoint{Date: date, Return: level - 1})
		}
	}

	writeJSON(w, http.StatusOK, map[string][]returnPoint{
		"pf_returns":    pf,
		"index_returns": idx,
	})
}

// holdingRow is one position in the holdings response, valued at the
// latest mark.
type holdingRow struct {
	Ticker              string  `json:"ticker"`
	TotalShares         float64 `json:"total_shares"`
	TotalSharesWithLoss float64 `json:"total_shares_with_loss"`
	TotalGainLoss       float64 `json:"total_gain_loss"`
	MarketPrice         float64 `json:"market_price"`
	MarketValue         float64 `json:"market_value"`
	Pct                 float64 `json:"pct"`
}

// handleHoldings serves the current portfolio valued at live marks:
// per-ticker share counts, loss-lot exposure and share of NAV, largest
// first. Tickers with no resolvable price keep zero market fields
// rather than failing the whole response.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	pf, ok, err := s.deps.Data.CurrentPortfolio()
	if err != nil {
		log.Printf("[api] snapshot read failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "snapshot unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"nav": 0.0, "positions": []holdingRow{}})
		return
	}

	prices, missing, err := s.deps.Data.MarkPrices(r.Context(), pf.Tickers())
	if err != nil {
		log.Printf("[api] mark prices failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "prices unavailable"})
		return
	}
	if len(missing) > 0 {
		log.Printf("[api] holdings: no price for %v", missing)
	}

	nav := pf.Cash
	rows := make([]holdingRow, 0, len(pf.Positions))
	for t, pos := range pf.Positions {
		px := prices[t]
		row := holdingRow{
			Ticker:      t,
			TotalShares: pos.Shares(),
			MarketPrice: px,
			MarketValue: pos.MarketValue(px),
		}
		if px > 0 {
			for i := range pos.Lots {
				if pos.Lots[i].GainPerShare(px) < 0 {
					row.TotalSharesWithLoss += pos.Lots[i].Quantity
				}
			}
			row.TotalGainLoss = pos.UnrealizedGain(px)
		}
		nav += row.MarketValue
		rows = append(rows, row)
	}
	for i := range rows {
		if nav > 0 {
			rows[i].Pct = rows[i].MarketValue / nav * 100
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Pct != rows[j].Pct {
			return rows[i].Pct > rows[j].Pct
		}
		return rows[i].Ticker < rows[j].Ticker
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"nav": nav, "positions": rows})
}

// handleParameters reads or updates the optimizer parameters. Updates
// persist to Redis and take effect on the next cycle.
func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	if s.deps.Params == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "parameter store unavailable"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, ok, err := s.deps.Params.LoadParams(r.Context())
		if err != nil {
			log.Printf("[api] params read failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "parameter store unavailable"})
			return
		}
		if !ok {
			p = s.cfg.Defaults
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodPost:
		var p optimizer.Params
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
			return
		}
		if err := p.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		if err := s.deps.Params.SaveParams(r.Context(), p); err != nil {
			log.Printf("[api] params save failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "parameter store unavailable"})
			return
		}
		log.Printf("[api] optimizer parameters updated: func=%s lookback=%dd", p.TrackingErrorFunc, p.LookbackDays)
		if s.deps.Hub != nil {
			s.deps.Hub.Broadcast(model.CycleEvent{
				Stage:   model.StageParams,
				TS:      time.Now().UTC(),
				Message: fmt.Sprintf("optimizer parameters updated: func=%s tax=%.2f", p.TrackingErrorFunc, p.TaxCoefficient),
			})
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "GET or POST"})
	}
}

// handleTrades serves the most recent journal entries, newest first.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	trades, err := s.deps.Trades.GetTrades(limit)
	if err != nil {
		log.Printf("[api] journal read failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "journal unavailable"})
		return
	}
	if trades == nil {
		trades = []execution.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// handleWS upgrades to WebSocket and streams cycle events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "event stream unavailable"})
		return
	}
	s.deps.Hub.ServeWS(w, r)
}
