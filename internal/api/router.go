// Package api serves the dashboard JSON API and the WebSocket cycle
// event stream. All data endpoints sit behind a password session; the
// rebalancer itself never depends on this package, the two processes
// meet only in SQLite and Redis.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"directindex/internal/execution"
	"directindex/internal/marketdata"
	"directindex/internal/metrics"
	"directindex/internal/model"
	"directindex/internal/optimizer"
)

// Config configures the API server.
type Config struct {
	Addr         string
	PasswordHash string           // bcrypt hash of the dashboard password
	TOTPSecret   string           // enables the second factor when non-empty
	SessionTTL   time.Duration    // zero means 12h
	Defaults     optimizer.Params // served when no override is stored
}

// ParamsStore carries optimizer parameter overrides between the API
// and the rebalancer.
type ParamsStore interface {
	SaveParams(ctx context.Context, p optimizer.Params) error
	LoadParams(ctx context.Context) (optimizer.Params, bool, error)
}

// TradeLog is the journal surface the trades endpoint reads.
type TradeLog interface {
	GetTrades(limit int) ([]execution.TradeRecord, error)
}

// Deps are the server's collaborators. Params and Hub are optional;
// endpoints needing an absent dep answer 503.
type Deps struct {
	Data    *marketdata.Store
	NAVs    model.NAVStore
	Trades  TradeLog
	Params  ParamsStore
	Hub     *Hub
	Metrics *metrics.Metrics
}

// Server is the dashboard API server.
type Server struct {
	cfg      Config
	deps     Deps
	sessions *sessions
	srv      *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	sess, err := newSessions(cfg.PasswordHash, cfg.TOTPSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, deps: deps, sessions: sess}
	s.srv = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
	}
	return s, nil
}

// routes builds the mux. Auth endpoints are open, everything else is
// session-gated. The WS route skips the recording wrapper because the
// upgrade needs the raw ResponseWriter.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth", s.record("auth", s.handleAuth))
	mux.HandleFunc("/api/auth/logout", s.record("logout", s.handleLogout))
	mux.HandleFunc("/api/returns", s.record("returns", s.authed(s.handleReturns)))
	mux.HandleFunc("/api/holdings", s.record("holdings", s.authed(s.handleHoldings)))
	mux.HandleFunc("/api/parameters", s.record("parameters", s.authed(s.handleParameters)))
	mux.HandleFunc("/api/trades", s.record("trades", s.authed(s.handleTrades)))
	mux.HandleFunc("/ws", s.authed(s.handleWS))
	return mux
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] serving at http://localhost%s", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
