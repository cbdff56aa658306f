// Package clientportal is a REST client for the Interactive Brokers
// Client Portal gateway. It covers session keepalive, account and
// portfolio queries, market data snapshots, contract lookup and order
// submission with the gateway's confirmation-question flow.
//
// Usage example:
//
//	cp := clientportal.New(clientportal.Config{BaseURL: "https://localhost:5000/v1/api"})
//	if err := cp.EnsureAuthenticated(ctx); err != nil { log.Fatal(err) }
//	acct, err := cp.AccountID(ctx)
//	if err != nil { log.Fatal(err) }
//	cash, err := cp.CashBalance(ctx, acct)
package clientportal

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ---- Config & client ----

type Config struct {
	BaseURL string // e.g. "https://localhost:5000/v1/api"

	Timeout           time.Duration // default: 15s
	Debug             bool
	VerifyTLS         bool    // the local gateway serves a self-signed cert; default skips verification
	RequestsPerSecond float64 // default: 10 (gateway global limit)

	BreakerFailures int           // consecutive failures before the breaker opens; default: 5
	BreakerReset    time.Duration // open duration before a probe; default: 10s
}

// Client talks to one Client Portal gateway.
type Client struct {
	baseURL string
	debug   bool

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker

	// SessionExpiryHook is called when the gateway reports the session
	// is no longer authenticated (optional).
	SessionExpiryHook func()

	// ObserveCall is called after every gateway round trip with the
	// route name and wall time, including rate-limiter wait (optional).
	ObserveCall func(route string, dur time.Duration)
}

const (
	defaultTimeout = 15 * time.Second
	defaultRPS     = 10.0
)

var routes = map[string]string{
	"auth.status":         "/iserver/auth/status",
	"auth.reauthenticate": "/iserver/reauthenticate",
	"accounts":            "/iserver/accounts",

	"portfolio.summary":    "/portfolio/{accountId}/summary",
	"portfolio.positions":  "/portfolio/{accountId}/positions/{page}",
	"portfolio.invalidate": "/portfolio/{accountId}/positions/invalidate",

	"orders.submit": "/iserver/account/{accountId}/orders",
	"orders.reply":  "/iserver/reply/{replyId}",
	"orders.live":   "/iserver/account/orders",
	"order.status":  "/iserver/account/order/status/{orderId}",
	"trades":        "/iserver/account/trades",

	"marketdata.snapshot": "/iserver/marketdata/snapshot",
	"secdef.stocks":       "/trsrv/stocks",
	"secdef.schedule":     "/trsrv/secdef/schedule",
}

// New initializes the client. The zero Config targets a local gateway
// once BaseURL is set.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset == 0 {
		cfg.BreakerReset = 10 * time.Second
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !cfg.VerifyTLS,
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		debug:      cfg.Debug,
		httpClient: &http.Client{Transport: tr, Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
		breaker:    NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset),
	}
}

// Breaker exposes the circuit breaker for health checks.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// ---- Request helpers ----

func (c *Client) buildURL(route string, pathArgs map[string]string, query url.Values) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	for k, v := range pathArgs {
		uri = strings.Replace(uri, "{"+k+"}", url.PathEscape(v), 1)
	}
	full := c.baseURL + uri
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full, nil
}

// doRequest performs one HTTP call through the rate limiter and circuit
// breaker, returning the raw body and status code. Gateway responses
// mix JSON objects and arrays, so decoding is left to the typed
// wrappers.
func (c *Client) doRequest(ctx context.Context, method, route string, pathArgs map[string]string, query url.Values, jsonBody any) ([]byte, int, error) {
	fullURL, err := c.buildURL(route, pathArgs, query)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	if c.ObserveCall != nil {
		defer func() { c.ObserveCall(route, time.Since(start)) }()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var raw []byte
	var status int
	err = c.breaker.Execute(func() error {
		var body io.Reader
		if jsonBody != nil {
			b, err := json.Marshal(jsonBody)
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			body = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		if c.debug {
			log.Printf("[clientportal] request: %s %s body=%v", method, fullURL, jsonBody)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Printf("[clientportal] HTTP error: %s %s err=%v", method, fullURL, err)
			return err
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		status = resp.StatusCode
		if err != nil {
			return err
		}

		if c.debug {
			log.Printf("[clientportal] response: code=%d body=%s", status, string(raw))
		}

		if status == http.StatusUnauthorized {
			if c.SessionExpiryHook != nil {
				c.SessionExpiryHook()
			}
			return &AuthenticationError{Status: status, Message: strings.TrimSpace(string(raw))}
		}
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("gateway %s %s: status %d: %s", method, route, status, string(raw))
		}
		return nil
	})
	return raw, status, err
}

func (c *Client) getJSON(ctx context.Context, route string, pathArgs map[string]string, query url.Values, out any) error {
	raw, status, err := c.doRequest(ctx, http.MethodGet, route, pathArgs, query, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway GET %s: status %d: %s", route, status, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway GET %s: parse response: %w", route, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, route string, pathArgs map[string]string, jsonBody, out any) error {
	raw, status, err := c.doRequest(ctx, http.MethodPost, route, pathArgs, nil, jsonBody)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway POST %s: status %d: %s", route, status, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway POST %s: parse response: %w", route, err)
	}
	return nil
}

// ---- Session ----

// AuthStatus reports whether the gateway session is authenticated.
func (c *Client) AuthStatus(ctx context.Context) (bool, error) {
	var res struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := c.postJSON(ctx, "auth.status", nil, nil, &res); err != nil {
		return false, err
	}
	return res.Authenticated, nil
}

// Reauthenticate asks the gateway to re-establish its brokerage session.
func (c *Client) Reauthenticate(ctx context.Context) error {
	var res struct {
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, "auth.reauthenticate", nil, nil, &res); err != nil {
		return err
	}
	if res.Message != "triggered" {
		return &AuthenticationError{Message: fmt.Sprintf("reauthenticate not triggered: %q", res.Message)}
	}
	return nil
}

// EnsureAuthenticated checks the session and triggers reauthentication
// when it is down, polling until the session comes back or the attempts
// run out.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	ok, err := c.AuthStatus(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	log.Printf("[clientportal] session not authenticated, triggering reauthentication")
	if err := c.Reauthenticate(ctx); err != nil {
		return err
	}

	for attempt := 0; attempt < 6; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
		ok, err := c.AuthStatus(ctx)
		if err != nil {
			continue
		}
		if ok {
			log.Printf("[clientportal] session reauthenticated")
			return nil
		}
	}
	return &AuthenticationError{Message: "session did not recover after reauthentication"}
}

// AccountID returns the first brokerage account on the session.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	var res struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.getJSON(ctx, "accounts", nil, nil, &res); err != nil {
		return "", err
	}
	if len(res.Accounts) == 0 {
		return "", fmt.Errorf("gateway returned no accounts")
	}
	return res.Accounts[0], nil
}
