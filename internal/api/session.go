package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// sessionCookie is the auth cookie name.
const sessionCookie = "session"

var (
	errBadPassword = errors.New("invalid password")
	errBadOTP      = errors.New("invalid one-time code")
)

// sessions tracks authenticated dashboard sessions. Tokens are random
// uuids handed out by login and expire after the configured TTL; there
// is no refresh, a dashboard open past the TTL logs in again.
type sessions struct {
	hash       []byte
	totpSecret string
	ttl        time.Duration

	now func() time.Time // stubbed in tests

	mu     sync.Mutex
	active map[string]time.Time // token -> expiry
}

func newSessions(passwordHash, totpSecret string, ttl time.Duration) (*sessions, error) {
	if passwordHash == "" {
		return nil, errors.New("api: password hash not configured")
	}
	// A mangled hash should fail at startup, not at first login.
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("api: bad password hash: %w", err)
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &sessions{
		hash:       []byte(passwordHash),
		totpSecret: totpSecret,
		ttl:        ttl,
		now:        time.Now,
		active:     make(map[string]time.Time),
	}, nil
}

// login verifies the password, and the one-time code when a TOTP
// secret is configured, then mints a session token.
func (s *sessions) login(password, otpCode string) (string, error) {
	if bcrypt.CompareHashAndPassword(s.hash, []byte(password)) != nil {
		return "", errBadPassword
	}
	if s.totpSecret != "" && !totp.Validate(otpCode, s.totpSecret) {
		return "", errBadOTP
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.active[token] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return token, nil
}

// valid reports whether token belongs to a live session. Expired
// sessions are dropped on sight.
func (s *sessions) valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.active[token]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.active, token)
		return false
	}
	return true
}

// logout forgets the token. Unknown tokens are a no-op.
func (s *sessions) logout(token string) {
	s.mu.Lock()
	delete(s.active, token)
	s.mu.Unlock()
}

// count returns the number of live sessions, sweeping expired ones.
func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for tok, exp := range s.active {
		if now.After(exp) {
			delete(s.active, tok)
		}
	}
	return len(s.active)
}
