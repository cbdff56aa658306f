package api

import (
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func TestSessionLoginAndValidate(t *testing.T) {
	s, err := newSessions(testHash(t, "open-sesame"), "", time.Hour)
	if err != nil {
		t.Fatalf("newSessions: %v", err)
	}

	if _, err := s.login("wrong", ""); !errors.Is(err, errBadPassword) {
		t.Fatalf("wrong password: got %v, want errBadPassword", err)
	}

	token, err := s.login("open-sesame", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.valid(token) {
		t.Error("fresh token should be valid")
	}
	if s.valid("no-such-token") {
		t.Error("unknown token should be invalid")
	}
	if s.valid("") {
		t.Error("empty token should be invalid")
	}

	s.logout(token)
	if s.valid(token) {
		t.Error("token should be invalid after logout")
	}
}

func TestSessionExpiry(t *testing.T) {
	s, err := newSessions(testHash(t, "pw"), "", 30*time.Minute)
	if err != nil {
		t.Fatalf("newSessions: %v", err)
	}

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, err := s.login("pw", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	now = now.Add(29 * time.Minute)
	if !s.valid(token) {
		t.Error("token should still be valid before TTL")
	}

	now = now.Add(2 * time.Minute)
	if s.valid(token) {
		t.Error("token should expire after TTL")
	}
	if got := s.count(); got != 0 {
		t.Errorf("count after expiry: got %d, want 0", got)
	}
}

func TestSessionTOTPSecondFactor(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	s, err := newSessions(testHash(t, "pw"), secret, time.Hour)
	if err != nil {
		t.Fatalf("newSessions: %v", err)
	}

	if _, err := s.login("pw", ""); !errors.Is(err, errBadOTP) {
		t.Fatalf("missing otp: got %v, want errBadOTP", err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if _, err := s.login("pw", code); err != nil {
		t.Fatalf("login with valid otp: %v", err)
	}

	// Password is checked first even with a TOTP configured.
	if _, err := s.login("wrong", code); !errors.Is(err, errBadPassword) {
		t.Fatalf("wrong password with otp: got %v, want errBadPassword", err)
	}
}

func TestSessionRejectsBadConfig(t *testing.T) {
	if _, err := newSessions("", "", time.Hour); err == nil {
		t.Error("empty hash should be rejected")
	}
	if _, err := newSessions("not-a-bcrypt-hash", "", time.Hour); err == nil {
		t.Error("malformed hash should be rejected")
	}
}
