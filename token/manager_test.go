package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/authcore-dev/authcore/crypt"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return testManagerWithConfig(t, testConfig())
}

func testManagerWithConfig(t *testing.T, cfg Config) *Manager {
	t.Helper()
	cipher, err := crypt.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCipher error: %v", err)
	}
	m, err := NewManager(cfg, cipher)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m
}

func testConfig() Config {
	return Config{
		SigningKey: []byte("unit-test-signing-key"),
		Issuer:     "authcore-test",
		Audience:   "authcore-clients",
		Subject:    "access",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Tolerance:  30 * time.Second,
	}
}

func testPayload() Payload {
	return Payload{
		UserID:    "user-1",
		SessionID: "session-1",
		LoginAt:   time.Now().Unix(),
		IP:        "203.0.113.7",
		UserAgent: "test-agent/1.0",
	}
}

func TestAccessRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	tok, err := m.CreateAccess(testPayload(), now)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	p, err := m.ParseAccess(tok, now)
	if err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
	if p.UserID != "user-1" || p.SessionID != "session-1" || p.IP != "203.0.113.7" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}

func TestAccessPayloadIsOpaque(t *testing.T) {
	m := testManager(t)

	tok, err := m.CreateAccess(testPayload(), time.Now())
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	// The identity fields must not appear in the JWT segments.
	if strings.Contains(tok, "user-1") || strings.Contains(tok, "session-1") {
		t.Fatal("payload leaked into token text")
	}
}

func TestAccessToleranceShrinksValidity(t *testing.T) {
	m := testManager(t)
	issued := time.Now()

	tok, err := m.CreateAccess(testPayload(), issued)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	// Just inside the tolerance-adjusted deadline.
	at := issued.Add(15*time.Minute - 31*time.Second)
	if _, err := m.ParseAccess(tok, at); err != nil {
		t.Fatalf("expected token to be valid at %v: %v", at, err)
	}

	// Inside the raw window but past exp - tolerance.
	at = issued.Add(15*time.Minute - 10*time.Second)
	if _, err := m.ParseAccess(tok, at); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired inside the tolerance band, got %v", err)
	}
}

func TestAccessRejectsTampering(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	tok, err := m.CreateAccess(testPayload(), now)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := m.ParseAccess(tampered, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered token, got %v", err)
	}
	if _, err := m.ParseAccess("not-a-jwt", now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for garbage, got %v", err)
	}
}

func TestAccessRejectsWrongKey(t *testing.T) {
	m := testManager(t)

	other := testConfig()
	other.SigningKey = []byte("a-different-signing-key")
	m2 := testManagerWithConfig(t, other)

	now := time.Now()
	tok, err := m.CreateAccess(testPayload(), now)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}
	if _, err := m2.ParseAccess(tok, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid across keys, got %v", err)
	}
}

func TestAccessRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()
	cfg.Issuer = "someone-else"
	other := testManagerWithConfig(t, cfg)

	m := testManager(t)
	now := time.Now()

	tok, err := other.CreateAccess(testPayload(), now)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}
	if _, err := m.ParseAccess(tok, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for foreign issuer, got %v", err)
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	tok, err := m.CreateRefresh(testPayload(), now)
	if err != nil {
		t.Fatalf("CreateRefresh error: %v", err)
	}

	// Refresh tokens are opaque blobs, not JWTs.
	if strings.Count(tok, ".") == 2 {
		t.Fatal("refresh token looks like a JWT")
	}

	p, err := m.ParseRefresh(tok, now)
	if err != nil {
		t.Fatalf("ParseRefresh error: %v", err)
	}
	if p.UserID != "user-1" || p.SessionID != "session-1" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}

func TestRefreshEmbeddedExpiry(t *testing.T) {
	m := testManager(t)
	issued := time.Now()

	tok, err := m.CreateRefresh(testPayload(), issued)
	if err != nil {
		t.Fatalf("CreateRefresh error: %v", err)
	}

	if _, err := m.ParseRefresh(tok, issued.Add(29*24*time.Hour)); err != nil {
		t.Fatalf("expected refresh token to be valid before expiry: %v", err)
	}
	if _, err := m.ParseRefresh(tok, issued.Add(31*24*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired past embedded expiry, got %v", err)
	}
	// Inside the tolerance band.
	if _, err := m.ParseRefresh(tok, issued.Add(30*24*time.Hour-10*time.Second)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired inside tolerance band, got %v", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	m := testManager(t)

	for _, input := range []string{"", "AAAA", "definitely-not-a-refresh-token"} {
		if _, err := m.ParseRefresh(input, time.Now()); !errors.Is(err, ErrInvalid) {
			t.Fatalf("input %q: expected ErrInvalid, got %v", input, err)
		}
	}
}

func TestNewManagerValidation(t *testing.T) {
	cipher, err := crypt.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCipher error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing signing key", func(c *Config) { c.SigningKey = nil }},
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *Config) { c.RefreshTTL = 0 }},
		{"negative tolerance", func(c *Config) { c.Tolerance = -time.Second }},
		{"tolerance swallows ttl", func(c *Config) { c.Tolerance = c.AccessTTL }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := NewManager(cfg, cipher); err == nil {
				t.Fatal("expected configuration to be rejected")
			}
		})
	}

	t.Run("nil cipher", func(t *testing.T) {
		if _, err := NewManager(testConfig(), nil); err == nil {
			t.Fatal("expected nil cipher to be rejected")
		}
	})
}
