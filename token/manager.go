package token

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authcore-dev/authcore/crypt"
)

// ErrInvalid is returned for tokens that are malformed, carry a bad
// signature, fail claim validation, or cannot be decrypted.
var ErrInvalid = errors.New("invalid token")

// ErrExpired is returned for structurally valid tokens past their
// tolerance-adjusted deadline.
var ErrExpired = errors.New("expired token")

// Payload is the identity envelope carried by both token kinds.
type Payload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	LoginAt   int64  `json:"loginAt"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Config holds signing material, claim values, and lifetimes.
type Config struct {
	SigningKey []byte // HS256 secret
	Issuer     string
	Audience   string
	Subject    string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Tolerance shrinks the validity window: a token expiring at exp is
	// rejected once now > exp - Tolerance.
	Tolerance time.Duration
}

// Manager creates and parses access and refresh tokens. Immutable after
// construction and safe for concurrent use.
type Manager struct {
	config        Config
	cipher        *crypt.Cipher
	parserOptions []jwt.ParserOption
}

type accessClaims struct {
	Data string `json:"data"`
	jwt.RegisteredClaims
}

type refreshRecord struct {
	Payload
	ExpiresAt int64 `json:"expiresAt"`
}

// NewManager validates cfg and returns a Manager encrypting payloads
// with cipher.
func NewManager(cfg Config, cipher *crypt.Cipher) (*Manager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("token signing key is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.Tolerance < 0 || cfg.Tolerance >= cfg.AccessTTL {
		return nil, errors.New("token tolerance must be shorter than the access lifetime")
	}
	if cipher == nil {
		return nil, errors.New("token cipher is required")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Subject != "" {
		options = append(options, jwt.WithSubject(cfg.Subject))
	}

	return &Manager{config: cfg, cipher: cipher, parserOptions: options}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// CreateAccess signs an access token for p valid from now.
func (m *Manager) CreateAccess(p Payload, now time.Time) (string, error) {
	data, err := m.sealPayload(p)
	if err != nil {
		return "", err
	}

	claims := accessClaims{
		Data: data,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   m.config.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.SigningKey)
}

// ParseAccess verifies signature and claims, applies the tolerance rule,
// and decrypts the payload. Expiry surfaces as ErrExpired, every other
// failure as ErrInvalid.
func (m *Manager) ParseAccess(tokenStr string, now time.Time) (Payload, error) {
	// Claim validation runs against the caller's clock, not the wall
	// clock, so every validity decision flows from the same now.
	options := make([]jwt.ParserOption, len(m.parserOptions), len(m.parserOptions)+1)
	copy(options, m.parserOptions)
	options = append(options, jwt.WithTimeFunc(func() time.Time { return now }))

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &accessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Payload{}, ErrExpired
		}
		return Payload{}, ErrInvalid
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || claims.ExpiresAt == nil {
		return Payload{}, ErrInvalid
	}
	if expired(claims.ExpiresAt.Time, now, m.config.Tolerance) {
		return Payload{}, ErrExpired
	}

	return m.openPayload(claims.Data)
}

// CreateRefresh seals a refresh token for p with an embedded absolute
// expiry of now plus the refresh lifetime.
func (m *Manager) CreateRefresh(p Payload, now time.Time) (string, error) {
	record := refreshRecord{Payload: p, ExpiresAt: now.Add(m.config.RefreshTTL).Unix()}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return m.cipher.Seal(raw)
}

// ParseRefresh decrypts a refresh token and applies the tolerance rule
// to its embedded expiry.
func (m *Manager) ParseRefresh(tokenStr string, now time.Time) (Payload, error) {
	raw, err := m.cipher.Open(tokenStr)
	if err != nil {
		return Payload{}, ErrInvalid
	}

	var record refreshRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return Payload{}, ErrInvalid
	}
	if record.ExpiresAt == 0 || record.UserID == "" || record.SessionID == "" {
		return Payload{}, ErrInvalid
	}
	if expired(time.Unix(record.ExpiresAt, 0), now, m.config.Tolerance) {
		return Payload{}, ErrExpired
	}

	return record.Payload, nil
}

func (m *Manager) sealPayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return m.cipher.Seal(raw)
}

func (m *Manager) openPayload(data string) (Payload, error) {
	raw, err := m.cipher.Open(data)
	if err != nil {
		return Payload{}, ErrInvalid
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, ErrInvalid
	}
	if p.UserID == "" || p.SessionID == "" {
		return Payload{}, ErrInvalid
	}
	return p, nil
}

// expired applies the tolerance rule: the deadline moves earlier by
// tolerance, so tokens close to expiry already fail.
func expired(deadline, now time.Time, tolerance time.Duration) bool {
	return now.After(deadline.Add(-tolerance))
}
