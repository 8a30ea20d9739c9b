package authcore

import (
	"errors"
	"time"
)

// Config holds all engine settings. Instances are treated as immutable
// after Build; the builder clones key material on the way in.
type Config struct {
	Token    TokenConfig
	Password PasswordConfig
	MFA      MFAConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig covers both token kinds: the HS256 signing key and claim
// values for access tokens, the AES-256-GCM key sealing payloads and
// refresh tokens, and the lifetimes.
type TokenConfig struct {
	SigningKey    []byte
	EncryptionKey []byte // 32 bytes

	Issuer   string
	Audience string
	Subject  string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Tolerance shrinks every validity window: a token is rejected once
	// now > expiry - Tolerance.
	Tolerance time.Duration
}

// PasswordConfig carries the argon2id parameters, the server pepper,
// and the credential validity window.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Pepper      string
	Validity    time.Duration
}

// MFAConfig controls challenge issuance.
type MFAConfig struct {
	// Issuer labels otpauth:// provisioning URIs.
	Issuer string

	// ChallengeTTL bounds how long an issued challenge can be confirmed.
	ChallengeTTL time.Duration

	// ReferenceTTL bounds the multi-step flow records (pending logins,
	// staged password changes).
	ReferenceTTL time.Duration
}

// CacheConfig controls the Redis-backed volatile state.
type CacheConfig struct {
	Prefix      string
	SnapshotTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:     "authcore",
			Audience:   "authcore",
			Subject:    "access",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			Tolerance:  30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			Validity:    90 * 24 * time.Hour,
		},
		MFA: MFAConfig{
			Issuer:       "authcore",
			ChallengeTTL: 5 * time.Minute,
			ReferenceTTL: 10 * time.Minute,
		},
		Cache: CacheConfig{
			Prefix:      "ac",
			SnapshotTTL: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.EncryptionKey = cloneBytes(cfg.Token.EncryptionKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internal consistency. Build
// calls it; it is exported so callers can validate early.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.SigningKey) == 0 {
		return errors.New("Token SigningKey is required")
	}
	if len(c.Token.EncryptionKey) != 32 {
		return errors.New("Token EncryptionKey must be 32 bytes")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}
	if c.Token.Tolerance < 0 {
		return errors.New("Token Tolerance must be >= 0")
	}
	if c.Token.Tolerance >= c.Token.AccessTTL {
		return errors.New("Token Tolerance must be shorter than AccessTTL")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.ReferenceTTL < c.MFA.ChallengeTTL {
		return errors.New("MFA ReferenceTTL must be >= ChallengeTTL")
	}

	// Cache
	if c.Cache.SnapshotTTL <= 0 {
		return errors.New("Cache SnapshotTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Password parameters are validated by the hasher at Build.
	return nil
}
