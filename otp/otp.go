// Package otp implements RFC 6238 time-based one-time passwords.
//
// Two profiles are used by the engine: the authenticator profile
// (30 second step, one step of clock drift either way) for enrolled
// TOTP factors, and the channel profile (300 second step, no drift)
// for codes delivered out of band against a fresh ephemeral secret.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

// ErrInvalidSecret is returned when a secret is empty or not valid
// unpadded base32.
var ErrInvalidSecret = errors.New("invalid otp secret")

// Config controls code generation and verification.
type Config struct {
	Issuer    string
	Period    int // step length in seconds
	Digits    int
	Skew      int // steps of drift accepted either side of now
	Algorithm string
}

// AuthenticatorConfig is the profile for enrolled authenticator apps.
func AuthenticatorConfig(issuer string) Config {
	return Config{Issuer: issuer, Period: 30, Digits: 6, Skew: 1, Algorithm: "SHA1"}
}

// ChannelConfig is the profile for codes delivered out of band. The long
// step absorbs delivery latency; drift is zero because the secret is
// ephemeral and minted at send time.
func ChannelConfig(issuer string) Config {
	return Config{Issuer: issuer, Period: 300, Digits: 6, Skew: 0, Algorithm: "SHA1"}
}

// Generator produces and verifies codes for a fixed Config. Safe for
// concurrent use.
type Generator struct {
	config Config
}

// New returns a Generator, defaulting the algorithm to SHA1.
func New(cfg Config) *Generator {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &Generator{config: cfg}
}

// GenerateSecret returns a fresh 160-bit secret in unpadded base32.
func (g *Generator) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI for enrolling secret under
// account in an authenticator app.
func (g *Generator) ProvisionURI(secret, account string) string {
	issuer := g.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(g.config.Period))
	v.Set("digits", strconv.Itoa(g.config.Digits))
	v.Set("algorithm", strings.ToUpper(g.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for the step containing now.
func (g *Generator) Code(secret string, now time.Time) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, now.Unix()/int64(g.config.Period), g.config.Digits, g.config.Algorithm)
}

// VerifyCode reports whether code is valid for secret at now, checking
// the configured drift window. Malformed codes verify false without error.
func (g *Generator) VerifyCode(secret, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != g.config.Digits || !isNumeric(trimmed) {
		return false, nil
	}

	raw, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	baseCounter := now.Unix() / int64(g.config.Period)
	for step := -g.config.Skew; step <= g.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(raw, counter, g.config.Digits, g.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := secretEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported otp algorithm")
	}
}
