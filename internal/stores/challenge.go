package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// Purpose scopes challenge records so a token issued for one flow can
// never satisfy another.
type Purpose string

const (
	PurposeLoginConfirm Purpose = "login-confirm"
	PurposeSetup        Purpose = "setup"
	PurposeReset        Purpose = "reset"
	PurposePassword     Purpose = "password"
)

// Challenge is a pending MFA verification bound to a reference token.
type Challenge struct {
	UserID         string
	Factor         uint8
	Secret         string
	ReferenceToken string
	ExpiresAt      int64
}

// ChallengeStore keeps pending MFA challenges in Redis, namespaced by
// purpose and keyed by challenge token. Records are single-use: Consume
// removes them atomically on read.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "mch"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(purpose Purpose, token string) string {
	return s.prefix + ":" + string(purpose) + ":" + token
}

func (s *ChallengeStore) Save(
	ctx context.Context,
	purpose Purpose,
	token string,
	record *Challenge,
	ttl time.Duration,
) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(purpose, token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the challenge without consuming it. The embedded expiry
// stamp is checked against now, which the caller supplies so the store
// stays on the engine's clock.
func (s *ChallengeStore) Get(ctx context.Context, purpose Purpose, token string, now time.Time) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(purpose, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return s.decodeLive(ctx, purpose, token, data, now)
}

// Consume returns the challenge and removes it in the same round trip,
// so a challenge token can be redeemed at most once.
func (s *ChallengeStore) Consume(ctx context.Context, purpose Purpose, token string, now time.Time) (*Challenge, error) {
	data, err := s.redis.GetDel(ctx, s.key(purpose, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, purpose Purpose, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(purpose, token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

func (s *ChallengeStore) decodeLive(ctx context.Context, purpose Purpose, token string, data []byte, now time.Time) (*Challenge, error) {
	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(purpose, token)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(record.Factor)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.UserID, record.Secret, record.ReferenceToken} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &Challenge{}
	if record.Factor, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []*string{&record.UserID, &record.Secret, &record.ReferenceToken} {
		if *field, err = readString(reader); err != nil {
			return nil, err
		}
	}

	return record, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("record field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
