package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const referenceRecordVersion1 = 1

var (
	ErrReferenceNotFound = errors.New("reference token not found")
	ErrReferenceExpired  = errors.New("reference token expired")
	ErrReferenceBackend  = errors.New("reference token backend unavailable")
)

// Kind scopes reference records by flow.
type Kind string

const (
	KindLogin          Kind = "login"
	KindPasswordChange Kind = "password-change"
	KindReset          Kind = "reset"
)

// Reference is the server-side state of a multi-step flow, keyed by the
// opaque reference token handed to the client at step one. Data carries
// flow-specific material, e.g. the staged credential hash for a pending
// password change.
type Reference struct {
	UserID    string
	IP        string
	UserAgent string
	IssuedAt  int64
	ExpiresAt int64
	Data      string
}

// ReferenceStore keeps reference records in Redis. Like challenges they
// are single-use; Consume removes the record on read.
type ReferenceStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewReferenceStore(redisClient redis.UniversalClient, prefix string) *ReferenceStore {
	if prefix == "" {
		prefix = "ref"
	}
	return &ReferenceStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ReferenceStore) key(kind Kind, token string) string {
	return s.prefix + ":" + string(kind) + ":" + token
}

func (s *ReferenceStore) Save(
	ctx context.Context,
	kind Kind,
	token string,
	record *Reference,
	ttl time.Duration,
) error {
	encoded, err := encodeReference(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(kind, token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrReferenceBackend, err)
	}
	return nil
}

// Get returns the record without consuming it. The embedded expiry
// stamp is checked against the caller-supplied now.
func (s *ReferenceStore) Get(ctx context.Context, kind Kind, token string, now time.Time) (*Reference, error) {
	data, err := s.redis.Get(ctx, s.key(kind, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrReferenceBackend, err)
	}

	record, err := decodeReference(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(kind, token)).Result()
		return nil, ErrReferenceExpired
	}
	return record, nil
}

// Consume returns the record and removes it atomically.
func (s *ReferenceStore) Consume(ctx context.Context, kind Kind, token string, now time.Time) (*Reference, error) {
	data, err := s.redis.GetDel(ctx, s.key(kind, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrReferenceBackend, err)
	}

	record, err := decodeReference(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		return nil, ErrReferenceExpired
	}
	return record, nil
}

func (s *ReferenceStore) Delete(ctx context.Context, kind Kind, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(kind, token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReferenceBackend, err)
	}
	return n > 0, nil
}

func encodeReference(record *Reference) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(referenceRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.UserID, record.IP, record.UserAgent, record.Data} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeReference(data []byte) (*Reference, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != referenceRecordVersion1 {
		return nil, errors.New("invalid reference record version")
	}

	record := &Reference{}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []*string{&record.UserID, &record.IP, &record.UserAgent, &record.Data} {
		if *field, err = readString(reader); err != nil {
			return nil, err
		}
	}

	return record, nil
}
