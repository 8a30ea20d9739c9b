package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/authcore-dev/authcore/password"
	"github.com/authcore-dev/authcore/policy"
)

// memoryUserStore is an in-memory UserStore for tests.
type memoryUserStore struct {
	mu    sync.Mutex
	users map[string]*UserRecord
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{users: map[string]*UserRecord{}}
}

func (s *memoryUserStore) add(user UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := user
	s.users[user.UserID] = &copied
}

func (s *memoryUserStore) get(userID string) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[userID]
}

func (s *memoryUserStore) mutate(userID string, fn func(*UserRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.users[userID])
}

func (s *memoryUserStore) GetUserByUsername(_ context.Context, username string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return *u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (s *memoryUserStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *u, nil
}

func (s *memoryUserStore) IncrementFailedAttempts(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (s *memoryUserStore) ResetFailedAttempts(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.FailedAttempts = 0
	return nil
}

func (s *memoryUserStore) UpdatePassword(_ context.Context, userID string, cred password.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = cred.Hash
	u.PasswordCreatedAt = cred.CreatedAt
	u.PasswordExpiresAt = cred.ExpiresAt
	u.ModifiedAt = time.Now()
	return nil
}

func (s *memoryUserStore) EnableFactor(_ context.Context, userID string, factor Factor, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	switch factor {
	case FactorTOTP:
		u.TOTPSecret = secret
		u.TOTPEnabled = true
	case FactorChannel:
		u.ChannelHandle = secret
		u.ChannelEnabled = true
	default:
		return errors.New("unknown factor")
	}
	return nil
}

func (s *memoryUserStore) DisableFactors(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.TOTPSecret = ""
	u.TOTPEnabled = false
	u.ChannelHandle = ""
	u.ChannelEnabled = false
	return nil
}

// memorySessionStore is an in-memory SessionStore for tests.
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]SessionRecord
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: map[string]SessionRecord{}}
}

func (s *memorySessionStore) Create(_ context.Context, record SessionRecord, revokeExisting bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []string
	if revokeExisting {
		for id, existing := range s.sessions {
			if existing.UserID == record.UserID {
				delete(s.sessions, id)
				revoked = append(revoked, id)
			}
		}
	}
	s.sessions[record.SessionID] = record
	return revoked, nil
}

func (s *memorySessionStore) GetByID(_ context.Context, sessionID string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.sessions[sessionID]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return record, nil
}

func (s *memorySessionStore) ListByUser(_ context.Context, userID string) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SessionRecord
	for _, record := range s.sessions {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *memorySessionStore) Revoke(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *memorySessionStore) RevokeAllForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []string
	for id, record := range s.sessions {
		if record.UserID == userID {
			delete(s.sessions, id)
			revoked = append(revoked, id)
		}
	}
	return revoked, nil
}

// captureMessenger records delivered codes; when fail is set it still
// records but reports a delivery error.
type captureMessenger struct {
	mu    sync.Mutex
	codes []string
	fail  bool
}

func (m *captureMessenger) SendCode(_ context.Context, handle, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	if m.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func (m *captureMessenger) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("no code was delivered")
	}
	return m.codes[len(m.codes)-1]
}

type engineFixture struct {
	engine    *Engine
	mr        *miniredis.Miniredis
	users     *memoryUserStore
	sessions  *memorySessionStore
	messenger *captureMessenger

	mu  sync.Mutex
	now time.Time
}

func (f *engineFixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
	f.mr.FastForward(d)
}

func (f *engineFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func testEngineConfig() Config {
	cfg := defaultConfig()
	cfg.Token.SigningKey = []byte("engine-test-signing-key")
	cfg.Token.EncryptionKey = []byte("0123456789abcdef0123456789abcdef")
	// Fast argon parameters for tests.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func testEngine(t *testing.T, pol policy.Policy) *engineFixture {
	t.Helper()
	return testEngineWithConfig(t, testEngineConfig(), pol)
}

func testEngineWithConfig(t *testing.T, cfg Config, pol policy.Policy) *engineFixture {
	t.Helper()
	return testEngineWithSink(t, cfg, pol, nil)
}

func testEngineWithSink(t *testing.T, cfg Config, pol policy.Policy, sink AuditSink) *engineFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fixture := &engineFixture{
		mr:        mr,
		users:     newMemoryUserStore(),
		sessions:  newMemorySessionStore(),
		messenger: &captureMessenger{},
		now:       time.Now(),
	}

	builder := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(fixture.users).
		WithSessionStore(fixture.sessions).
		WithMessenger(fixture.messenger).
		WithPolicyProvider(policy.Static{Value: pol})
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(engine.Close)

	engine.now = fixture.clock
	fixture.engine = engine
	return fixture
}

// addUser seeds an active account with the given password.
func (f *engineFixture) addUser(t *testing.T, userID, username, pass string) {
	t.Helper()
	cred, err := f.engine.hasher.Create(pass, f.clock())
	if err != nil {
		t.Fatalf("Create credential error: %v", err)
	}
	f.users.add(UserRecord{
		UserID:            userID,
		Username:          username,
		Status:            AccountActive,
		PasswordHash:      cred.Hash,
		PasswordCreatedAt: cred.CreatedAt,
		PasswordExpiresAt: cred.ExpiresAt,
		CreatedAt:         f.clock(),
		ModifiedAt:        f.clock(),
	})
}

// enrollTOTP enrolls an authenticator factor and returns its secret.
func (f *engineFixture) enrollTOTP(t *testing.T, userID string) string {
	t.Helper()
	secret, err := f.engine.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}
	f.users.mutate(userID, func(u *UserRecord) {
		u.TOTPSecret = secret
		u.TOTPEnabled = true
	})
	return secret
}

// totpCode returns the current authenticator code for secret.
func (f *engineFixture) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := f.engine.totp.Code(secret, f.clock())
	if err != nil {
		t.Fatalf("Code error: %v", err)
	}
	return code
}

// login performs a credential login that must complete immediately.
func (f *engineFixture) login(t *testing.T, username, pass string) *LoginResult {
	t.Helper()
	result, err := f.engine.Login(context.Background(), username, pass)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if result.Kind != ResultCompleted {
		t.Fatalf("expected completed login, got kind %d", result.Kind)
	}
	return result
}
