package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authcore-dev/authcore/crypt"
	internalaudit "github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/internal/stores"
	"github.com/authcore-dev/authcore/otp"
	"github.com/authcore-dev/authcore/password"
	"github.com/authcore-dev/authcore/policy"
	"github.com/authcore-dev/authcore/token"
)

// Builder assembles an Engine. A Builder is single-use: Build succeeds
// at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	sessions  SessionStore
	messenger Messenger
	policies  policy.Provider
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. Key material is cloned.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the volatile caches.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the persistent account collaborator. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithSessionStore sets the persistent session collaborator. Required.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithMessenger sets the out-of-band code deliverer. Without one the
// channel factor is unavailable.
func (b *Builder) WithMessenger(m Messenger) *Builder {
	b.messenger = m
	return b
}

// WithPolicyProvider sets the policy source. Defaults to an all-off
// static policy.
func (b *Builder) WithPolicyProvider(p policy.Provider) *Builder {
	b.policies = p
	return b
}

// WithAuditSink sets the sink receiving audit events when auditing is
// enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the primitives and stores,
// and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}

	policies := b.policies
	if policies == nil {
		policies = policy.Static{}
	}

	cipher, err := crypt.NewCipher(cfg.Token.EncryptionKey)
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		SigningKey: cloneBytes(cfg.Token.SigningKey),
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		Subject:    cfg.Token.Subject,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Tolerance:  cfg.Token.Tolerance,
	}, cipher)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		Pepper:      cfg.Password.Pepper,
		Validity:    cfg.Password.Validity,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Cache.Prefix

	engine := &Engine{
		config:     cfg,
		users:      b.users,
		sessions:   b.sessions,
		messenger:  b.messenger,
		policies:   policies,
		tokens:     tokens,
		hasher:     hasher,
		totp:       otp.New(otp.AuthenticatorConfig(cfg.MFA.Issuer)),
		channel:    otp.New(otp.ChannelConfig(cfg.MFA.Issuer)),
		tokenCache: stores.NewTokenCache(b.redis, prefix+":atc"),
		challenges: stores.NewChallengeStore(b.redis, prefix+":mch"),
		references: stores.NewReferenceStore(b.redis, prefix+":ref"),
		snapshots:  stores.NewSnapshotCache(b.redis, prefix+":snap"),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}

	b.built = true

	return engine, nil
}
