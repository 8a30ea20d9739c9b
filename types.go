package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/password"
	"github.com/authcore-dev/authcore/permission"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts can log in.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts are refused at login and refresh.
	AccountDisabled
)

// Factor identifies an MFA factor kind.
type Factor uint8

const (
	// FactorNone means no factor is enrolled.
	FactorNone Factor = iota
	// FactorTOTP is an authenticator-app factor verified against the
	// account's enduring secret.
	FactorTOTP
	// FactorChannel is an out-of-band factor: a code minted from a fresh
	// ephemeral secret and delivered through the Messenger.
	FactorChannel
)

// UserRecord is the account record served by a [UserStore].
type UserRecord struct {
	UserID   string
	Username string
	Status   AccountStatus

	PasswordHash      string
	PasswordCreatedAt time.Time
	PasswordExpiresAt time.Time
	FailedAttempts    int

	// TOTPSecret is the enduring base32 secret; empty until enrollment.
	TOTPSecret  string
	TOTPEnabled bool

	// ChannelHandle is the delivery address for channel codes.
	ChannelHandle  string
	ChannelEnabled bool

	// Roles carry the account's permissions; the effective set is
	// flattened across them with [permission.Flatten].
	Roles []permission.Role

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// EnrolledFactor returns the account's primary factor, preferring TOTP
// when both are enabled.
func (u UserRecord) EnrolledFactor() Factor {
	switch {
	case u.TOTPEnabled:
		return FactorTOTP
	case u.ChannelEnabled:
		return FactorChannel
	default:
		return FactorNone
	}
}

// EnrolledFactors lists every enabled factor, primary first.
func (u UserRecord) EnrolledFactors() []Factor {
	var factors []Factor
	if u.TOTPEnabled {
		factors = append(factors, FactorTOTP)
	}
	if u.ChannelEnabled {
		factors = append(factors, FactorChannel)
	}
	return factors
}

// UserStore is the persistent account collaborator. Implementations
// must return ErrUserNotFound (or an error wrapping it) for unknown
// users and make IncrementFailedAttempts a store-side atomic update.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)

	// IncrementFailedAttempts adds one to the counter atomically and
	// returns the new value.
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error

	UpdatePassword(ctx context.Context, userID string, cred password.Credential) error

	// EnableFactor enrolls a factor. For FactorTOTP, secret is the
	// enduring base32 secret; for FactorChannel it is the delivery handle.
	EnableFactor(ctx context.Context, userID string, factor Factor, secret string) error
	// DisableFactors clears all enrolled factors.
	DisableFactors(ctx context.Context, userID string) error
}

// SessionRecord is a persistent session row.
type SessionRecord struct {
	SessionID    string
	UserID       string
	RefreshToken string
	IP           string
	UserAgent    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// SessionStore is the persistent session collaborator.
type SessionStore interface {
	// Create stores record. When revokeExisting is set the user's other
	// sessions are revoked in the same transaction; their ids are
	// returned so the engine can drop the matching cache entries.
	Create(ctx context.Context, record SessionRecord, revokeExisting bool) (revoked []string, err error)

	GetByID(ctx context.Context, sessionID string) (SessionRecord, error)
	ListByUser(ctx context.Context, userID string) ([]SessionRecord, error)

	Revoke(ctx context.Context, sessionID string) error
	// RevokeAllForUser revokes every live session and returns their ids.
	RevokeAllForUser(ctx context.Context, userID string) ([]string, error)
}

// Messenger delivers out-of-band verification codes for the channel
// factor. Delivery failures are logged and do not fail issuance.
type Messenger interface {
	SendCode(ctx context.Context, handle, code string) error
}

// ResultKind discriminates the login result union.
type ResultKind uint8

const (
	// ResultCompleted carries tokens and a snapshot.
	ResultCompleted ResultKind = iota
	// ResultMFAConfirmRequired carries challenge and reference tokens for
	// ConfirmLogin.
	ResultMFAConfirmRequired
	// ResultMFASetupRequired carries a reference token plus a ready
	// authenticator enrollment (challenge token, secret, provisioning
	// URI); the account must enroll a factor before the login can
	// complete. SetupMFA switches the enrollment to the channel factor.
	ResultMFASetupRequired
)

// LoginResult is the union returned by Login, ConfirmLogin,
// ConfirmMFASetup, and Refresh. Kind selects which fields are set.
type LoginResult struct {
	Kind ResultKind

	AccessToken  string
	RefreshToken string
	Snapshot     *Snapshot

	ChallengeToken string
	ReferenceToken string

	// Factor is the factor the issued challenge verifies against;
	// AvailableFactors lists every enrolled factor.
	Factor           Factor
	AvailableFactors []Factor

	// Secret and ProvisionURI carry the candidate authenticator
	// enrollment on ResultMFASetupRequired.
	Secret       string
	ProvisionURI string
}

// SetupResult is returned by SetupMFA.
type SetupResult struct {
	ChallengeToken string
	Factor         Factor

	// Secret and ProvisionURI are set for FactorTOTP only.
	Secret       string
	ProvisionURI string
}

// ResetChallenge is returned by RequestMFAReset. The caller must
// redeem it through ConfirmMFAReset with a code from the enrolled
// factor.
type ResetChallenge struct {
	ChallengeToken string
	ReferenceToken string
	Factor         Factor
}

// PasswordChangeResult is returned by RequestPasswordChange. When the
// account has an enrolled factor the change is staged behind an MFA
// challenge; otherwise it is applied immediately.
type PasswordChangeResult struct {
	Applied bool

	ChallengeToken string
	ReferenceToken string
	Factor         Factor
}

// AccessInfo is the decrypted identity of a verified access token.
type AccessInfo struct {
	UserID    string
	SessionID string
	LoginAt   time.Time
	IP        string
	UserAgent string
}

// Snapshot is the cached current-user view returned by Authenticate.
type Snapshot struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	SessionID string   `json:"sessionId"`

	Permissions []string `json:"permissions,omitempty"`

	TOTPEnabled    bool   `json:"totpEnabled"`
	ChannelEnabled bool   `json:"channelEnabled"`
	ChannelHandle  string `json:"channelHandle,omitempty"`

	PasswordExpiresAt time.Time `json:"passwordExpiresAt,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	ModifiedAt        time.Time `json:"modifiedAt"`
	LoginAt           time.Time `json:"loginAt"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] writing one JSON event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
