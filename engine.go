package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/internal/stores"
	"github.com/authcore-dev/authcore/otp"
	"github.com/authcore-dev/authcore/password"
	"github.com/authcore-dev/authcore/permission"
	"github.com/authcore-dev/authcore/policy"
	"github.com/authcore-dev/authcore/token"
)

// Engine is the authentication core. Construct it through [Builder];
// all methods are safe for concurrent use afterwards.
type Engine struct {
	config Config

	users     UserStore
	sessions  SessionStore
	messenger Messenger
	policies  policy.Provider

	tokens  *token.Manager
	hasher  *password.Hasher
	totp    *otp.Generator
	channel *otp.Generator

	tokenCache *stores.TokenCache
	challenges *stores.ChallengeStore
	references *stores.ReferenceStore
	snapshots  *stores.SnapshotCache

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	now func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// generatorFor returns the code generator matching a factor kind.
func (e *Engine) generatorFor(factor Factor) (*otp.Generator, error) {
	switch factor {
	case FactorTOTP:
		return e.totp, nil
	case FactorChannel:
		return e.channel, nil
	default:
		return nil, ErrFactorUnavailable
	}
}

// buildSnapshot assembles the cached current-user view and stores it.
func (e *Engine) buildSnapshot(ctx context.Context, user UserRecord, session SessionRecord, loginAt time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		UserID:            user.UserID,
		Username:          user.Username,
		SessionID:         session.SessionID,
		Permissions:       permission.Flatten(user.Roles).Names(),
		TOTPEnabled:       user.TOTPEnabled,
		ChannelEnabled:    user.ChannelEnabled,
		ChannelHandle:     user.ChannelHandle,
		PasswordExpiresAt: user.PasswordExpiresAt,
		CreatedAt:         user.CreatedAt,
		ModifiedAt:        user.ModifiedAt,
		LoginAt:           loginAt,
		IP:                session.IP,
		UserAgent:         session.UserAgent,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := e.snapshots.Save(ctx, user.UserID, session.SessionID, data, e.config.Cache.SnapshotTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return snap, nil
}

// userByID wraps the store lookup with error normalization.
func (e *Engine) userByID(ctx context.Context, userID string) (UserRecord, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}
