package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/authcore-dev/authcore/internal/stores"
	"github.com/authcore-dev/authcore/permission"
)

// Authenticate verifies the access token and returns the current-user
// snapshot, serving it from the cache when possible and rebuilding it
// from the stores on a miss.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Snapshot, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	info, err := e.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	data, err := e.snapshots.Get(ctx, info.SessionID)
	if err == nil {
		var snap Snapshot
		if uerr := json.Unmarshal(data, &snap); uerr == nil {
			e.metricInc(MetricSnapshotHit)
			return &snap, nil
		}
		// Undecodable entries are rebuilt below.
	} else if !errors.Is(err, stores.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	user, err := e.userByID(ctx, info.UserID)
	if err != nil {
		return nil, err
	}
	session, err := e.sessions.GetByID(ctx, info.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	snap, err := e.buildSnapshot(ctx, user, session, info.LoginAt)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSnapshotMiss)
	return snap, nil
}

// RequirePermission authenticates the token and evaluates req against
// the snapshot's permission set. ErrPermissionDenied is returned when
// the set does not satisfy it; an empty requirement always passes.
func (e *Engine) RequirePermission(ctx context.Context, accessToken string, req permission.Requirement) (*Snapshot, error) {
	snap, err := e.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	granted := permission.NewSet(snap.Permissions...)
	if !req.SatisfiedBy(granted) {
		e.metricInc(MetricPermissionDenied)
		return nil, ErrPermissionDenied
	}
	return snap, nil
}

// Snapshot returns the cached snapshot for a session without touching
// the persistent stores. ErrSessionNotFound is returned when no entry
// is cached.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	data, err := e.snapshots.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stores.ErrSnapshotNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, ErrSessionNotFound
	}
	return &snap, nil
}

// InvalidateSnapshots drops every cached snapshot of a user. Call it
// after out-of-band changes to the account, e.g. a permission grant,
// so the next Authenticate rebuilds from the stores.
func (e *Engine) InvalidateSnapshots(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.snapshots.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Sessions lists the user's live sessions.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionRecord, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// RevokeSessions revokes every session of a user and reports how many
// were revoked. Their access tokens stop verifying immediately.
func (e *Engine) RevokeSessions(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.purgeSessionCaches(ctx, userID, revoked); err != nil {
		return 0, err
	}

	e.emitAudit(ctx, auditEventSessionsRevoked, true, userID, "", nil, map[string]string{
		"count": fmt.Sprintf("%d", len(revoked)),
	})
	return len(revoked), nil
}

// revokeUserSessions is RevokeSessions without the audit event, shared
// by the reset and password-change flows which emit their own.
func (e *Engine) revokeUserSessions(ctx context.Context, userID string) error {
	revoked, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.purgeSessionCaches(ctx, userID, revoked)
}

// purgeSessionCaches drops the cache entries that keep revoked sessions
// alive. Cache failures surface: leaving an entry behind would keep a
// revoked session verifiable.
func (e *Engine) purgeSessionCaches(ctx context.Context, userID string, revoked []string) error {
	if err := e.tokenCache.DeleteMany(ctx, revoked); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := e.snapshots.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	for range revoked {
		e.metricInc(MetricSessionRevoked)
	}
	return nil
}
