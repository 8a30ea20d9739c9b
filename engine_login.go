package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authcore-dev/authcore/internal"
	"github.com/authcore-dev/authcore/internal/stores"
	"github.com/authcore-dev/authcore/policy"
	"github.com/authcore-dev/authcore/token"
)

// Login verifies the username and password and either completes the
// session or returns an MFA step. The attempt limit is checked before
// the password compare, so a limited account leaks nothing about the
// submitted password.
func (e *Engine) Login(ctx context.Context, username, pass string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, pol, err := e.verifyCredentials(ctx, username, pass)
	if err != nil {
		return nil, err
	}

	if pol.PasswordExpiry && !user.PasswordExpiresAt.IsZero() && e.now().After(user.PasswordExpiresAt) {
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrPasswordExpired, nil)
		return nil, ErrPasswordExpired
	}

	if factor := user.EnrolledFactor(); factor != FactorNone {
		referenceToken, err := e.stagePendingLogin(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		challengeToken, err := e.issueChallenge(ctx, user, stores.PurposeLoginConfirm, referenceToken)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			Kind:             ResultMFAConfirmRequired,
			ChallengeToken:   challengeToken,
			ReferenceToken:   referenceToken,
			Factor:           factor,
			AvailableFactors: user.EnrolledFactors(),
		}, nil
	}

	if pol.MFARequired {
		return e.requireSetup(ctx, user)
	}

	return e.completeLogin(ctx, user, pol)
}

// ConfirmLogin redeems a login challenge. The reference token must be
// the one the challenge was issued for, and both are single-use.
func (e *Engine) ConfirmLogin(ctx context.Context, challengeToken, referenceToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	challenge, err := e.verifyChallenge(ctx, stores.PurposeLoginConfirm, challengeToken, referenceToken, code)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, "", "", err, nil)
		return nil, err
	}

	reference, err := e.consumeReference(ctx, stores.KindLogin, referenceToken)
	if err != nil {
		return nil, err
	}
	if reference.UserID != challenge.UserID {
		return nil, ErrChallengeInvalid
	}

	user, err := e.userByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status == AccountDisabled {
		return nil, ErrAccountDisabled
	}

	pol, err := e.policies.Policy(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, user.UserID, "", nil, nil)

	return e.completeLogin(ctx, user, pol)
}

// completeLogin mints the session, both tokens, and the snapshot. When
// the single-session policy is active the store revokes the user's
// other sessions in the same transaction and the engine drops their
// cache entries, so at most one session survives.
func (e *Engine) completeLogin(ctx context.Context, user UserRecord, pol policy.Policy) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()
	now := e.now()
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	payload := token.Payload{
		UserID:    user.UserID,
		SessionID: sessionID,
		LoginAt:   now.Unix(),
		IP:        ip,
		UserAgent: userAgent,
	}

	access, err := e.tokens.CreateAccess(payload, now)
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.CreateRefresh(payload, now)
	if err != nil {
		return nil, err
	}

	record := SessionRecord{
		SessionID:    sessionID,
		UserID:       user.UserID,
		RefreshToken: refresh,
		IP:           ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.tokens.RefreshTTL()),
	}

	revoked, err := e.sessions.Create(ctx, record, pol.SingleSession)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(revoked) > 0 {
		if err := e.purgeSessionCaches(ctx, user.UserID, revoked); err != nil {
			return nil, err
		}
	}

	if err := e.tokenCache.Save(ctx, sessionID, access, e.tokens.AccessTTL()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	snap, err := e.buildSnapshot(ctx, user, record, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, nil, nil)

	return &LoginResult{
		Kind:         ResultCompleted,
		AccessToken:  access,
		RefreshToken: refresh,
		Snapshot:     snap,
	}, nil
}

// Refresh exchanges a refresh token for a live access token. Refresh
// tokens are not rotated; the same token remains valid until its
// embedded expiry. Issuing is idempotent: while the cached access token
// is still inside its tolerance-adjusted window it is returned
// byte-identical.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	now := e.now()

	payload, err := e.tokens.ParseRefresh(refreshToken, now)
	if err != nil {
		mapped := mapTokenErr(err)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", mapped, nil)
		return nil, mapped
	}

	session, err := e.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, payload.UserID, payload.SessionID, ErrSessionExpired, nil)
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	user, err := e.userByID(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status == AccountDisabled {
		return nil, ErrAccountDisabled
	}

	pol, err := e.policies.Policy(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// The MFA-required policy can flip on while a session is live. Such
	// sessions keep refreshing only after the account enrolls a factor.
	if pol.MFARequired && user.EnrolledFactor() == FactorNone {
		return e.requireSetup(ctx, user)
	}

	access, err := e.issueAccess(ctx, payload, now)
	if err != nil {
		return nil, err
	}

	snap, err := e.buildSnapshot(ctx, user, session, time.Unix(payload.LoginAt, 0))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, payload.SessionID, nil, nil)

	return &LoginResult{
		Kind:         ResultCompleted,
		AccessToken:  access,
		RefreshToken: refreshToken,
		Snapshot:     snap,
	}, nil
}

// issueAccess returns the cached access token while it is still valid,
// otherwise mints and caches a fresh one.
func (e *Engine) issueAccess(ctx context.Context, payload token.Payload, now time.Time) (string, error) {
	cached, err := e.tokenCache.Get(ctx, payload.SessionID)
	if err == nil {
		if _, perr := e.tokens.ParseAccess(cached, now); perr == nil {
			return cached, nil
		}
	} else if !errors.Is(err, stores.ErrTokenCacheMiss) {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	access, err := e.tokens.CreateAccess(payload, now)
	if err != nil {
		return "", err
	}
	if err := e.tokenCache.Save(ctx, payload.SessionID, access, e.tokens.AccessTTL()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return access, nil
}

// VerifyAccess checks signature, claims, and the tolerance-adjusted
// expiry, then gates on the session's cache entry: a token is honored
// only while the entry exists. Cache unavailability fails closed.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (AccessInfo, error) {
	if e == nil {
		return AccessInfo{}, ErrEngineNotReady
	}

	payload, err := e.tokens.ParseAccess(accessToken, e.now())
	if err != nil {
		e.metricInc(MetricVerifyDenied)
		return AccessInfo{}, mapTokenErr(err)
	}

	if _, err := e.tokenCache.Get(ctx, payload.SessionID); err != nil {
		e.metricInc(MetricVerifyDenied)
		if errors.Is(err, stores.ErrTokenCacheMiss) {
			return AccessInfo{}, ErrSessionExpired
		}
		return AccessInfo{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	e.metricInc(MetricVerifySuccess)
	return AccessInfo{
		UserID:    payload.UserID,
		SessionID: payload.SessionID,
		LoginAt:   time.Unix(payload.LoginAt, 0),
		IP:        payload.IP,
		UserAgent: payload.UserAgent,
	}, nil
}

// Logout revokes the token's session: the cache entry and snapshot are
// dropped and the session row is revoked. Idempotent for already-gone
// cache entries.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	payload, err := e.tokens.ParseAccess(accessToken, e.now())
	if err != nil {
		return mapTokenErr(err)
	}

	if _, err := e.tokenCache.Delete(ctx, payload.SessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := e.snapshots.Delete(ctx, payload.SessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := e.sessions.Revoke(ctx, payload.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, payload.UserID, payload.SessionID, nil, nil)
	return nil
}

// verifyCredentials runs the password gate shared by Login and the
// reset and change flows. The attempt limit is checked before the
// compare so a limited account never reaches the hasher; a mismatch
// bumps the counter through the store so parallel attempts observe it,
// and a match resets it. The disabled check comes after the compare,
// so a wrong password on a disabled account reads the same as on an
// active one.
func (e *Engine) verifyCredentials(ctx context.Context, username, pass string) (UserRecord, policy.Policy, error) {
	user, err := e.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrUserNotFound, nil)
			return UserRecord{}, policy.Policy{}, ErrUserNotFound
		}
		return UserRecord{}, policy.Policy{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pol, err := e.policies.Policy(ctx, user.UserID)
	if err != nil {
		return UserRecord{}, policy.Policy{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if pol.AttemptLimit > 0 && user.FailedAttempts >= pol.AttemptLimit {
		e.metricInc(MetricLoginAttemptLimited)
		e.emitAudit(ctx, auditEventLoginAttemptLimited, false, user.UserID, "", ErrAttemptLimitExceeded, nil)
		return UserRecord{}, policy.Policy{}, ErrAttemptLimitExceeded
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return UserRecord{}, policy.Policy{}, err
	}
	if !ok {
		if _, ierr := e.users.IncrementFailedAttempts(ctx, user.UserID); ierr != nil {
			return UserRecord{}, policy.Policy{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, ierr)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, nil)
		return UserRecord{}, policy.Policy{}, ErrInvalidCredentials
	}

	if user.FailedAttempts > 0 {
		if err := e.users.ResetFailedAttempts(ctx, user.UserID); err != nil {
			return UserRecord{}, policy.Policy{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		user.FailedAttempts = 0
	}

	if user.Status == AccountDisabled {
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrAccountDisabled, nil)
		return UserRecord{}, policy.Policy{}, ErrAccountDisabled
	}

	return user, pol, nil
}

// requireSetup stages the pending login and opens an authenticator
// enrollment for it, so a client can complete setup from the login
// response alone. SetupMFA switches the enrollment to the channel
// factor instead.
func (e *Engine) requireSetup(ctx context.Context, user UserRecord) (*LoginResult, error) {
	referenceToken, err := e.stagePendingLogin(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	challengeToken, secret, uri, err := e.beginTOTPSetup(ctx, user, referenceToken)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Kind:           ResultMFASetupRequired,
		ChallengeToken: challengeToken,
		ReferenceToken: referenceToken,
		Factor:         FactorTOTP,
		Secret:         secret,
		ProvisionURI:   uri,
	}, nil
}

// stagePendingLogin records the half-finished login under a fresh
// reference token.
func (e *Engine) stagePendingLogin(ctx context.Context, userID string) (string, error) {
	return e.stageReference(ctx, stores.KindLogin, userID, "")
}

// stageReference stores a pending-flow record under a fresh reference
// token. data carries flow-specific payload, opaque to the store.
func (e *Engine) stageReference(ctx context.Context, kind stores.Kind, userID, data string) (string, error) {
	referenceToken, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	now := e.now()
	record := &stores.Reference{
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.MFA.ReferenceTTL).Unix(),
		Data:      data,
	}
	if err := e.references.Save(ctx, kind, referenceToken, record, e.config.MFA.ReferenceTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return referenceToken, nil
}

func (e *Engine) consumeReference(ctx context.Context, kind stores.Kind, referenceToken string) (*stores.Reference, error) {
	reference, err := e.references.Consume(ctx, kind, referenceToken, e.now())
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrReferenceNotFound):
			return nil, ErrChallengeInvalid
		case errors.Is(err, stores.ErrReferenceExpired):
			return nil, ErrChallengeExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	return reference, nil
}

func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
