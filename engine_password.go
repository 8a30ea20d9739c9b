package authcore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/authcore-dev/authcore/internal"
	"github.com/authcore-dev/authcore/internal/stores"
	"github.com/authcore-dev/authcore/password"
)

// CreatePassword hashes a raw password into a storable credential,
// stamped with the configured validity window. Use it when creating
// accounts or seeding fixtures.
func (e *Engine) CreatePassword(ctx context.Context, raw string) (password.Credential, error) {
	if e == nil {
		return password.Credential{}, ErrEngineNotReady
	}
	cred, err := e.hasher.Create(raw, e.now())
	if err != nil {
		return password.Credential{}, err
	}
	e.emitAudit(ctx, auditEventPasswordCreated, true, "", "", nil, nil)
	return cred, nil
}

// RequestPasswordChange verifies the caller's access token and current
// password, then either applies the new credential immediately or, when
// a factor is enrolled, stages it behind an MFA challenge. The staged
// hash travels server-side only; the client holds opaque tokens.
func (e *Engine) RequestPasswordChange(ctx context.Context, accessToken, oldPass, newPass string) (*PasswordChangeResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	info, err := e.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	user, err := e.userByID(ctx, info.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status == AccountDisabled {
		return nil, ErrAccountDisabled
	}

	ok, err := e.hasher.Verify(oldPass, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.UserID, info.SessionID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	same, err := e.hasher.Verify(newPass, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if same {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.UserID, info.SessionID, ErrPasswordReuse, nil)
		return nil, ErrPasswordReuse
	}

	cred, err := e.hasher.Create(newPass, e.now())
	if err != nil {
		return nil, err
	}

	factor := user.EnrolledFactor()
	if factor == FactorNone {
		if err := e.applyPasswordChange(ctx, user.UserID, cred); err != nil {
			return nil, err
		}
		return &PasswordChangeResult{Applied: true}, nil
	}

	referenceToken, err := e.stagePasswordChange(ctx, user.UserID, cred)
	if err != nil {
		return nil, err
	}
	challengeToken, err := e.issueChallenge(ctx, user, stores.PurposePassword, referenceToken)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventPasswordChangeStaged, true, user.UserID, info.SessionID, nil, nil)

	return &PasswordChangeResult{
		Applied:        false,
		ChallengeToken: challengeToken,
		ReferenceToken: referenceToken,
		Factor:         factor,
	}, nil
}

// ConfirmPasswordChange redeems a staged password change. On success
// the new credential is applied and every session of the account is
// revoked, forcing a fresh login with the new password.
func (e *Engine) ConfirmPasswordChange(ctx context.Context, challengeToken, referenceToken, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	challenge, err := e.verifyChallenge(ctx, stores.PurposePassword, challengeToken, referenceToken, code)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, "", "", err, nil)
		return err
	}

	reference, err := e.consumeReference(ctx, stores.KindPasswordChange, referenceToken)
	if err != nil {
		return err
	}
	if reference.UserID != challenge.UserID {
		return ErrChallengeInvalid
	}

	var cred password.Credential
	if err := json.Unmarshal([]byte(reference.Data), &cred); err != nil || cred.Hash == "" {
		return ErrChallengeInvalid
	}

	e.metricInc(MetricMFASuccess)
	return e.applyPasswordChange(ctx, challenge.UserID, cred)
}

// applyPasswordChange persists the credential, clears the attempt
// counter, and revokes every session so only the new password works.
func (e *Engine) applyPasswordChange(ctx context.Context, userID string, cred password.Credential) error {
	if err := e.users.UpdatePassword(ctx, userID, cred); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.ResetFailedAttempts(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.revokeUserSessions(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, nil)
	return nil
}

// stagePasswordChange parks the hashed credential server-side under a
// fresh reference token.
func (e *Engine) stagePasswordChange(ctx context.Context, userID string, cred password.Credential) (string, error) {
	referenceToken, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(cred)
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
		Data:      string(data),
	}
	if err := e.references.Save(ctx, stores.KindPasswordChange, referenceToken, record, e.config.MFA.ReferenceTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return referenceToken, nil
}
