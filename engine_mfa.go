package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/authcore-dev/authcore/internal"
	"github.com/authcore-dev/authcore/internal/stores"
)

// SetupMFA starts factor enrollment for a pending login. The reference
// token must come from a ResultMFASetupRequired login or refresh. For
// FactorTOTP the candidate secret and provisioning URI are returned so
// the caller can render a QR code; for FactorChannel a code minted from
// a fresh ephemeral secret is delivered to the given handle.
func (e *Engine) SetupMFA(ctx context.Context, referenceToken string, factor Factor, handle string) (*SetupResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	reference, err := e.peekReference(ctx, stores.KindLogin, referenceToken)
	if err != nil {
		return nil, err
	}

	user, err := e.userByID(ctx, reference.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status == AccountDisabled {
		return nil, ErrAccountDisabled
	}

	result := &SetupResult{Factor: factor}

	switch factor {
	case FactorTOTP:
		challengeToken, secret, uri, err := e.beginTOTPSetup(ctx, user, referenceToken)
		if err != nil {
			return nil, err
		}
		result.ChallengeToken = challengeToken
		result.Secret = secret
		result.ProvisionURI = uri

	case FactorChannel:
		if e.messenger == nil || handle == "" {
			return nil, ErrFactorUnavailable
		}
		secret, err := e.channel.GenerateSecret()
		if err != nil {
			return nil, err
		}
		// The confirm step needs the handle to enroll it; carry it on the
		// pending-login record.
		reference.Data = handle
		ttl := time.Unix(reference.ExpiresAt, 0).Sub(e.now())
		if ttl <= 0 {
			return nil, ErrChallengeExpired
		}
		if err := e.references.Save(ctx, stores.KindLogin, referenceToken, reference, ttl); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		e.deliverCode(ctx, user.UserID, handle, secret)

		challengeToken, err := e.saveChallenge(ctx, stores.PurposeSetup, user.UserID, factor, secret, referenceToken)
		if err != nil {
			return nil, err
		}
		result.ChallengeToken = challengeToken

	default:
		return nil, ErrFactorUnavailable
	}

	return result, nil
}

// beginTOTPSetup mints a candidate authenticator secret and opens a
// setup challenge for it against the pending-login reference.
func (e *Engine) beginTOTPSetup(ctx context.Context, user UserRecord, referenceToken string) (challengeToken, secret, uri string, err error) {
	secret, err = e.totp.GenerateSecret()
	if err != nil {
		return "", "", "", err
	}
	challengeToken, err = e.saveChallenge(ctx, stores.PurposeSetup, user.UserID, FactorTOTP, secret, referenceToken)
	if err != nil {
		return "", "", "", err
	}
	return challengeToken, secret, e.totp.ProvisionURI(secret, user.Username), nil
}

// ConfirmMFASetup verifies the enrollment code against the candidate
// secret, enrolls the factor, and completes the pending login.
func (e *Engine) ConfirmMFASetup(ctx context.Context, challengeToken, referenceToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	challenge, err := e.verifyChallenge(ctx, stores.PurposeSetup, challengeToken, referenceToken, code)
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

	factor := Factor(challenge.Factor)
	enrollSecret := challenge.Secret
	if factor == FactorChannel {
		enrollSecret = reference.Data
	}
	if enrollSecret == "" {
		return nil, ErrChallengeInvalid
	}

	if err := e.users.EnableFactor(ctx, challenge.UserID, factor, enrollSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.snapshots.InvalidateUser(ctx, challenge.UserID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
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
	e.emitAudit(ctx, auditEventMFAEnabled, true, user.UserID, "", nil, map[string]string{
		"factor": factorName(factor),
	})

	return e.completeLogin(ctx, user, pol)
}

// RequestMFAReset verifies the password and issues a reset challenge
// against the requester's enrolled factor. targetUserIDs selects the
// accounts the reset applies to; empty means the requester's own.
// Redeeming the challenge through ConfirmMFAReset clears each target's
// factors and revokes every one of its sessions.
func (e *Engine) RequestMFAReset(ctx context.Context, username, pass string, targetUserIDs []string) (*ResetChallenge, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, _, err := e.verifyCredentials(ctx, username, pass)
	if err != nil {
		return nil, err
	}

	factor := user.EnrolledFactor()
	if factor == FactorNone {
		return nil, ErrFactorNotEnrolled
	}

	targets := targetUserIDs
	if len(targets) == 0 {
		targets = []string{user.UserID}
	}
	for _, target := range targets {
		if _, err := e.userByID(ctx, target); err != nil {
			return nil, err
		}
	}
	payload, err := json.Marshal(targets)
	if err != nil {
		return nil, err
	}

	referenceToken, err := e.stageReference(ctx, stores.KindReset, user.UserID, string(payload))
	if err != nil {
		return nil, err
	}
	challengeToken, err := e.issueChallenge(ctx, user, stores.PurposeReset, referenceToken)
	if err != nil {
		return nil, err
	}

	return &ResetChallenge{
		ChallengeToken: challengeToken,
		ReferenceToken: referenceToken,
		Factor:         factor,
	}, nil
}

// ConfirmMFAReset redeems a reset challenge: every target account has
// its factors cleared and all of its sessions revoked.
func (e *Engine) ConfirmMFAReset(ctx context.Context, challengeToken, referenceToken, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	challenge, err := e.verifyChallenge(ctx, stores.PurposeReset, challengeToken, referenceToken, code)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, "", "", err, nil)
		return err
	}

	reference, err := e.consumeReference(ctx, stores.KindReset, referenceToken)
	if err != nil {
		return err
	}
	if reference.UserID != challenge.UserID {
		return ErrChallengeInvalid
	}

	var targets []string
	if reference.Data != "" {
		if err := json.Unmarshal([]byte(reference.Data), &targets); err != nil {
			return ErrChallengeInvalid
		}
	}
	if len(targets) == 0 {
		targets = []string{challenge.UserID}
	}

	for _, target := range targets {
		if err := e.users.DisableFactors(ctx, target); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := e.revokeUserSessions(ctx, target); err != nil {
			return err
		}
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFAReset, true, challenge.UserID, "", nil, map[string]string{
		"targets": strconv.Itoa(len(targets)),
	})
	return nil
}

// issueChallenge creates a challenge against the user's enrolled
// factor. For the channel factor a fresh ephemeral secret is minted and
// its current code delivered through the Messenger.
func (e *Engine) issueChallenge(ctx context.Context, user UserRecord, purpose stores.Purpose, referenceToken string) (string, error) {
	factor := user.EnrolledFactor()

	var secret string
	switch factor {
	case FactorTOTP:
		secret = user.TOTPSecret

	case FactorChannel:
		if e.messenger == nil || user.ChannelHandle == "" {
			return "", ErrFactorUnavailable
		}
		fresh, err := e.channel.GenerateSecret()
		if err != nil {
			return "", err
		}
		secret = fresh
		e.deliverCode(ctx, user.UserID, user.ChannelHandle, secret)

	default:
		return "", ErrFactorNotEnrolled
	}

	return e.saveChallenge(ctx, purpose, user.UserID, factor, secret, referenceToken)
}

func (e *Engine) saveChallenge(ctx context.Context, purpose stores.Purpose, userID string, factor Factor, secret, referenceToken string) (string, error) {
	challengeToken, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	record := &stores.Challenge{
		UserID:         userID,
		Factor:         uint8(factor),
		Secret:         secret,
		ReferenceToken: referenceToken,
		ExpiresAt:      e.now().Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, purpose, challengeToken, record, e.config.MFA.ChallengeTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	e.metricInc(MetricMFAChallengeIssued)
	e.emitAudit(ctx, auditEventMFAChallengeIssued, true, userID, "", nil, map[string]string{
		"purpose": string(purpose),
		"factor":  factorName(factor),
	})
	return challengeToken, nil
}

// verifyChallenge checks the code for a pending challenge. A wrong code
// leaves the challenge in place for another try within its TTL; a
// correct one deletes it, so a challenge verifies at most once. A
// reference token mismatch also leaves the challenge untouched.
func (e *Engine) verifyChallenge(ctx context.Context, purpose stores.Purpose, challengeToken, referenceToken, code string) (*stores.Challenge, error) {
	challenge, err := e.challenges.Get(ctx, purpose, challengeToken, e.now())
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, ErrChallengeInvalid
		case errors.Is(err, stores.ErrChallengeExpired):
			return nil, ErrChallengeExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	if challenge.ReferenceToken != referenceToken {
		return nil, ErrChallengeInvalid
	}

	generator, err := e.generatorFor(Factor(challenge.Factor))
	if err != nil {
		return nil, err
	}
	ok, err := generator.VerifyCode(challenge.Secret, code, e.now())
	if err != nil {
		return nil, ErrChallengeInvalid
	}
	if !ok {
		return nil, ErrInvalidOTP
	}

	deleted, err := e.challenges.Delete(ctx, purpose, challengeToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if !deleted {
		// Lost a race with a concurrent redeem.
		return nil, ErrChallengeInvalid
	}

	return challenge, nil
}

// peekReference reads a reference record without consuming it.
func (e *Engine) peekReference(ctx context.Context, kind stores.Kind, referenceToken string) (*stores.Reference, error) {
	reference, err := e.references.Get(ctx, kind, referenceToken, e.now())
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

// deliverCode sends the current code for an ephemeral secret. Delivery
// failures are recorded but never fail the flow.
func (e *Engine) deliverCode(ctx context.Context, userID, handle, secret string) {
	code, err := e.channel.Code(secret, e.now())
	if err == nil {
		err = e.messenger.SendCode(ctx, handle, code)
	}
	if err != nil {
		e.emitAudit(ctx, auditEventMFAChallengeIssued, false, userID, "", nil, map[string]string{
			"delivery": "failed",
		})
	}
}

func factorName(factor Factor) string {
	switch factor {
	case FactorTOTP:
		return "totp"
	case FactorChannel:
		return "channel"
	default:
		return "none"
	}
}
