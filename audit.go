package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginAttemptLimited   = "login_attempt_limited"
	auditEventMFAChallengeIssued    = "mfa_challenge_issued"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAEnabled            = "mfa_enabled"
	auditEventMFAReset              = "mfa_reset"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogout                = "logout"
	auditEventSessionsRevoked       = "sessions_revoked"
	auditEventPasswordCreated       = "password_created"
	auditEventPasswordChangeStaged  = "password_change_staged"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
)

type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrAttemptsExceeded   auditErrorCode = "attempts_exceeded"
	auditErrUserNotFound       auditErrorCode = "user_not_found"
	auditErrAccountDisabled    auditErrorCode = "account_disabled"
	auditErrPasswordExpired    auditErrorCode = "password_expired"
	auditErrPasswordReuse      auditErrorCode = "password_reuse"
	auditErrInvalidToken       auditErrorCode = "invalid_token"
	auditErrSessionExpired     auditErrorCode = "session_expired"
	auditErrChallengeInvalid   auditErrorCode = "mfa_invalid"
	auditErrOTPInvalid         auditErrorCode = "otp_invalid"
	auditErrFactorMissing      auditErrorCode = "factor_missing"
	auditErrPermissionDenied   auditErrorCode = "permission_denied"
	auditErrUnavailable        auditErrorCode = "backend_unavailable"
	auditErrInternal           auditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := errorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func errorCode(err error) auditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAttemptLimitExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrPasswordExpired):
		return auditErrPasswordExpired
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionNotFound):
		return auditErrSessionExpired
	case errors.Is(err, ErrChallengeInvalid), errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrInvalidOTP):
		return auditErrOTPInvalid
	case errors.Is(err, ErrFactorNotEnrolled), errors.Is(err, ErrFactorUnavailable):
		return auditErrFactorMissing
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrCacheUnavailable), errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
