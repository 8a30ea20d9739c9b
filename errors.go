package authcore

import "errors"

var (
	// ErrUserNotFound is returned when no account matches the username.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAttemptLimitExceeded is returned when the failed-attempt counter
	// has reached the policy limit. Checked before the password compare.
	ErrAttemptLimitExceeded = errors.New("login attempt limit exceeded")
	// ErrAccountDisabled is returned for logins on a disabled account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrPasswordExpired is returned when the credential is past its
	// expiry stamp and the password-expiry policy is active.
	ErrPasswordExpired = errors.New("password expired")
	// ErrPasswordReuse is returned when a new password equals the old one.
	ErrPasswordReuse = errors.New("new password must be different from current password")

	// ErrTokenInvalid is returned for malformed, tampered, or foreign tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for structurally valid tokens past their
	// tolerance-adjusted deadline.
	ErrTokenExpired = errors.New("expired token")
	// ErrSessionExpired is returned when a token verifies but its session
	// has been revoked or aged out of the cache.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound is returned for lookups of unknown sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrChallengeInvalid is returned for unknown, replayed, or mismatched
	// MFA challenge or reference tokens.
	ErrChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrChallengeExpired is returned for challenges past their TTL.
	ErrChallengeExpired = errors.New("mfa challenge expired")
	// ErrInvalidOTP is returned when the submitted code does not verify.
	ErrInvalidOTP = errors.New("invalid otp code")
	// ErrFactorNotEnrolled is returned when an operation needs an enrolled
	// factor and the account has none.
	ErrFactorNotEnrolled = errors.New("mfa factor not enrolled")
	// ErrFactorUnavailable is returned when the requested factor kind
	// cannot be used, e.g. a channel factor without a delivery handle.
	ErrFactorUnavailable = errors.New("mfa factor unavailable")

	// ErrPermissionDenied is returned by RequirePermission for any
	// unsatisfied requirement.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCacheUnavailable is returned when the volatile cache cannot be
	// reached. Verification fails closed on it.
	ErrCacheUnavailable = errors.New("cache backend unavailable")
	// ErrStoreUnavailable wraps persistent collaborator failures.
	ErrStoreUnavailable = errors.New("persistent store unavailable")
	// ErrEngineNotReady is returned from methods on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
