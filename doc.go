// Package authcore provides a cache-backed authentication engine with
// signed JWT access tokens, encrypted opaque refresh tokens, MFA
// challenge flows, and permission-based authorization.
//
// The [Engine] owns the volatile state (a Redis-backed access-token
// cache, MFA challenges, flow reference records, and current-user
// snapshots) and consumes caller-supplied collaborators for everything
// persistent: a [UserStore], a [SessionStore], an optional [Messenger]
// for out-of-band codes, and a policy.Provider. Engine methods are safe
// to call from multiple goroutines after [Builder.Build].
//
// The access-token cache doubles as the revocation gate: a signed,
// unexpired token is only honored while its session's cache entry
// exists, so revoking a session takes effect immediately.
package authcore
