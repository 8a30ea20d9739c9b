package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/authcore-dev/authcore"
	"github.com/authcore-dev/authcore/permission"
)

type accessInfoContextKey struct{}
type snapshotContextKey struct{}

// AccessInfoFromContext returns the identity stored by [Verify].
func AccessInfoFromContext(ctx context.Context) (authcore.AccessInfo, bool) {
	info, ok := ctx.Value(accessInfoContextKey{}).(authcore.AccessInfo)
	return info, ok
}

// SnapshotFromContext returns the snapshot stored by [Authenticate] or
// [Require].
func SnapshotFromContext(ctx context.Context) (*authcore.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(*authcore.Snapshot)
	return snap, ok
}

// Verify gates a route on a valid, unrevoked access token. The decoded
// [authcore.AccessInfo] is placed on the request context. This is the
// cheap guard: no user store round trip, no snapshot.
func Verify(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.VerifyAccess(RequestContext(r), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessInfoContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate gates a route on a valid session and stores the full
// current-user snapshot on the request context.
func Authenticate(engine *authcore.Engine) func(http.Handler) http.Handler {
	return requireWith(engine, permission.Requirement{})
}

// Require gates a route on a valid session whose permission set
// satisfies req. Failing the requirement yields 403, everything else 401.
func Require(engine *authcore.Engine, req permission.Requirement) func(http.Handler) http.Handler {
	return requireWith(engine, req)
}

func requireWith(engine *authcore.Engine, req permission.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			snap, err := engine.RequirePermission(RequestContext(r), token, req)
			if err != nil {
				if errors.Is(err, authcore.ErrPermissionDenied) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestContext returns the request context annotated with the
// caller's IP and user agent for audit events and session records.
func RequestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = authcore.WithClientIP(ctx, host)
	ctx = authcore.WithUserAgent(ctx, r.UserAgent())
	return ctx
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
