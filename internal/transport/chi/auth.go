package chi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type userCtxKey struct{}

// ContextWithUser stores the authenticated caller in the context.
func ContextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

// UserFromContext returns the authenticated caller, or "" outside auth.
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userCtxKey{}).(string)
	return u
}

// BearerAuthMiddleware validates the Bearer token against the single shared
// secret and resolves it to user. If apiKey is empty, authentication is
// disabled and every request runs as user.
func BearerAuthMiddleware(apiKey, user string) func(http.Handler) http.Handler {
	secret := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exempt paths
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if len(secret) > 0 {
				auth := r.Header.Get("Authorization")
				if auth == "" {
					writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing authorization header")
					return
				}

				const bearerPrefix = "Bearer "
				if !strings.HasPrefix(auth, bearerPrefix) {
					writeError(w, http.StatusUnauthorized, codeUnauthorized,
						"authorization header must use Bearer scheme")
					return
				}

				token := []byte(auth[len(bearerPrefix):])
				if subtle.ConstantTimeCompare(token, secret) != 1 {
					writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}
