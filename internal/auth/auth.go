// Package auth implements the bearer-token gate in front of the HTTP
// surface (spec §6/§7). This is an out-of-scope collaborator per spec §1
// ("the HTTP listener and bearer-token gate") — only a literal constant-time
// string comparison against a configured token, not a signed or delegated
// token format.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ErrMissingToken and ErrInvalidToken never leak whether a supplied token is
// structurally valid (spec §7's authentication-error contract): both map to
// the same 401 response.
const bearerPrefix = "Bearer "

// Gate validates the Authorization header against a single configured
// token.
type Gate struct {
	token string
}

// New creates a Gate. An empty token disables the gate entirely (Allow
// always succeeds) — used for local/dev deployments that set no bearer
// token in configuration.
func New(token string) *Gate {
	return &Gate{token: token}
}

// Enabled reports whether the gate enforces a token at all.
func (g *Gate) Enabled() bool {
	return g != nil && g.token != ""
}

// Allow reports whether the Authorization header on r carries the
// configured bearer token. Uses constant-time comparison to avoid leaking
// timing information about a partially-correct token.
func (g *Gate) Allow(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	supplied := strings.TrimPrefix(header, bearerPrefix)
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(g.token)) == 1
}

// Middleware wraps next with the bearer-token check, writing 401 on
// mismatch without distinguishing "missing" from "wrong" (spec §7).
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
