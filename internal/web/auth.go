package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/core"
)

// Authorizer decides whether a request carries the administer capability.
// It returns a *core.DomainError in the auth or forbidden category on refusal.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// TokenAuthorizer accepts requests bearing the configured admin token.
// With an empty token every request is trusted.
type TokenAuthorizer struct {
	token []byte
}

// NewTokenAuthorizer creates a token authorizer. An empty token is logged,
// since anyone who can reach the server then gets admin rights.
func NewTokenAuthorizer(token string, logger *slog.Logger) *TokenAuthorizer {
	if token == "" && logger != nil {
		logger.Warn("no admin token configured, management endpoints are open to every caller")
	}
	return &TokenAuthorizer{token: []byte(token)}
}

// Authorize implements Authorizer.
func (a *TokenAuthorizer) Authorize(r *http.Request) error {
	if len(a.token) == 0 {
		return nil
	}

	header := r.Header.Get("Authorization")
	scheme, presented, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return core.ErrAuth("admin token required")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), a.token) != 1 {
		return core.ErrForbidden(core.CodeAdminRequired, "invalid admin token")
	}
	return nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorizer.Authorize(r); err != nil {
			if core.IsCategory(err, core.ErrCatAuth) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="leakwatch"`)
			}
			s.respondDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
