package middleware

import (
	"net/http"
	"strings"

	"parking-lot-monitoring-system/shared/authx"
	"parking-lot-monitoring-system/shared/httpx"
)

// AuthMiddleware guards operator endpoints with OIDC bearer tokens.
// Ingestion endpoints stay open to devices, so only requests matched
// by Protect are checked. A nil Verifier disables enforcement, which
// is the default deployment until an issuer is configured.
type AuthMiddleware struct {
	Verifier *authx.Verifier
	Protect  func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil || m.Protect == nil || !m.Protect(r) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(authHeader[len("bearer "):])
		principal, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}
		if !principal.HasRole(authx.RoleOperator) && !principal.HasRole(authx.RoleAdmin) {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", "operator role required", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(authx.WithPrincipal(r.Context(), principal)))
	})
}

// ProtectOperatorRoutes matches the mutating operator surface.
func ProtectOperatorRoutes(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodOptions {
		return false
	}
	path := r.URL.Path
	return strings.HasPrefix(path, "/api/v1/alerts/") ||
		strings.HasPrefix(path, "/api/v1/targets") ||
		strings.HasPrefix(path, "/api/v1/facilities") ||
		strings.HasPrefix(path, "/api/v1/zones") ||
		path == "/api/v1/devices"
}
