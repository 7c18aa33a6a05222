package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/models"
)

type contextKey string

const ctxIdentityKey contextKey = "identity"

// Identity is the authenticated caller.
type Identity struct {
	AccountID uuid.UUID
	Role      models.Role
}

// TokenVerifier resolves a bearer token to an account. Implemented by auth.Service.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, models.Role, error)
}

// Authenticate verifies the bearer JWT and stores the caller's identity in
// the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				httpjson.Fail(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}
			id, role, err := verifier.ValidateToken(r.Context(), raw)
			if err != nil {
				httpjson.Fail(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			ctx := WithIdentity(r.Context(), Identity{AccountID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only if the caller holds one of roles.
// It must run after Authenticate.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromCtx(r.Context())
			if !ok {
				httpjson.Fail(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpjson.Fail(w, http.StatusForbidden, "forbidden", "role "+string(id.Role)+" may not call this endpoint")
		})
	}
}

// IdentityFromCtx returns the authenticated caller, if any.
func IdentityFromCtx(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentityKey).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey, id)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
