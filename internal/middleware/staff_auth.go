package middleware

import (
	"context"
	"net/http"

	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/models"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Principal, error)
}

// StaffAuth admits requests carrying a valid reviewer or admin JWT.
func StaffAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				jsonError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			p, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				jsonError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if p.Role != models.StaffRoleReviewer && p.Role != models.StaffRoleAdmin {
				jsonError(w, http.StatusForbidden, "reviewer role required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), p)))
		})
	}
}

func StaffFromCtx(ctx context.Context) (auth.Principal, bool) {
	return auth.PrincipalFromContext(ctx)
}

func WithStaff(ctx context.Context, p auth.Principal) context.Context {
	return auth.WithPrincipal(ctx, p)
}
