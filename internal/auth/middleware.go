package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/authgate/authgate/internal/identity"
	"github.com/authgate/authgate/internal/platform/httpx"
)

type accountContextKey struct{}

// ContextWithAccount stores the authenticated account in context.
func ContextWithAccount(ctx context.Context, account *identity.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext extracts the authenticated account from context.
func AccountFromContext(ctx context.Context) *identity.Account {
	account, _ := ctx.Value(accountContextKey{}).(*identity.Account)
	return account
}

// Authenticate validates the access-token cookie against the identity
// provider on every request that carries one. An absent cookie leaves the
// request unauthenticated for RequireAuth to judge; an invalid token is
// rejected outright and both session cookies are cleared.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := h.cookies.AccessToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		account, err := h.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				h.cookies.Clear(w)
				httpx.Problem(w, r, http.StatusUnauthorized, "Authentication Failed", "Invalid or expired access token.")
				return
			}
			h.logger.Error("token validation", slog.Any("error", err))
			httpx.Problem(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
	})
}

// RequireAuth rejects requests that did not authenticate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountFromContext(r.Context()) == nil {
			httpx.Problem(w, r, http.StatusUnauthorized, "Authentication Required", "A valid session is required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
