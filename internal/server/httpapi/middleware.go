package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

type userKey struct{}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}

// resolveSession attaches the user of a valid session cookie to the request
// context. Requests without a valid session pass through anonymously.
func (h *Handler) resolveSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.sessions.FromRequest(r, h.now())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.auth.CurrentUser(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				h.logger.Warn(r.Context(), "session user lookup failed", "user_id", userID, "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authenticated"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
