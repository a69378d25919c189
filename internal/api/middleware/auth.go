package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/teammemory/teammemory/internal/api"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// UserAuth requires a well-formed user id in the x-user-id header and
// places it on the request context. Whether the user actually exists is
// checked by the handlers that need it.
func UserAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("x-user-id")
		if userID == "" {
			api.Error(w, http.StatusUnauthorized, "missing x-user-id header")
			return
		}

		if _, err := uuid.Parse(userID); err != nil {
			api.Error(w, http.StatusUnauthorized, "invalid user id")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID returns the authenticated user id from context.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}
