package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

// userIDKey carries the authenticated user id through the request context
const userIDKey contextKey = "user_id"

// UserID extracts the caller's user id from the X-User-ID header injected by
// the auth proxy in front of this service. Requests without one never reach
// the pipeline.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			requestID := r.Header.Get("X-Request-ID")
			RespondUnauthorized(w, fmt.Errorf("missing X-User-ID header"), requestID)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the user id stored by the UserID middleware
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
