package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/flatchores/internal/auth"
	"github.com/dukerupert/flatchores/internal/store"
)

// SessionCookieName is the cookie browsers present instead of a bearer token.
const SessionCookieName = "flatchores_session"

// RequireAuth resolves the session token from the Authorization header or the
// session cookie and populates AuthContext. Unauthenticated requests get 401.
func RequireAuth(sessionStore *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := sessionStore.GetByToken(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to check session")
				return
			}
			if sess == nil {
				writeError(w, http.StatusUnauthorized, "session expired or invalid")
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{
				UserID:    sess.UserID,
				SessionID: sess.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
