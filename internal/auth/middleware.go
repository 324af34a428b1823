package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieName is the cookie carrying the signed session token.
const CookieName = "session"

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow these values.
type contextKey string

const (
	userIDKey    contextKey = "userID"
	sessionIDKey contextKey = "sessionID"
)

// SessionResolver looks session tokens up. *session.Store implements it.
type SessionResolver interface {
	Resolve(ctx context.Context, token uuid.UUID) (userID int64, found bool, err error)
	Touch(token uuid.UUID)
}

// Sessions identifies the visitor on every request without ever blocking
// anonymous ones.
//
// A missing, expired or forged cookie, or a token whose session row is gone,
// leaves the request anonymous. A store failure while resolving is a 500.
// For a resolved session the user id and session id go into the context
// and a last-seen refresh is queued in the background.
func Sessions(tokens *TokenService, sessions SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieName)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			sessionID, err := tokens.Validate(cookie.Value)
			if err != nil {
				logger.Debug("ignoring invalid session cookie", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			userID, found, err := sessions.Resolve(r.Context(), sessionID)
			if err != nil {
				logger.Error("resolving session", slog.String("error", err.Error()))
				http.Error(w, `{"error":"internal_error","message":"An internal error occurred"}`, http.StatusInternalServerError)
				return
			}
			if !found {
				next.ServeHTTP(w, r)
				return
			}

			sessions.Touch(sessionID)

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests with 401. It must run after Sessions.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns the signed-in user, or (0, false) for anonymous
// requests.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// SessionIDFromContext returns the session token of a signed-in request.
func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(sessionIDKey).(uuid.UUID)
	return id, ok
}

// WithUserID returns ctx carrying userID. Handlers under test use it to
// simulate a signed-in request without a cookie.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// SetSessionCookie writes the signed token as an HttpOnly cookie.
func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(SessionLifetime),
		MaxAge:   int(SessionLifetime / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
