package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/custody/internal/auth"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

type contextKey string

const claimsKey contextKey = "claims"

// CookieName is the session cookie set by login.
const CookieName = "auth-token"

// sessionToken is a token presented with a request and where it came from.
type sessionToken struct {
	value      string
	fromCookie bool
}

// tokensFromRequest returns the presented tokens, an explicit bearer header
// before the session cookie.
func tokensFromRequest(r *http.Request) []sessionToken {
	var tokens []sessionToken
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if v := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); v != "" {
			tokens = append(tokens, sessionToken{value: v})
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		tokens = append(tokens, sessionToken{value: c.Value, fromCookie: true})
	}
	return tokens
}

// AuthMiddleware validates the session token, rejects revoked tokens and
// accounts that are no longer active, and adds claims to the context. The
// role in the context is taken from the database so demotions apply at once.
// The first presented token that validates is used; a stale cookie is cleared
// with the configured Secure attribute.
func AuthMiddleware(secret string, db *sql.DB, cookieSecure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokens := tokensFromRequest(r)
			if len(tokens) == 0 {
				jsonError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			var (
				claims   *auth.Claims
				used     sessionToken
				hadStale bool
			)
			for _, tok := range tokens {
				c, err := auth.ValidateToken(secret, tok.value)
				if err != nil {
					hadStale = hadStale || tok.fromCookie
					continue
				}
				claims, used = c, tok
				break
			}
			endSession := func() {
				if used.fromCookie || hadStale {
					clearAuthCookie(w, cookieSecure)
				}
			}
			if claims == nil {
				endSession()
				jsonError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			revoked, err := store.IsTokenRevoked(r.Context(), db, claims.ID)
			if err != nil {
				slog.Error("failed to check token revocation", "error", err)
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if revoked {
				endSession()
				jsonError(w, http.StatusUnauthorized, "session has ended")
				return
			}

			user, err := store.GetUser(r.Context(), db, claims.UserID)
			if err != nil {
				slog.Error("failed to load session user", "error", err)
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if user == nil || user.DeletedAt != nil || !user.Active {
				endSession()
				jsonError(w, http.StatusUnauthorized, "account is disabled")
				return
			}

			if hadStale {
				clearAuthCookie(w, cookieSecure)
			}

			current := *claims
			current.Role = user.Role
			ctx := context.WithValue(r.Context(), claimsKey, &current)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that checks if the user has at least the given role.
func RequireRole(minimum string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				jsonError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !model.RoleAtLeast(claims.Role, minimum) {
				jsonError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the JWT claims from the context.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func setAuthCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearAuthCookie expires the session cookie. secure must match the value
// the cookie was set with.
func clearAuthCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoggingMiddleware logs each request with its chi request id. Client errors
// log at WARN and server errors at ERROR.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		slog.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.RequestURI()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
