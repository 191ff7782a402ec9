// Package identity assigns each browser an anonymous owner ID. Agents are
// scoped to the owner that created them.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	OwnerCookieName = "fieldagent_owner"
	ownerCookieAge  = 365 * 24 * time.Hour
)

type contextKey int

const ownerIDKey contextKey = iota

var ownerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// OwnerIDFromContext extracts the owner ID from the request context.
func OwnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOwnerID returns a copy of ctx carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// NewOwnerID returns a random anonymous owner ID.
func NewOwnerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate owner id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidOwnerID reports whether id has the anonymous owner format.
func IsValidOwnerID(id string) bool {
	return ownerIDPattern.MatchString(id)
}

func ownerCookie(id string, isDev bool) *http.Cookie {
	return &http.Cookie{
		Name:     OwnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ownerCookieAge.Seconds()),
		Expires:  time.Now().Add(ownerCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	}
}

func getOrCreateOwnerID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(OwnerCookieName); err == nil && IsValidOwnerID(c.Value) {
		http.SetCookie(w, ownerCookie(c.Value, isDev))
		return c.Value, nil
	}

	id, err := NewOwnerID()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, ownerCookie(id, isDev))
	return id, nil
}

// Middleware injects the anonymous owner ID, issuing a cookie on first visit.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := getOrCreateOwnerID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
