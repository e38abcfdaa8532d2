package authz

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CookieName is the session cookie browsers carry the token in.
const CookieName = "token"

var errNoUser = errors.New("token carries no user id")

type userKey struct{}

func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(userKey{}).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

// tokenFrom reads a bearer token, falling back to the session cookie.
func tokenFrom(r *http.Request) (string, bool) {
	if raw := r.Header.Get("Authorization"); raw != "" {
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			return "", false
		}
		tok := strings.TrimSpace(raw[len("Bearer "):])
		return tok, tok != ""
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// userFromClaims prefers the userId claim and falls back to sub.
func userFromClaims(claims map[string]any) (uuid.UUID, error) {
	raw, _ := claims["userId"].(string)
	if raw == "" {
		raw, _ = claims["sub"].(string)
	}
	if raw == "" {
		return uuid.Nil, errNoUser
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errNoUser
	}
	return id, nil
}
