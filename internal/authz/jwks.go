package authz

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"bazaar/internal/httpx"
	"bazaar/internal/observability/metrics"
	obsmw "bazaar/internal/observability/middleware"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// JWTValidator checks tokens from an external identity provider against its
// published key set.
type JWTValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWTValidator(ctx context.Context, jwksURL, issuer string) (*JWTValidator, error) {
	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Minute * 15,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			slog.Warn("jwks refresh failed", "error", err)
		},
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{jwks: jwks, issuer: issuer}, nil
}

// Close stops the background key refresh.
func (j *JWTValidator) Close() { j.jwks.EndBackground() }

func (j *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("jwks", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tokStr, ok := tokenFrom(r)
		if !ok {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "missing token")
			slog.Warn("jwks missing token", "request_id", reqID)
			return
		}

		token, err := jwt.Parse(tokStr, j.jwks.Keyfunc)
		if err != nil || !token.Valid {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
			slog.Warn("jwks invalid token", "error", err, "request_id", reqID)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		// optional issuer check
		if iss, _ := claims["iss"].(string); j.issuer != "" && iss != "" && iss != j.issuer {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "issuer mismatch")
			slog.Warn("jwks issuer mismatch", "issuer", iss, "request_id", reqID)
			return
		}
		userID, err := userFromClaims(claims)
		if err != nil {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "no user in token")
			slog.Warn("jwks missing user", "request_id", reqID)
			return
		}

		slog.Debug("auth passed", "method", "jwks", "user_id", userID, "request_id", reqID)
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
