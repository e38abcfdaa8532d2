package authz

import (
	"fmt"
	"log/slog"
	"net/http"

	"bazaar/internal/httpx"
	"bazaar/internal/observability/metrics"
	obsmw "bazaar/internal/observability/middleware"

	"github.com/golang-jwt/jwt/v5"
)

type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

func (h *HMACValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("hmac", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tokStr, ok := tokenFrom(r)
		if !ok {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "missing token")
			slog.Warn("auth missing token", "request_id", reqID)
			return
		}

		token, err := jwt.Parse(tokStr, func(token *jwt.Token) (interface{}, error) {
			// Ensure HS* (HMAC) only
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
			slog.Warn("auth invalid token", "error", err, "request_id", reqID)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		if iss, _ := claims["iss"].(string); h.issuer != "" && iss != "" && iss != h.issuer {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "issuer mismatch")
			slog.Warn("auth issuer mismatch", "issuer", iss, "request_id", reqID)
			return
		}
		userID, err := userFromClaims(claims)
		if err != nil {
			result = "failure"
			httpx.WriteError(w, http.StatusUnauthorized, "no user in token")
			slog.Warn("auth missing user", "request_id", reqID)
			return
		}

		slog.Debug("auth passed", "method", "hmac", "user_id", userID, "request_id", reqID)
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
