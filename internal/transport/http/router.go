package http

import (
	"context"
	"net/http"
	"time"

	"bazaar/internal/httpx"
	obsmw "bazaar/internal/observability/middleware"
	"bazaar/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	Keys     *service.KeyService
	Messages *service.MessageService
	// Auth authenticates every /v1 route and must put the user id in the
	// request context.
	Auth func(http.Handler) http.Handler
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error

	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
	RequestTimeout    time.Duration

	EventsPollInterval time.Duration
	EventsPingInterval time.Duration
}

type Handler struct {
	keys      *service.KeyService
	msgs      *service.MessageService
	ready     func(ctx context.Context) error
	pollEvery time.Duration
	pingEvery time.Duration
}

func NewRouter(opts Options) http.Handler {
	if opts.Auth == nil {
		opts.Auth = denyAll
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 10
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.EventsPollInterval <= 0 {
		opts.EventsPollInterval = time.Second
	}
	if opts.EventsPingInterval <= 0 {
		opts.EventsPingInterval = 15 * time.Second
	}
	h := &Handler{
		keys:      opts.Keys,
		msgs:      opts.Messages,
		ready:     opts.Ready,
		pollEvery: opts.EventsPollInterval,
		pingEvery: opts.EventsPingInterval,
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithMetrics)
	r.Use(httpx.LogRequests)
	// Credentials are only allowed alongside explicit origins.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsIfSet(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Trace-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: len(opts.CORSOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	// Write paths and lazy key generation are rate limited per client IP.
	limit := httprate.Limit(
		opts.RateLimitRequests,
		opts.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(w, http.StatusTooManyRequests, "too many requests")
		}),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Use(opts.Auth)

		// Event streams outlive any request timeout.
		r.Get("/chats/{peerID}/events", h.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(opts.RequestTimeout))

			r.Get("/keys/me", h.handleOwnKey)
			r.Get("/chats/{peerID}/messages", h.handleHistory)
			r.Get("/conversations", h.handleConversations)
			r.Delete("/messages/{messageID}", h.handleDeleteMessage)
			r.Delete("/me/data", h.handleDeleteMyData)

			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Get("/users/{userID}/public-key", h.handlePublicKey)
				r.Put("/keys/me", h.handleRegisterKey)
				r.Post("/chats/{peerID}/messages", h.handleSend)
			})
		})
	})

	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			obsmw.Logger(r.Context()).Warn("readiness check failed", "error", err)
			httpx.WriteError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication not configured")
	})
}

func originsIfSet(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
