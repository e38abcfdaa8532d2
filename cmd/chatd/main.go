package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazaar/internal/authz"
	"bazaar/internal/config"
	"bazaar/internal/cryptobox"
	"bazaar/internal/db"
	"bazaar/internal/expiry"
	"bazaar/internal/observability/logging"
	"bazaar/internal/observability/metrics"
	"bazaar/internal/service"
	"bazaar/internal/store"
	transport "bazaar/internal/transport/http"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "chatd",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("chatd")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.DBLogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(ctx); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	km := cryptobox.NewKeyManager(cryptobox.WithRSABits(cfg.RSAKeyBits))
	keys := service.NewKeyService(st, km, []byte(cfg.KeyEncryptionSecret))

	sched := expiry.New(st.Messages(),
		expiry.WithInterval(cfg.SweepInterval),
		expiry.WithHorizon(cfg.TimerHorizon),
		expiry.WithLogger(logger.With("component", "expiry")),
	)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sched.Run(ctx)
	}()

	msgs := service.NewMessageService(st, keys, sched, service.MessageConfig{
		MaxTTL:     cfg.MaxTTL,
		DefaultTTL: cfg.DefaultTTL,
	})

	var authMW func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		logger.Info("using HS256 shared-secret token validation")
		authMW = authz.NewHMACValidator(cfg.JWTSecret, cfg.JWTIssuer).Middleware
	} else {
		logger.Info("using JWKS token validation", "jwks_url", cfg.JWKSURL)
		jv, err := authz.NewJWTValidator(ctx, cfg.JWKSURL, cfg.JWTIssuer)
		if err != nil {
			logger.Error("failed to init JWT validator", "error", err)
			os.Exit(1)
		}
		defer jv.Close()
		authMW = jv.Middleware
	}

	router := transport.NewRouter(transport.Options{
		Keys:               keys,
		Messages:           msgs,
		Auth:               authMW,
		Ready:              st.Ping,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		CORSOrigins:        cfg.CORSOrigins,
		EventsPollInterval: cfg.EventsPollInterval,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chat service listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
			<-sweepDone
			os.Exit(1)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	stop()
	<-sweepDone
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
