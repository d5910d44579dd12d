package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/xliquidity/rebalance-engine/internal/api"
	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/engine"
	"github.com/xliquidity/rebalance-engine/internal/metrics"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Audit sinks ---
	hub := audit.NewHub()
	go hub.Run(ctx)

	sinks := audit.Multi{hub, audit.NewLogSink(logger)}
	if cfg.AuditFile != "" {
		file := audit.NewFileSink(cfg.AuditFile, audit.FileOptions{
			MaxSizeMB:  cfg.AuditMaxSizeMB,
			MaxBackups: cfg.AuditMaxBackups,
			MaxAgeDays: cfg.AuditMaxAgeDays,
			Compress:   cfg.AuditCompress,
		})
		defer file.Close()
		sinks = append(sinks, file)
		logger.Info("audit file enabled", "path", cfg.AuditFile)
	}

	eng := engine.New(engine.Options{
		Store:  st,
		Audit:  sinks,
		Logger: logger,
	})

	if authority, _ := cmd.Flags().GetString("bootstrap-authority"); authority != "" {
		if err := initProtocol(ctx, eng, cfg, authority, true); err != nil {
			return err
		}
	}

	var gate api.AccessGate = api.AllowAll{}
	if cfg.RequirePayment {
		gate = api.MinPaymentGate{Config: eng.Protocol}
	}
	svc := api.NewService(eng, gate)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.HeaderPrincipalID+", "+api.HeaderPrincipalRoles+", "+api.HeaderPaymentAmount)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"rebalancer"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Audit event stream; long-lived, so outside the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(api.Principals)
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rebalancer listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down rebalancer...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	logger.Info("rebalancer stopped")
	return nil
}
