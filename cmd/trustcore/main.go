package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/inkform/trustcore/internal/audit"
	"github.com/inkform/trustcore/internal/evidence"
	"github.com/inkform/trustcore/internal/shared/auth"
	"github.com/inkform/trustcore/internal/shared/config"
	"github.com/inkform/trustcore/internal/shared/database"
	"github.com/inkform/trustcore/internal/shared/logger"
	"github.com/inkform/trustcore/internal/shared/metrics"
	secmiddleware "github.com/inkform/trustcore/internal/shared/middleware"
	"github.com/inkform/trustcore/internal/signer"
	"github.com/inkform/trustcore/internal/tsa"
)

const maxBodyBytes = 1 << 20

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	if cfg.TSA.PolicyOID == config.DefaultPolicyOID {
		logger.Warn(ctx, "using placeholder TSA policy OID; set TSA_POLICY_OID before relying on timestamps",
			"policy_oid", cfg.TSA.PolicyOID)
	}

	// Signing provider
	sg, err := signer.New(ctx, cfg.Signer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize signer: %v\n", err)
		os.Exit(1)
	}

	// The dev TSA signs tokens with a dev key even when the HSM provider is
	// something else, so fallback mode always has a key to stamp with.
	var devSigner *signer.DevSigner
	if ds, ok := sg.(*signer.DevSigner); ok {
		devSigner = ds
	} else if cfg.TSA.Provider == "dev" || cfg.TSA.DevFallback {
		devSigner, err = signer.NewDevSigner()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate dev TSA key: %v\n", err)
			os.Exit(1)
		}
	}

	stamper, err := tsa.New(cfg.TSA, devSigner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize TSA: %v\n", err)
		os.Exit(1)
	}

	// Evidence store
	var repo audit.Repository
	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			os.Exit(1)
		}
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
			os.Exit(1)
		}
		repo = audit.NewPostgresRepository(db.Pool)
	case "memory":
		logger.Warn(ctx, "using in-memory evidence store; evidence does not survive restarts")
		repo = audit.NewMemoryRepository()
	}

	chain := audit.NewChain(repo)
	svc := evidence.NewService(sg, stamper, chain)
	handler := evidence.NewHandler(svc)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RequestLogger)
	r.Use(secmiddleware.BodyLimit(maxBodyBytes))
	r.Use(metrics.Middleware)

	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	r.Use(limiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.IsProduction() {
			r.Use(auth.Middleware(cfg.Auth))
		}
		r.Mount("/envelopes", handler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info(ctx, "shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "server shutdown error", "error", err)
		}
		close(done)
	}()

	logger.Info(ctx, "trust core listening",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"signer", cfg.Signer.Provider,
		"tsa", cfg.TSA.Provider,
		"store", cfg.Store.Backend,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	logger.Info(ctx, "server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Trust Core",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
