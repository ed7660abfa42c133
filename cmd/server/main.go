package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
	"github.com/extinctlab/species-media/pkg/speciesmedia/api"
	"github.com/extinctlab/species-media/pkg/speciesmedia/config"
	"github.com/extinctlab/species-media/pkg/speciesmedia/repo/postgres"
	"github.com/extinctlab/species-media/pkg/speciesmedia/sse"
)

func main() {
	// Load configuration from environment
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "error", err)
		os.Exit(1)
	}

	// Run migrations before opening the pool
	if serverConfig.DatabaseType == "postgres" {
		version, err := postgres.Migrate(serverConfig.DatabaseURL)
		if err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("Database migrations applied", "version", version)
	}

	// SSE broker is shared between the service (broadcast side) and the
	// router (subscribe side)
	broker := sse.NewBroker()

	svc, err := serverConfig.BuildService(speciesmedia.WithNotifier(broker))
	if err != nil {
		slog.Error("Failed to build service", "error", err)
		os.Exit(1)
	}

	if err := svc.InitStorage(context.Background()); err != nil {
		slog.Warn("Storage init failed, continuing", "error", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverConfig.Port),
		Handler: routes(svc, broker, serverConfig),
	}

	// Optional server-side recovery sweep; the HTTP sweep routes work either
	// way, this just removes the dependency on an open browser tab.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if serverConfig.SweepInterval > 0 {
		go runSweeper(sweepCtx, svc, serverConfig.SweepInterval)
	}

	go func() {
		slog.Info("Species media server starting",
			"port", serverConfig.Port,
			"environment", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.DefaultStorageBackend)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exiting")
}

// runSweeper periodically runs both recovery sweeps. Throttled runs are
// expected when clients also trigger sweeps.
func runSweeper(ctx context.Context, svc speciesmedia.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if result, err := svc.ReconcileErrors(ctx); err != nil {
				if err != speciesmedia.ErrSweepThrottled {
					slog.Error("Error reconciliation sweep failed", "error", err)
				}
			} else if result.Repaired > 0 {
				slog.Info("Error reconciliation sweep repaired rows", "repaired", result.Repaired)
			}

			if result, err := svc.ResetStuckGeneration(ctx); err != nil {
				slog.Error("Stuck generation sweep failed", "error", err)
			} else if result.Repaired > 0 {
				slog.Info("Stuck generation sweep repaired rows", "repaired", result.Repaired)
			}
		}
	}
}

func routes(svc speciesmedia.Service, broker *sse.Broker, serverConfig *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS for development
	if serverConfig.Environment == "development" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

				if r.Method == "OPTIONS" {
					w.WriteHeader(http.StatusOK)
					return
				}

				next.ServeHTTP(w, r)
			})
		})
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "healthy",
			"environment": serverConfig.Environment,
			"sse_clients": broker.SubscriberCount(),
		})
	})

	handler := api.NewHandler(svc, broker)
	r.Mount("/api/v1", handler.Routes())

	return r
}
