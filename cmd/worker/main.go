// Worker deletes expired refresh records from the ledger every SWEEP_INTERVAL and exposes the
// sweep counters on HTTP_ADDR/metrics. GRPC_ADDR is required by config but unused.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"gathering-marketplace/backend/internal/config"
	"gathering-marketplace/backend/internal/db"
	ledgerrepo "gathering-marketplace/backend/internal/ledger/repository"
	ledgerservice "gathering-marketplace/backend/internal/ledger/service"
	"gathering-marketplace/backend/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics()
	ledger := ledgerservice.New(ledgerrepo.NewPostgresStore(conn), cfg.StoreTimeoutDuration(),
		ledgerservice.WithTTL(cfg.RefreshTTL()))
	sweeper := ledgerservice.NewSweeper(ledger, cfg.SweepIntervalDuration(), metrics)

	var opsServer *http.Server
	if cfg.HTTPAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		opsServer = &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("worker: ops http: %v", err)
			}
		}()
	}

	log.Printf("worker: sweeping expired refresh records every %s", cfg.SweepIntervalDuration())
	sweeper.Run(ctx)

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}
	log.Println("worker: stopped")
}
