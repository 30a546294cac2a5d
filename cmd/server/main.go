package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/arudel/reconcile/internal/auth"
	"github.com/arudel/reconcile/internal/catalog"
	"github.com/arudel/reconcile/internal/config"
	"github.com/arudel/reconcile/internal/db"
	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/export"
	"github.com/arudel/reconcile/internal/ingestion"
	"github.com/arudel/reconcile/internal/middleware"
	"github.com/arudel/reconcile/internal/reconcile"
	"github.com/arudel/reconcile/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var (
		catalogRepo      repository.CatalogRepository
		overrideRepo     repository.OverrideRepository
		notificationRepo repository.NotificationRepository
		txRunner         repository.TxRunner
	)

	if cfg.UseMemoryStore {
		log.Println("Using in-memory store")
		store := repository.NewMemoryStore()
		catalogRepo = store.Catalog()
		overrideRepo = store.Overrides()
		notificationRepo = store.Notifications()
		txRunner = store
	} else {
		if err := db.RunMigrations(cfg.Database); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer conn.Close()

		catalogRepo = repository.NewCatalogRepository(conn)
		overrideRepo = repository.NewOverrideRepository(conn)
		notificationRepo = repository.NewNotificationRepository(conn)
		txRunner = conn
	}

	registry := domain.DefaultEntityTypeRegistry()
	coordinator := reconcile.NewCoordinator(registry, overrideRepo, notificationRepo, txRunner)
	catalogService := catalog.NewService(registry, catalogRepo, overrideRepo, coordinator)
	exportService := export.NewService(notificationRepo, export.WithExportDirectory(cfg.Export.Directory))
	importService := ingestion.NewService(catalogService, registry)

	// Re-apply baseline advances that a crash may have cut off mid-resolution.
	recovered, err := coordinator.RecoverBaselines(ctx, time.Now().Add(-cfg.RecoveryWindow))
	if err != nil {
		log.Fatalf("Failed to recover baselines: %v", err)
	}
	if recovered > 0 {
		log.Printf("[RECONCILE] re-applied baseline advance for %d resolved notification(s)", recovered)
	}

	mux := http.NewServeMux()
	reconcile.RegisterRoutes(mux, coordinator)
	catalog.RegisterRoutes(mux, catalogService)
	export.RegisterRoutes(mux, exportService)
	ingestion.RegisterRoutes(mux, importService)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(auth.Middleware(mux)),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting reconciliation server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
