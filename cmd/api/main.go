package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"

	"dev/bravebird/uiverify/pkg/api"
	"dev/bravebird/uiverify/pkg/config"
	"dev/bravebird/uiverify/pkg/database"
	"dev/bravebird/uiverify/pkg/models"
)

func main() {
	log.Println("Starting UI Verification API Server")

	cfg, err := config.Load(os.Getenv("UIVERIFY_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	var store api.RunStore
	if cfg.MySQLDSN != "" {
		db, err := database.New(cfg.MySQLDSN)
		if err != nil {
			log.Printf("Warning: Failed to connect to database: %v", err)
			log.Println("Running without database persistence")
		} else {
			defer db.Close()
			store = db
		}
	}

	// Initialize Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort: cfg.TemporalHost,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer temporalClient.Close()

	handlers := api.NewHandlers(store, temporalClient, api.Options{
		Defaults: models.RunOptions{
			BaseURL:        cfg.BaseURL,
			DefaultTimeout: cfg.DefaultTimeout,
			PollInterval:   cfg.PollInterval,
		},
		ArtifactDir: cfg.ArtifactDir,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handlers, promhttp.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
