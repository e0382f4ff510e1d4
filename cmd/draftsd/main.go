// Package main is the entry point for the drafts API service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helmstudio/draftsync/internal/database"
	"github.com/helmstudio/draftsync/internal/logger"
	"github.com/helmstudio/draftsync/internal/server"
)

func main() {
	debug := os.Getenv("APP_DEBUG") == "true"
	appLogger, err := logger.NewLogger(debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync() //nolint:errcheck // stderr sync failure is harmless

	// Load database configuration from environment
	dbConfig := database.Config{
		Host:     getEnv("POSTGRES_DRAFTS_HOST", "localhost"),
		Port:     getEnv("POSTGRES_DRAFTS_PORT", "5432"),
		User:     getEnv("POSTGRES_DRAFTS_USER", "postgres"),
		Password: getEnv("POSTGRES_DRAFTS_PASSWORD", "postgres"),
		DBName:   getEnv("POSTGRES_DRAFTS_DB", "drafts"),
		SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}

	appLogger.Info("Connecting to database")
	db, err := database.NewPostgresConnection(dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db) //nolint:errcheck // logged inside Close

	repo := database.NewDraftRepository(db)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.InitSchema(initCtx); err != nil {
		cancelInit()
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	cancelInit()

	tokens := server.ParseTokenMap(os.Getenv("DRAFTSD_TOKENS"))
	if len(tokens) == 0 {
		log.Fatal("DRAFTSD_TOKENS must hold at least one token:user pair")
	}

	router := server.NewRouter(repo, server.NewLogMediaCleaner(appLogger), tokens, appLogger, debug)
	ginEngine := router.SetupRoutes()

	port := getEnv("DRAFTSD_PORT", "8080")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      ginEngine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Drafts API listening", logger.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Error(err))
	}

	appLogger.Info("Server exited")
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
