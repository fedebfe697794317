/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fees engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Optionally seed a tenant from a JSON config file
  4. Wire the service graph and HTTP router
  5. Start the background scheduler (dunning, recognition)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080, env PORT)
  -db        SQLite database path (default: fees.db, env DATABASE_PATH)
             Use ":memory:" for an in-memory database
  -config    Tenant config JSON to seed at startup (optional)
  -tenant    Tenant ID for -config and the scheduler (default: "default")
  -log-level zerolog level: debug, info, warn, error (default: info)

ENVIRONMENT:
  PORT, DATABASE_PATH and LOG_LEVEL back the flags above.
  SCHEDULER_INTERVAL overrides both job intervals (Go duration, e.g. "1h").

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/fees.db"

  # Run in-memory with a seeded tenant
  ./server -db=":memory:" -config=./config/demo.json -tenant=acme

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers and service graph
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/praxis/fees-engine/api"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/store/sqlite"
)

func main() {
	// .env is optional; flags and real env win.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "fees.db"), "SQLite database path")
	configPath := flag.String("config", "", "tenant config JSON to seed at startup")
	tenant := flag.String("tenant", "default", "tenant ID for -config and the scheduler")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	handler := api.NewHandler(store, api.Options{}, log)

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to read config")
		}
		cfg, err := handler.Factory.Parse(ledger.TenantID(*tenant), string(raw))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid tenant config")
		}
		if err := handler.Factory.Seed(context.Background(), cfg, store, store); err != nil {
			log.Fatal().Err(err).Msg("failed to seed tenant config")
		}
		log.Info().
			Str("tenant", *tenant).
			Int("engagements", len(cfg.Engagements)).
			Msg("tenant seeded from config")
	}

	scheduler := api.NewScheduler(handler.Tracker, handler.Recognition, store,
		[]ledger.TenantID{ledger.TenantID(*tenant)}, log)
	if iv := envDuration("SCHEDULER_INTERVAL", 0); iv > 0 {
		scheduler.DunningInterval = iv
		scheduler.RecognitionInterval = iv
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
