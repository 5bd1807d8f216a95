package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sorteiohub/restaum/go/internal/dbconfig"
	"github.com/sorteiohub/restaum/go/internal/game"
	"github.com/sorteiohub/restaum/go/internal/game/orchestrator"
	"github.com/sorteiohub/restaum/go/internal/game/outbox"
	"github.com/sorteiohub/restaum/go/internal/notify"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	natsURL := getEnv("NATS_URL", nats.DefaultURL)

	// Database configuration
	dbCfg := dbconfig.NewConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// pgx pool for the game repository
	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pgx pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Msg("starting game orchestrator")

	gameRepo := game.NewRepository(pool)
	gameApp := game.NewApp(gameRepo, notify.NewNopNotifier())

	orchCfg := orchestrator.DefaultConfig()
	if d := os.Getenv("MAX_GAME_DURATION"); d != "" {
		if parsed, err := time.ParseDuration(d); err == nil {
			orchCfg.MaxGameDuration = parsed
		}
	}
	orch := orchestrator.NewOrchestrator(gameApp, orchCfg)

	jsCfg := outbox.DefaultJetStreamConfig()
	if err := orch.ConnectNATS(ctx, natsURL, jsCfg.StreamName, jsCfg.SubjectPrefix+".>"); err != nil {
		log.Fatal().Err(err).Msg("failed to connect orchestrator to NATS")
	}
	defer orch.Close()

	// Run scheduler in background
	go func() {
		if err := orch.RunScheduler(ctx); err != nil {
			log.Error().Err(err).Msg("orchestrator scheduler failed")
		}
	}()

	// Health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":8082",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health check server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health check server shutdown failed")
	}

	cancel()

	// Give the scheduler time to clean up
	time.Sleep(2 * time.Second)

	log.Info().Msg("game orchestrator shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
