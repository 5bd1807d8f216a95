package main

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorteiohub/restaum/go/internal/game"
	"github.com/sorteiohub/restaum/go/internal/identity"
	"github.com/sorteiohub/restaum/go/internal/notify"
)

type Services struct {
	Game *game.Service
}

func setupServices(pool *pgxpool.Pool, config *Config) *Services {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer

	// Winner notifier
	var notifier notify.Notifier = notify.NewNopNotifier()
	if config.Notify.BaseURL != "" {
		notifier = notify.NewMessageNotifier(config.Notify.BaseURL, config.Notify.Token)
	}

	// Game (the repository writes outbox rows inside its own transactions,
	// so the API binary needs no outbox wiring of its own)
	gameRepo := game.NewRepository(pool)
	gameApp := game.NewApp(gameRepo, notifier)
	gameService := game.NewService(gameApp, identity.NewHeaderResolver())

	return &Services{
		Game: gameService,
	}
}
