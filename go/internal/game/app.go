package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sorteiohub/restaum/go/internal/models"
)

// GameRepository defines what the game app layer needs from the repository.
// Mutating methods insert the matching domain event into the outbox within
// the same transaction as the state change.
type GameRepository interface {
	CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	ListGames(ctx context.Context) ([]models.Game, error)
	ListActiveGames(ctx context.Context) ([]models.Game, error)
	ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error)
	CountActiveParticipants(ctx context.Context, gameID uuid.UUID) (int, error)
	JoinGame(ctx context.Context, req JoinGameRequest) (*models.Participant, error)
	StartGame(ctx context.Context, id uuid.UUID, startedAt, nextEliminationAt time.Time) (*models.Game, error)
	EliminateRandomParticipant(ctx context.Context, gameID uuid.UUID, at time.Time) (*models.Participant, error)
	GetSoleActiveParticipant(ctx context.Context, gameID uuid.UUID) (*models.Participant, error)
	FinalizeGame(ctx context.Context, id uuid.UUID, winner *models.Participant, finishedAt time.Time) (*models.Game, error)
	CancelGame(ctx context.Context, id uuid.UUID, reason string) (*models.Game, error)
	UpdateNextDeadline(ctx context.Context, gameID uuid.UUID, deadline *time.Time) error
}

// WinnerNotifier delivers the winner message through the external messaging
// collaborator. Delivery failures never roll back game finalization.
type WinnerNotifier interface {
	NotifyWinner(ctx context.Context, userID uuid.UUID, game *models.Game) error
}

// App handles elimination game business logic
type App struct {
	repo     GameRepository
	notifier WinnerNotifier
}

// NewApp creates a new game App
func NewApp(repo GameRepository, notifier WinnerNotifier) *App {
	return &App{
		repo:     repo,
		notifier: notifier,
	}
}

// CreateGame creates a new elimination game in the waiting state
func (a *App) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	if err := validateCreateGameRequest(req); err != nil {
		return nil, err
	}

	game, err := a.repo.CreateGame(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	log.Info().
		Str("game_id", game.ID.String()).
		Str("title", game.Title).
		Int("max_participants", game.MaxParticipants).
		Msg("game created")
	return game, nil
}

// GetGame retrieves a game by ID
func (a *App) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return a.repo.GetGame(ctx, id)
}

// ListGames lists all games, newest first
func (a *App) ListGames(ctx context.Context) ([]models.Game, error) {
	return a.repo.ListGames(ctx)
}

// ListParticipants lists a game's participants ordered by number
func (a *App) ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	if _, err := a.repo.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	return a.repo.ListParticipants(ctx, gameID)
}

// JoinGame claims a lucky number for a user. The range check runs before any
// persistence call; the uniqueness and membership checks are enforced by the
// repository inside one transaction.
func (a *App) JoinGame(ctx context.Context, req JoinGameRequest) (*models.Participant, error) {
	if req.Number < 1 {
		return nil, ErrNumberOutOfRange
	}
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	participant, err := a.repo.JoinGame(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("game_id", req.GameID.String()).
		Str("user_id", req.UserID.String()).
		Int("number", req.Number).
		Msg("participant joined")
	return participant, nil
}

// StartElimination transitions a waiting game to active and schedules the
// first elimination deadline. At least 2 active participants are required.
func (a *App) StartElimination(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	current, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if current.Terminal() {
		return nil, ErrGameImmutable
	}
	if current.Status != models.GameStatusWaiting {
		return nil, ErrGameNotJoinable
	}

	active, err := a.repo.CountActiveParticipants(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}
	if active < 2 {
		return nil, ErrNotEnoughParticipants
	}

	startedAt := time.Now().UTC()
	game, err := a.repo.StartGame(ctx, gameID, startedAt, startedAt.Add(current.EliminationInterval()))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("game_id", gameID.String()).
		Int("participants", game.ParticipantCount).
		Int("interval_sec", game.EliminationIntervalSec).
		Msg("elimination started")
	return game, nil
}

// EliminateOne runs a single elimination tick: one uniformly random active
// participant is marked eliminated and the next deadline is advanced.
// Returns ErrNoEliminationCandidate when one or fewer active participants
// remain, in which case the caller should finalize the game instead.
func (a *App) EliminateOne(ctx context.Context, gameID uuid.UUID) (*models.Participant, error) {
	game, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive {
		return nil, ErrGameNotActive
	}

	now := time.Now().UTC()
	participant, err := a.repo.EliminateRandomParticipant(ctx, gameID, now)
	if err != nil {
		return nil, err
	}

	next := now.Add(game.EliminationInterval())
	if err := a.repo.UpdateNextDeadline(ctx, gameID, &next); err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to advance elimination deadline")
	}

	log.Info().
		Str("game_id", gameID.String()).
		Int("number", participant.Number).
		Msg("participant eliminated")
	return participant, nil
}

// FinalizeGame closes an active game, recording the sole remaining active
// participant's user as winner (or no winner when zero remain). Finalizing an
// already finished game with the same winner is a no-op; with a different
// winner it fails with ErrGameAlreadyFinished.
func (a *App) FinalizeGame(ctx context.Context, gameID uuid.UUID, winnerParticipantID *uuid.UUID) (*models.Game, error) {
	current, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	winner, err := a.repo.GetSoleActiveParticipant(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if winnerParticipantID != nil && (winner == nil || winner.ID != *winnerParticipantID) {
		if current.Status == models.GameStatusFinished {
			return nil, ErrGameAlreadyFinished
		}
		return nil, fmt.Errorf("winner participant %s is not the sole active participant", winnerParticipantID)
	}

	if current.Status == models.GameStatusFinished {
		// Idempotent repeat of the same finalization.
		return current, nil
	}
	if current.Status == models.GameStatusCancelled {
		return nil, ErrGameImmutable
	}
	if current.Status != models.GameStatusActive {
		return nil, ErrGameNotActive
	}

	finishedAt := time.Now().UTC()
	game, err := a.repo.FinalizeGame(ctx, gameID, winner, finishedAt)
	if err != nil {
		if errors.Is(err, ErrGameNotActive) {
			// Lost a race with another finalizer; re-read for the idempotent path.
			latest, getErr := a.repo.GetGame(ctx, gameID)
			if getErr == nil && latest.Status == models.GameStatusFinished {
				return latest, nil
			}
		}
		return nil, err
	}

	if winner != nil && a.notifier != nil {
		if err := a.notifier.NotifyWinner(ctx, winner.UserID, game); err != nil {
			log.Error().Err(err).
				Str("game_id", gameID.String()).
				Str("winner_user_id", winner.UserID.String()).
				Msg("winner notification failed")
		}
	}

	log.Info().
		Str("game_id", gameID.String()).
		Msg("game finished")
	return game, nil
}

// CancelGame terminates a waiting or active game. Terminal games are immutable.
func (a *App) CancelGame(ctx context.Context, gameID uuid.UUID, reason string) (*models.Game, error) {
	current, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if current.Terminal() {
		return nil, ErrGameImmutable
	}

	game, err := a.repo.CancelGame(ctx, gameID, reason)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("reason", reason).
		Msg("game cancelled")
	return game, nil
}

// ListActiveGames lists games currently running eliminations
func (a *App) ListActiveGames(ctx context.Context) ([]models.Game, error) {
	return a.repo.ListActiveGames(ctx)
}

func validateCreateGameRequest(req CreateGameRequest) error {
	if req.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if req.CreatedBy == uuid.Nil {
		return fmt.Errorf("%w: created_by is required", ErrValidation)
	}
	if req.MaxParticipants < 2 {
		return fmt.Errorf("%w: max_participants must be at least 2", ErrValidation)
	}
	if req.EliminationIntervalSec < 1 {
		return fmt.Errorf("%w: elimination_interval_sec must be at least 1", ErrValidation)
	}
	return nil
}
