package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sorteiohub/restaum/go/internal/game/events"
	"github.com/sorteiohub/restaum/go/internal/models"
)

// Unique constraints enforced by the participants table. Violations of these
// are the authoritative conflict signal for concurrent joins; the app-level
// pre-checks exist only for fast user-facing errors.
const (
	constraintGameNumber = "participants_game_id_number_key"
	constraintGameUser   = "participants_game_id_user_id_key"
)

const gameColumns = `id, title, description, max_participants, participant_count,
	elimination_interval_sec, status, created_by, winner_user_id,
	started_at, finished_at, next_elimination_at, created_at, updated_at`

const participantColumns = `id, game_id, user_id, number, status, joined_at, eliminated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO games (id, title, description, max_participants, elimination_interval_sec, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+gameColumns,
		req.ID, req.Title, req.Description, req.MaxParticipants,
		req.EliminationIntervalSec, models.GameStatusWaiting, req.CreatedBy,
	)
	game, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return game, nil
}

func (r *Repository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return game, nil
}

func (r *Repository) ListGames(ctx context.Context) ([]models.Game, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+gameColumns+` FROM games ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

// ListActiveGames returns games currently running eliminations. Used by the
// orchestrator to rebuild its timers after a restart.
func (r *Repository) ListActiveGames(ctx context.Context) ([]models.Game, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+gameColumns+` FROM games WHERE status = $1 ORDER BY created_at`,
		models.GameStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active games: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

func (r *Repository) ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 ORDER BY number`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func (r *Repository) CountActiveParticipants(ctx context.Context, gameID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM participants WHERE game_id = $1 AND status = $2`,
		gameID, models.ParticipantStatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active participants: %w", err)
	}
	return count, nil
}

// JoinGame inserts a participant and bumps the game counter as one atomic
// unit. The game row is locked first so the joinable/full checks and the
// insert cannot interleave with a concurrent join or start.
func (r *Repository) JoinGame(ctx context.Context, req JoinGameRequest) (*models.Participant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin join transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status          models.GameStatus
		maxParticipants int
		count           int
	)
	err = tx.QueryRow(ctx,
		`SELECT status, max_participants, participant_count FROM games WHERE id = $1 FOR UPDATE`,
		req.GameID,
	).Scan(&status, &maxParticipants, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to lock game for join: %w", err)
	}

	if status != models.GameStatusWaiting {
		return nil, ErrGameNotJoinable
	}
	if req.Number < 1 || req.Number > maxParticipants {
		return nil, ErrNumberOutOfRange
	}
	if count >= maxParticipants {
		return nil, ErrGameFull
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO participants (id, game_id, user_id, number, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+participantColumns,
		uuid.New(), req.GameID, req.UserID, req.Number, models.ParticipantStatusActive,
	)
	participant, err := scanParticipant(row)
	if err != nil {
		if conflictErr := mapJoinConflict(err); conflictErr != nil {
			return nil, conflictErr
		}
		return nil, fmt.Errorf("failed to insert participant: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE games SET participant_count = participant_count + 1, updated_at = now() WHERE id = $1`,
		req.GameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to increment participant count: %w", err)
	}

	err = insertEvent(ctx, tx, events.TypeParticipantJoined, req.GameID, events.ParticipantJoinedPayload{
		ParticipantID:    participant.ID.String(),
		UserID:           participant.UserID.String(),
		Number:           participant.Number,
		JoinedAt:         participant.JoinedAt,
		ParticipantCount: count + 1,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit join transaction: %w", err)
	}
	return participant, nil
}

func (r *Repository) StartGame(ctx context.Context, id uuid.UUID, startedAt time.Time, nextEliminationAt time.Time) (*models.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE games
		SET status = $2, started_at = $3, next_elimination_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING `+gameColumns,
		id, models.GameStatusActive, startedAt, nextEliminationAt, models.GameStatusWaiting,
	)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotJoinable
		}
		return nil, fmt.Errorf("failed to start game: %w", err)
	}

	err = insertEvent(ctx, tx, events.TypeGameStarted, id, events.GameStartedPayload{
		GameID:                 id.String(),
		StartedAt:              startedAt,
		ParticipantCount:       game.ParticipantCount,
		EliminationIntervalSec: game.EliminationIntervalSec,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit start transaction: %w", err)
	}
	return game, nil
}

// EliminateRandomParticipant marks one uniformly random active participant as
// eliminated. It refuses to act when one or fewer active participants remain,
// returning ErrNoEliminationCandidate so the caller finalizes instead. The
// whole check-and-pick runs inside one transaction with the game row locked,
// so a tick can never eliminate the last remaining participant.
func (r *Repository) EliminateRandomParticipant(ctx context.Context, gameID uuid.UUID, at time.Time) (*models.Participant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin elimination transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.GameStatus
	err = tx.QueryRow(ctx, `SELECT status FROM games WHERE id = $1 FOR UPDATE`, gameID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to lock game for elimination: %w", err)
	}
	if status != models.GameStatusActive {
		return nil, ErrGameNotActive
	}

	var active int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM participants WHERE game_id = $1 AND status = $2`,
		gameID, models.ParticipantStatusActive,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("failed to count active participants: %w", err)
	}
	if active <= 1 {
		return nil, ErrNoEliminationCandidate
	}

	row := tx.QueryRow(ctx, `
		UPDATE participants
		SET status = $3, eliminated_at = $4
		WHERE id = (
			SELECT id FROM participants
			WHERE game_id = $1 AND status = $2
			ORDER BY random()
			LIMIT 1
		)
		RETURNING `+participantColumns,
		gameID, models.ParticipantStatusActive, models.ParticipantStatusEliminated, at,
	)
	participant, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to eliminate participant: %w", err)
	}

	err = insertEvent(ctx, tx, events.TypeParticipantEliminated, gameID, events.ParticipantEliminatedPayload{
		ParticipantID:   participant.ID.String(),
		UserID:          participant.UserID.String(),
		Number:          participant.Number,
		EliminatedAt:    at,
		RemainingActive: active - 1,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit elimination: %w", err)
	}
	return participant, nil
}

// GetSoleActiveParticipant returns the single remaining active participant,
// or nil when none remain (the degenerate zero-winner finish).
func (r *Repository) GetSoleActiveParticipant(ctx context.Context, gameID uuid.UUID) (*models.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 AND status = $2 LIMIT 2`,
		gameID, models.ParticipantStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active participants: %w", err)
	}
	defer rows.Close()

	var active []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		active = append(active, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		return &active[0], nil
	default:
		return nil, fmt.Errorf("game %s has %d active participants, cannot determine winner", gameID, len(active))
	}
}

// FinalizeGame closes an active game, recording the winner when one exists.
// The GameFinished event commits atomically with the status change.
func (r *Repository) FinalizeGame(ctx context.Context, id uuid.UUID, winner *models.Participant, finishedAt time.Time) (*models.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin finalize transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var winnerUserID *uuid.UUID
	if winner != nil {
		winnerUserID = &winner.UserID
	}

	row := tx.QueryRow(ctx, `
		UPDATE games
		SET status = $2, winner_user_id = $3, finished_at = $4, next_elimination_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING `+gameColumns,
		id, models.GameStatusFinished, winnerUserID, finishedAt, models.GameStatusActive,
	)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotActive
		}
		return nil, fmt.Errorf("failed to finalize game: %w", err)
	}

	payload := events.GameFinishedPayload{
		GameID:     id.String(),
		FinishedAt: finishedAt,
		StartedAt:  game.StartedAt,
	}
	if winner != nil {
		payload.WinnerUserID = winner.UserID.String()
		payload.WinnerNumber = &winner.Number
	}
	if err := insertEvent(ctx, tx, events.TypeGameFinished, id, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit finalize transaction: %w", err)
	}
	return game, nil
}

func (r *Repository) CancelGame(ctx context.Context, id uuid.UUID, reason string) (*models.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cancel transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE games
		SET status = $2, next_elimination_at = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+gameColumns,
		id, models.GameStatusCancelled,
		[]string{string(models.GameStatusWaiting), string(models.GameStatusActive)},
	)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameImmutable
		}
		return nil, fmt.Errorf("failed to cancel game: %w", err)
	}

	err = insertEvent(ctx, tx, events.TypeGameCancelled, id, events.GameCancelledPayload{
		GameID:      id.String(),
		CancelledAt: game.UpdatedAt,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancel transaction: %w", err)
	}
	return game, nil
}

func (r *Repository) UpdateNextDeadline(ctx context.Context, gameID uuid.UUID, deadline *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE games SET next_elimination_at = $2, updated_at = now() WHERE id = $1`,
		gameID, deadline,
	)
	if err != nil {
		return fmt.Errorf("failed to update next deadline: %w", err)
	}
	return nil
}

// insertEvent writes a domain event into the outbox inside the same
// transaction as the state change it describes, so a committed mutation is
// never observable without its event.
func insertEvent(ctx context.Context, tx pgx.Tx, eventType string, gameID uuid.UUID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_events (id, game_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		uuid.New(), gameID, eventType, data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// mapJoinConflict translates unique-constraint violations into the
// corresponding conflict error, or nil when err is not a constraint violation.
func mapJoinConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case constraintGameNumber:
		return ErrNumberAlreadyTaken
	case constraintGameUser:
		return ErrUserAlreadyJoined
	default:
		return nil
	}
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	err := row.Scan(
		&g.ID, &g.Title, &g.Description, &g.MaxParticipants, &g.ParticipantCount,
		&g.EliminationIntervalSec, &g.Status, &g.CreatedBy, &g.WinnerUserID,
		&g.StartedAt, &g.FinishedAt, &g.NextEliminationAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(&p.ID, &p.GameID, &p.UserID, &p.Number, &p.Status, &p.JoinedAt, &p.EliminatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectGames(rows pgx.Rows) ([]models.Game, error) {
	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}
