package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorteiohub/restaum/go/internal/models"
)

// StateProvider supplies the catch-up frame pushed to a client right after
// the upgrade, so viewers joining mid-game render the board without waiting
// for the next live event.
type StateProvider interface {
	GameSnapshot(ctx context.Context, gameID uuid.UUID) (*GameSnapshot, error)
}

// GameSnapshot is the one-time state frame sent on connect.
type GameSnapshot struct {
	GameID                 string             `json:"game_id"`
	Title                  string             `json:"title"`
	Status                 string             `json:"status"`
	MaxParticipants        int                `json:"max_participants"`
	EliminationIntervalSec int                `json:"elimination_interval_sec"`
	StartedAt              *time.Time         `json:"started_at,omitempty"`
	NextEliminationAt      *time.Time         `json:"next_elimination_at,omitempty"`
	WinnerUserID           string             `json:"winner_user_id,omitempty"`
	Participants           []ParticipantState `json:"participants"`
}

// ParticipantState is one board slot inside a snapshot.
type ParticipantState struct {
	UserID       string     `json:"user_id"`
	Number       int        `json:"number"`
	Status       string     `json:"status"`
	EliminatedAt *time.Time `json:"eliminated_at,omitempty"`
}

// GameReader is the slice of the game app the provider reads from.
type GameReader interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error)
}

// AppStateProvider builds snapshots directly from the game app.
type AppStateProvider struct {
	games GameReader
}

func NewAppStateProvider(games GameReader) *AppStateProvider {
	return &AppStateProvider{games: games}
}

func (p *AppStateProvider) GameSnapshot(ctx context.Context, gameID uuid.UUID) (*GameSnapshot, error) {
	g, err := p.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load game for snapshot: %w", err)
	}

	participants, err := p.games.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants for snapshot: %w", err)
	}

	snapshot := &GameSnapshot{
		GameID:                 g.ID.String(),
		Title:                  g.Title,
		Status:                 string(g.Status),
		MaxParticipants:        g.MaxParticipants,
		EliminationIntervalSec: g.EliminationIntervalSec,
		StartedAt:              g.StartedAt,
		NextEliminationAt:      g.NextEliminationAt,
		Participants:           make([]ParticipantState, 0, len(participants)),
	}
	if g.WinnerUserID != nil {
		snapshot.WinnerUserID = g.WinnerUserID.String()
	}

	for _, participant := range participants {
		snapshot.Participants = append(snapshot.Participants, ParticipantState{
			UserID:       participant.UserID.String(),
			Number:       participant.Number,
			Status:       string(participant.Status),
			EliminatedAt: participant.EliminatedAt,
		})
	}

	return snapshot, nil
}
