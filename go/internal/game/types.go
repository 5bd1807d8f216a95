package game

import (
	"github.com/google/uuid"
)

// CreateGameRequest represents a request to create a new elimination game
type CreateGameRequest struct {
	ID                     uuid.UUID `json:"id"`
	Title                  string    `json:"title"`
	Description            string    `json:"description"`
	MaxParticipants        int       `json:"max_participants"`
	EliminationIntervalSec int       `json:"elimination_interval_sec"`
	CreatedBy              uuid.UUID `json:"created_by"`
}

// JoinGameRequest represents a request to claim a lucky number in a game
type JoinGameRequest struct {
	GameID uuid.UUID `json:"game_id"`
	UserID uuid.UUID `json:"user_id"`
	Number int       `json:"number"`
}
