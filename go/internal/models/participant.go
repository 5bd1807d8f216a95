package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus defines the status of a participant within a game.
type ParticipantStatus string

const (
	ParticipantStatusActive     ParticipantStatus = "ACTIVE"
	ParticipantStatusEliminated ParticipantStatus = "ELIMINATED"
)

// Participant is a user's entry into a game, identified by a unique chosen
// number within that game.
type Participant struct {
	ID           uuid.UUID         `json:"id"`
	GameID       uuid.UUID         `json:"game_id"`
	UserID       uuid.UUID         `json:"user_id"`
	Number       int               `json:"number"`
	Status       ParticipantStatus `json:"status"`
	JoinedAt     time.Time         `json:"joined_at"`
	EliminatedAt *time.Time        `json:"eliminated_at,omitempty"`
}
