package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the lifecycle status of an elimination game.
type GameStatus string

const (
	GameStatusWaiting   GameStatus = "WAITING"
	GameStatusActive    GameStatus = "ACTIVE"
	GameStatusFinished  GameStatus = "FINISHED"
	GameStatusCancelled GameStatus = "CANCELLED"
)

// Game represents one last-one-standing elimination raffle.
type Game struct {
	ID                     uuid.UUID  `json:"id"`
	Title                  string     `json:"title"`
	Description            string     `json:"description,omitempty"`
	MaxParticipants        int        `json:"max_participants"`
	ParticipantCount       int        `json:"participant_count"`
	EliminationIntervalSec int        `json:"elimination_interval_sec"`
	Status                 GameStatus `json:"status"`
	CreatedBy              uuid.UUID  `json:"created_by"`
	WinnerUserID           *uuid.UUID `json:"winner_user_id,omitempty"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	FinishedAt             *time.Time `json:"finished_at,omitempty"`
	NextEliminationAt      *time.Time `json:"next_elimination_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// EliminationInterval returns the configured delay between elimination ticks.
func (g *Game) EliminationInterval() time.Duration {
	return time.Duration(g.EliminationIntervalSec) * time.Second
}

// Terminal reports whether the game reached a state that permits no further
// transitions.
func (g *Game) Terminal() bool {
	return g.Status == GameStatusFinished || g.Status == GameStatusCancelled
}
