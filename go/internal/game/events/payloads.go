package events

import (
	"time"
)

// Event payload types shared between the game, orchestrator and gateway
// packages.

// Event type names as stored in the outbox and published on the bus.
const (
	TypeGameStarted           = "GameStarted"
	TypeParticipantJoined     = "ParticipantJoined"
	TypeParticipantEliminated = "ParticipantEliminated"
	TypeGameFinished          = "GameFinished"
	TypeGameCancelled         = "GameCancelled"
)

// GameStartedPayload is the payload for a GameStarted event
type GameStartedPayload struct {
	GameID                 string    `json:"game_id"`
	StartedAt              time.Time `json:"started_at"`
	ParticipantCount       int       `json:"participant_count"`
	EliminationIntervalSec int       `json:"elimination_interval_sec"`
}

// ParticipantJoinedPayload is the payload for a ParticipantJoined event
type ParticipantJoinedPayload struct {
	ParticipantID    string    `json:"participant_id"`
	UserID           string    `json:"user_id"`
	Number           int       `json:"number"`
	JoinedAt         time.Time `json:"joined_at"`
	ParticipantCount int       `json:"participant_count"`
}

// ParticipantEliminatedPayload is the payload for a ParticipantEliminated event
type ParticipantEliminatedPayload struct {
	ParticipantID   string    `json:"participant_id"`
	UserID          string    `json:"user_id"`
	Number          int       `json:"number"`
	EliminatedAt    time.Time `json:"eliminated_at"`
	RemainingActive int       `json:"remaining_active"`
}

// GameFinishedPayload is the payload for a GameFinished event. WinnerUserID
// is empty for the degenerate zero-participant finish.
type GameFinishedPayload struct {
	GameID       string     `json:"game_id"`
	WinnerUserID string     `json:"winner_user_id,omitempty"`
	WinnerNumber *int       `json:"winner_number,omitempty"`
	FinishedAt   time.Time  `json:"finished_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

// GameCancelledPayload is the payload for a GameCancelled event
type GameCancelledPayload struct {
	GameID      string    `json:"game_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}
