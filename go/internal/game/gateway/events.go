package gateway

import (
	"encoding/json"
	"time"

	"github.com/sorteiohub/restaum/go/internal/game/events"
)

// GameEvent is the frame pushed to WebSocket clients
type GameEvent struct {
	ID        string          `json:"id"`        // Event UUID
	GameID    string          `json:"game_id"`   // Game UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of game event
type EventType string

const (
	EventTypeGameStarted           EventType = EventType(events.TypeGameStarted)
	EventTypeParticipantJoined     EventType = EventType(events.TypeParticipantJoined)
	EventTypeParticipantEliminated EventType = EventType(events.TypeParticipantEliminated)
	EventTypeGameFinished          EventType = EventType(events.TypeGameFinished)
	EventTypeGameCancelled         EventType = EventType(events.TypeGameCancelled)

	// EventTypeStateSnapshot is gateway-local: it never travels through the
	// outbox, only from the state provider to a freshly connected client.
	EventTypeStateSnapshot EventType = "StateSnapshot"
)
