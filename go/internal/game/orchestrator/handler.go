package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sorteiohub/restaum/go/internal/game"
	"github.com/sorteiohub/restaum/go/internal/game/events"
	"github.com/sorteiohub/restaum/go/internal/models"
)

// DomainEvent represents a domain event envelope from JetStream
type DomainEvent struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	GameID    string          `json:"gameId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// HandleDomainEvent handles incoming domain events and routes them to appropriate handlers
func (o *Orchestrator) HandleDomainEvent(ctx context.Context, eventType string, gameID uuid.UUID, payload []byte) error {
	log.Info().
		Str("event_type", eventType).
		Str("game_id", gameID.String()).
		Msg("handling domain event")

	switch eventType {
	case events.TypeGameStarted:
		var startedPayload events.GameStartedPayload
		if err := json.Unmarshal(payload, &startedPayload); err != nil {
			return fmt.Errorf("failed to unmarshal GameStarted payload: %w", err)
		}
		return o.handleGameStartedEvent(ctx, gameID, startedPayload)

	case events.TypeParticipantEliminated:
		var eliminatedPayload events.ParticipantEliminatedPayload
		if err := json.Unmarshal(payload, &eliminatedPayload); err != nil {
			return fmt.Errorf("failed to unmarshal ParticipantEliminated payload: %w", err)
		}
		return o.handleParticipantEliminatedEvent(ctx, gameID, eliminatedPayload)

	case events.TypeParticipantJoined:
		// Joins never move the elimination schedule
		return nil

	case events.TypeGameFinished, events.TypeGameCancelled:
		log.Info().
			Str("game_id", gameID.String()).
			Str("event_type", eventType).
			Msg("game reached terminal state - cleaning up tracking maps")

		o.lastScheduledMu.Lock()
		delete(o.lastScheduled, gameID)
		o.lastScheduledMu.Unlock()

		o.cancelTimer(gameID)
		return nil

	default:
		log.Warn().
			Str("event_type", eventType).
			Str("game_id", gameID.String()).
			Msg("unknown event type - ignoring")
		return nil
	}
}

// handleGameStartedEvent sets up the first elimination timer from the game
// start time
func (o *Orchestrator) handleGameStartedEvent(ctx context.Context, gameID uuid.UUID, payload events.GameStartedPayload) error {
	log.Info().
		Str("game_id", gameID.String()).
		Int("participants", payload.ParticipantCount).
		Int("interval_sec", payload.EliminationIntervalSec).
		Msg("handling GameStarted event")

	return o.scheduleNextElimination(ctx, gameID, payload.StartedAt)
}

// handleParticipantEliminatedEvent schedules the next elimination timer from
// the elimination time
func (o *Orchestrator) handleParticipantEliminatedEvent(ctx context.Context, gameID uuid.UUID, payload events.ParticipantEliminatedPayload) error {
	log.Info().
		Str("game_id", gameID.String()).
		Int("number", payload.Number).
		Int("remaining_active", payload.RemainingActive).
		Msg("handling ParticipantEliminated event")

	// Even when one participant remains the next tick still runs; it is the
	// tick that records the winner.
	return o.scheduleNextElimination(ctx, gameID, payload.EliminatedAt)
}

// handleTick runs one elimination tick for a game whose deadline has passed.
func (o *Orchestrator) handleTick(ctx context.Context, gameID uuid.UUID) error {
	log.Info().Str("game_id", gameID.String()).Msg("elimination tick firing")

	current, err := o.gameApp.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, game.ErrGameNotFound) {
			o.cancelTimer(gameID)
			return nil
		}
		// The interval is unknown without the game row; retry on a short timer.
		o.scheduleAt(ctx, gameID, o.clock.Now().Add(tickRetryDelay))
		return fmt.Errorf("failed to load game for tick: %w", err)
	}
	if current.Status != models.GameStatusActive {
		// Cancelled or finished between scheduling and firing
		o.cancelTimer(gameID)
		return nil
	}

	if o.exceededMaxDuration(current) {
		log.Warn().
			Str("game_id", gameID.String()).
			Dur("max_duration", o.config.MaxGameDuration).
			Msg("game exceeded maximum duration - draining remaining eliminations")
		if err := o.drainAndFinalize(ctx, gameID); err != nil {
			o.rearmAfterFailure(ctx, gameID, current.EliminationInterval())
			return err
		}
		return nil
	}

	_, err = o.gameApp.EliminateOne(ctx, gameID)
	if err != nil {
		if errors.Is(err, game.ErrNoEliminationCandidate) {
			// One or zero active participants left, close the game
			return o.finalize(ctx, gameID)
		}
		if errors.Is(err, game.ErrGameNotActive) {
			o.cancelTimer(gameID)
			return nil
		}
		// The tick is abandoned, nobody was eliminated. Re-arm the timer so
		// the game keeps its schedule; the next attempt runs one interval out.
		o.rearmAfterFailure(ctx, gameID, current.EliminationInterval())
		return fmt.Errorf("elimination tick failed: %w", err)
	}

	// The next timer is scheduled when the ParticipantEliminated event comes
	// back through the consumer.
	return nil
}

// rearmAfterFailure schedules a fresh timer after a failed tick. Without it
// the game would stall: the next timer normally comes from the event the
// failed tick never produced.
func (o *Orchestrator) rearmAfterFailure(ctx context.Context, gameID uuid.UUID, interval time.Duration) {
	deadline := o.clock.Now().Add(interval)
	o.scheduleAt(ctx, gameID, deadline)
	log.Warn().
		Str("game_id", gameID.String()).
		Time("deadline", deadline).
		Msg("tick failed, timer re-armed")
}

// drainAndFinalize eliminates every remaining participant but one without
// waiting for timers, then finalizes.
func (o *Orchestrator) drainAndFinalize(ctx context.Context, gameID uuid.UUID) error {
	for {
		if _, err := o.gameApp.EliminateOne(ctx, gameID); err != nil {
			if errors.Is(err, game.ErrNoEliminationCandidate) {
				return o.finalize(ctx, gameID)
			}
			return fmt.Errorf("drain elimination failed: %w", err)
		}
	}
}

func (o *Orchestrator) finalize(ctx context.Context, gameID uuid.UUID) error {
	if _, err := o.gameApp.FinalizeGame(ctx, gameID, nil); err != nil {
		if errors.Is(err, game.ErrGameAlreadyFinished) || errors.Is(err, game.ErrGameImmutable) {
			o.cancelTimer(gameID)
			return nil
		}
		o.rearmAfterFailure(ctx, gameID, tickRetryDelay)
		return fmt.Errorf("failed to finalize game: %w", err)
	}
	o.cancelTimer(gameID)
	return nil
}

func (o *Orchestrator) exceededMaxDuration(g *models.Game) bool {
	if o.config.MaxGameDuration <= 0 || g.StartedAt == nil {
		return false
	}
	return o.clock.Now().Sub(*g.StartedAt) > o.config.MaxGameDuration
}

// getEliminationInterval fetches the per-game tick interval
func (o *Orchestrator) getEliminationInterval(ctx context.Context, gameID uuid.UUID) (time.Duration, error) {
	current, err := o.gameApp.GetGame(ctx, gameID)
	if err != nil {
		return 0, err
	}
	return current.EliminationInterval(), nil
}
