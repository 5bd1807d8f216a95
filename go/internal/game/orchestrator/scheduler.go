package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// scheduleNextElimination sets a one-shot timer for a game's next elimination
// tick. Includes a base-time idempotency guard so redelivered events never
// stack duplicate timers.
func (o *Orchestrator) scheduleNextElimination(ctx context.Context, gameID uuid.UUID, baseTime time.Time) error {
	o.lastScheduledMu.Lock()
	if lastBase, exists := o.lastScheduled[gameID]; exists && lastBase.Equal(baseTime) {
		o.lastScheduledMu.Unlock()
		log.Debug().
			Str("game_id", gameID.String()).
			Time("base_time", baseTime).
			Msg("skipping duplicate schedule - already scheduled for this exact baseTime")
		return nil
	}
	o.lastScheduled[gameID] = baseTime
	o.lastScheduledMu.Unlock()

	interval, err := o.getEliminationInterval(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to get elimination interval: %w", err)
	}

	next := baseTime.Add(interval)
	o.scheduleAt(ctx, gameID, next)
	return nil
}

// scheduleAt arms a timer that enqueues the game when the deadline passes.
// Deadlines already in the past enqueue immediately.
func (o *Orchestrator) scheduleAt(ctx context.Context, gameID uuid.UUID, deadline time.Time) {
	duration := deadline.Sub(o.clock.Now())
	if duration <= 0 {
		o.enqueue(ctx, gameID)
		return
	}

	timer := o.clock.NewTimer(duration)

	// Atomically replace any existing timer for this game
	o.replaceTimer(gameID, timer)

	go func(id uuid.UUID, t clockwork.Timer) {
		select {
		case <-t.Chan():
			o.removeTimer(id)

			// Clean up lastScheduled entry after timer fires to prevent unbounded growth
			o.lastScheduledMu.Lock()
			delete(o.lastScheduled, id)
			o.lastScheduledMu.Unlock()

			o.enqueue(ctx, id)
		case <-ctx.Done():
			stopAndDrainTimer(t)
			o.removeTimer(id)

			o.lastScheduledMu.Lock()
			delete(o.lastScheduled, id)
			o.lastScheduledMu.Unlock()

			log.Debug().Str("game_id", id.String()).Msg("timer cancelled due to context cancellation")
		}
	}(gameID, timer)

	log.Debug().
		Str("game_id", gameID.String()).
		Time("deadline", deadline).
		Dur("duration", duration).
		Msg("scheduled one-shot timer")
}

// enqueue hands a due game to the worker pool. A full channel never drops the
// tick: a short retry timer re-attempts until a worker frees up or the
// orchestrator shuts down.
func (o *Orchestrator) enqueue(ctx context.Context, gameID uuid.UUID) {
	select {
	case o.workCh <- gameID:
		log.Debug().Str("game_id", gameID.String()).Msg("enqueued for processing")
	default:
		log.Warn().Str("game_id", gameID.String()).Msg("work channel full, retrying enqueue")
		go func() {
			timer := o.clock.NewTimer(enqueueRetryDelay)
			select {
			case <-timer.Chan():
				o.enqueue(ctx, gameID)
			case <-ctx.Done():
				stopAndDrainTimer(timer)
			}
		}()
	}
}

// replaceTimer atomically replaces a timer for a game, cancelling any existing
// timer first so no second timer can slip in between Stop() and delete().
func (o *Orchestrator) replaceTimer(gameID uuid.UUID, newTimer clockwork.Timer) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if existingTimer, exists := o.activeTimers[gameID]; exists {
		stopAndDrainTimer(existingTimer)
		log.Debug().Str("game_id", gameID.String()).Msg("replaced existing timer")
	}

	o.activeTimers[gameID] = newTimer
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks, per the time.Timer.Stop() documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// cancelTimer cancels and removes an active timer for a game
func (o *Orchestrator) cancelTimer(gameID uuid.UUID) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if timer, exists := o.activeTimers[gameID]; exists {
		stopAndDrainTimer(timer)
		delete(o.activeTimers, gameID)

		o.lastScheduledMu.Lock()
		delete(o.lastScheduled, gameID)
		o.lastScheduledMu.Unlock()

		log.Debug().Str("game_id", gameID.String()).Msg("cancelled existing timer")
	}
}

// removeTimer removes a timer from the active timers map (called when it fires)
func (o *Orchestrator) removeTimer(gameID uuid.UUID) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	delete(o.activeTimers, gameID)
}
