package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// RunScheduler runs the event-driven orchestrator as a JetStream consumer.
// Persisted deadlines are recovered before consumption starts, so a restart
// never loses a pending elimination.
func (o *Orchestrator) RunScheduler(ctx context.Context) error {
	log.Info().
		Str("instance", o.instanceID).
		Int("workers", o.config.NumWorkers).
		Msg("event-driven orchestrator started as JetStream consumer")

	// Start worker pool
	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < o.config.NumWorkers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	// Ensure workers are cleaned up
	defer func() {
		log.Info().Str("instance", o.instanceID).Msg("shutting down workers")
		cancelWorkers()
		close(o.workCh)
		wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	}()

	// Re-arm timers from persisted deadlines before consuming new events
	if err := o.Recover(ctx); err != nil {
		return fmt.Errorf("recover persisted deadlines: %w", err)
	}

	eventCh := make(chan jetstream.Msg, eventChannelBufferSize)

	consumeCtx, err := o.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case eventCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", o.instanceID).Msg("orchestrator shutdown requested")
			o.stopAllTimers()
			return nil
		case msg := <-eventCh:
			if err := o.processEvent(ctx, msg); err != nil {
				log.Error().Err(err).Msg("failed to process event")
				msg.Nak()
			} else {
				msg.Ack()
			}
		}
	}
}

// Recover scans active games and re-arms their elimination timers from the
// persisted deadlines. Overdue games are enqueued immediately.
func (o *Orchestrator) Recover(ctx context.Context) error {
	games, err := o.gameApp.ListActiveGames(ctx)
	if err != nil {
		return fmt.Errorf("list active games: %w", err)
	}

	recovered := 0
	overdue := 0
	for _, g := range games {
		if g.NextEliminationAt == nil {
			log.Warn().
				Str("game_id", g.ID.String()).
				Msg("active game has no pending deadline, skipping recovery")
			continue
		}
		if !g.NextEliminationAt.After(o.clock.Now()) {
			overdue++
		}
		o.scheduleAt(ctx, g.ID, *g.NextEliminationAt)
		recovered++
	}

	log.Info().
		Str("instance", o.instanceID).
		Int("active_games", len(games)).
		Int("recovered", recovered).
		Int("overdue", overdue).
		Msg("recovered elimination timers")
	return nil
}

func (o *Orchestrator) stopAllTimers() {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	for gameID, timer := range o.activeTimers {
		stopAndDrainTimer(timer)
		log.Debug().Str("game_id", gameID.String()).Msg("cancelled timer on shutdown")
	}
	o.activeTimers = make(map[uuid.UUID]clockwork.Timer)
}

// worker processes elimination ticks from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Info().
		Str("instance", o.instanceID).
		Int("worker_id", workerID).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case gameID, ok := <-o.workCh:
			if !ok {
				log.Info().
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("work channel closed, worker shutting down")
				return
			}

			log.Info().
				Str("game_id", gameID.String()).
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker handling elimination tick")

			if err := o.handleTick(ctx, gameID); err != nil {
				log.Error().
					Err(err).
					Str("game_id", gameID.String()).
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("worker tick handling failed")
			}
		}
	}
}
