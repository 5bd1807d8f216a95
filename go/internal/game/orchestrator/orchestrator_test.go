package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sorteiohub/restaum/go/internal/game"
	"github.com/sorteiohub/restaum/go/internal/game/events"
	"github.com/sorteiohub/restaum/go/internal/models"
)

type fakeGameApp struct {
	mu             sync.Mutex
	games          map[uuid.UUID]*models.Game
	activeCount    map[uuid.UUID]int
	getGameCalls   int
	eliminateCalls int
	finalizeCalls  int

	// Countdown of transient failures injected before the call succeeds
	eliminateFailures int
	finalizeFailures  int
}

func newFakeGameApp() *fakeGameApp {
	return &fakeGameApp{
		games:       make(map[uuid.UUID]*models.Game),
		activeCount: make(map[uuid.UUID]int),
	}
}

func (f *fakeGameApp) addActiveGame(intervalSec, activeParticipants int, startedAt time.Time) *models.Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &models.Game{
		ID:                     uuid.New(),
		Title:                  "Sorteio",
		Status:                 models.GameStatusActive,
		EliminationIntervalSec: intervalSec,
		StartedAt:              &startedAt,
	}
	f.games[g.ID] = g
	f.activeCount[g.ID] = activeParticipants
	return g
}

func (f *fakeGameApp) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getGameCalls++
	g, ok := f.games[id]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	copied := *g
	return &copied, nil
}

func (f *fakeGameApp) ListActiveGames(ctx context.Context) ([]models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Game
	for _, g := range f.games {
		if g.Status == models.GameStatusActive {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeGameApp) EliminateOne(ctx context.Context, gameID uuid.UUID) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[gameID]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	if g.Status != models.GameStatusActive {
		return nil, game.ErrGameNotActive
	}
	if f.activeCount[gameID] <= 1 {
		return nil, game.ErrNoEliminationCandidate
	}
	if f.eliminateFailures > 0 {
		f.eliminateFailures--
		return nil, errors.New("deadlock detected")
	}
	f.eliminateCalls++
	f.activeCount[gameID]--
	now := time.Now()
	return &models.Participant{
		ID:           uuid.New(),
		GameID:       gameID,
		UserID:       uuid.New(),
		Number:       f.activeCount[gameID] + 1,
		Status:       models.ParticipantStatusEliminated,
		EliminatedAt: &now,
	}, nil
}

func (f *fakeGameApp) FinalizeGame(ctx context.Context, gameID uuid.UUID, winnerParticipantID *uuid.UUID) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[gameID]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	if g.Status == models.GameStatusFinished {
		return g, nil
	}
	if f.finalizeFailures > 0 {
		f.finalizeFailures--
		return nil, errors.New("connection reset")
	}
	f.finalizeCalls++
	g.Status = models.GameStatusFinished
	g.NextEliminationAt = nil
	copied := *g
	return &copied, nil
}

func (f *fakeGameApp) counts() (getGame, eliminate, finalize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getGameCalls, f.eliminateCalls, f.finalizeCalls
}

func newTestOrchestrator(app *fakeGameApp, clock Clock) *Orchestrator {
	o := NewOrchestrator(app, Config{NumWorkers: 1, WorkBuffer: 10, MaxGameDuration: 24 * time.Hour})
	o.clock = clock
	return o
}

func receiveTick(t *testing.T, o *Orchestrator) uuid.UUID {
	t.Helper()
	select {
	case id := <-o.workCh:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a tick on the work channel")
		return uuid.Nil
	}
}

func assertNoTick(t *testing.T, o *Orchestrator) {
	t.Helper()
	select {
	case id := <-o.workCh:
		t.Fatalf("unexpected tick enqueued for game %s", id)
	default:
	}
}

func (o *Orchestrator) timerCount() int {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	return len(o.activeTimers)
}

func TestScheduleNextEliminationFiresAfterInterval(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())

	if err := o.scheduleNextElimination(ctx, g.ID, fc.Now()); err != nil {
		t.Fatalf("scheduleNextElimination: %v", err)
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1", o.timerCount())
	}

	// Nothing fires before the interval elapses
	fc.Advance(9 * time.Second)
	assertNoTick(t, o)

	fc.Advance(time.Second)
	if got := receiveTick(t, o); got != g.ID {
		t.Fatalf("tick for game %s, want %s", got, g.ID)
	}
}

func TestScheduleNextEliminationSkipsDuplicateBaseTime(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())
	base := fc.Now()

	if err := o.scheduleNextElimination(ctx, g.ID, base); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	if err := o.scheduleNextElimination(ctx, g.ID, base); err != nil {
		t.Fatalf("duplicate schedule: %v", err)
	}

	getGame, _, _ := app.counts()
	if getGame != 1 {
		t.Fatalf("GetGame calls = %d, want 1 (duplicate should short-circuit)", getGame)
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1", o.timerCount())
	}
}

func TestSchedulePastDeadlineEnqueuesImmediately(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())

	// Base so far in the past that the computed deadline is already due
	if err := o.scheduleNextElimination(ctx, g.ID, fc.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("scheduleNextElimination: %v", err)
	}
	if got := receiveTick(t, o); got != g.ID {
		t.Fatalf("tick for game %s, want %s", got, g.ID)
	}
	if o.timerCount() != 0 {
		t.Fatalf("timer count = %d, want 0", o.timerCount())
	}
}

func TestHandleTickEliminatesOne(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())

	if err := o.handleTick(ctx, g.ID); err != nil {
		t.Fatalf("handleTick: %v", err)
	}
	_, eliminated, finalized := app.counts()
	if eliminated != 1 || finalized != 0 {
		t.Fatalf("eliminate=%d finalize=%d, want 1 and 0", eliminated, finalized)
	}
}

func TestHandleTickFinalizesWhenOneRemains(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 1, fc.Now())

	if err := o.handleTick(ctx, g.ID); err != nil {
		t.Fatalf("handleTick: %v", err)
	}
	_, eliminated, finalized := app.counts()
	if eliminated != 0 || finalized != 1 {
		t.Fatalf("eliminate=%d finalize=%d, want 0 and 1", eliminated, finalized)
	}
	if app.games[g.ID].Status != models.GameStatusFinished {
		t.Fatalf("status = %s, want FINISHED", app.games[g.ID].Status)
	}
}

func TestHandleTickSkipsTerminalGame(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())
	app.games[g.ID].Status = models.GameStatusCancelled

	if err := o.handleTick(ctx, g.ID); err != nil {
		t.Fatalf("handleTick: %v", err)
	}
	_, eliminated, finalized := app.counts()
	if eliminated != 0 || finalized != 0 {
		t.Fatalf("eliminate=%d finalize=%d, want no activity", eliminated, finalized)
	}
}

func TestHandleTickMissingGame(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)

	if err := o.handleTick(context.Background(), uuid.New()); err != nil {
		t.Fatalf("handleTick for missing game: %v", err)
	}
}

func TestHandleTickDrainsOverlongGame(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	o.config.MaxGameDuration = time.Hour
	ctx := context.Background()

	g := app.addActiveGame(10, 4, fc.Now().Add(-2*time.Hour))

	if err := o.handleTick(ctx, g.ID); err != nil {
		t.Fatalf("handleTick: %v", err)
	}
	_, eliminated, finalized := app.counts()
	if eliminated != 3 {
		t.Fatalf("eliminate calls = %d, want 3 (drain down to one survivor)", eliminated)
	}
	if finalized != 1 {
		t.Fatalf("finalize calls = %d, want 1", finalized)
	}
}

func TestRecoverReArmsPersistedDeadlines(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	overdue := app.addActiveGame(10, 3, fc.Now().Add(-time.Minute))
	past := fc.Now().Add(-10 * time.Second)
	app.games[overdue.ID].NextEliminationAt = &past

	pending := app.addActiveGame(10, 3, fc.Now())
	future := fc.Now().Add(30 * time.Second)
	app.games[pending.ID].NextEliminationAt = &future

	// An active game without a persisted deadline is skipped
	app.addActiveGame(10, 3, fc.Now())

	if err := o.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if got := receiveTick(t, o); got != overdue.ID {
		t.Fatalf("immediate tick for game %s, want overdue game %s", got, overdue.ID)
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1 (only the future deadline)", o.timerCount())
	}

	fc.Advance(30 * time.Second)
	if got := receiveTick(t, o); got != pending.ID {
		t.Fatalf("recovered tick for game %s, want %s", got, pending.ID)
	}
}

func TestTerminalEventCancelsTimer(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())
	if err := o.scheduleNextElimination(ctx, g.ID, fc.Now()); err != nil {
		t.Fatalf("scheduleNextElimination: %v", err)
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1", o.timerCount())
	}

	if err := o.HandleDomainEvent(ctx, events.TypeGameFinished, g.ID, nil); err != nil {
		t.Fatalf("HandleDomainEvent: %v", err)
	}
	if o.timerCount() != 0 {
		t.Fatalf("timer count = %d, want 0 after terminal event", o.timerCount())
	}

	o.lastScheduledMu.Lock()
	_, tracked := o.lastScheduled[g.ID]
	o.lastScheduledMu.Unlock()
	if tracked {
		t.Fatal("lastScheduled entry should be removed on terminal event")
	}
}

func TestParticipantEliminatedSchedulesNextTick(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(5, 3, fc.Now())
	payload, err := json.Marshal(events.ParticipantEliminatedPayload{
		ParticipantID:   uuid.New().String(),
		UserID:          uuid.New().String(),
		Number:          2,
		EliminatedAt:    fc.Now(),
		RemainingActive: 2,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if err := o.HandleDomainEvent(ctx, events.TypeParticipantEliminated, g.ID, payload); err != nil {
		t.Fatalf("HandleDomainEvent: %v", err)
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1", o.timerCount())
	}

	fc.Advance(5 * time.Second)
	if got := receiveTick(t, o); got != g.ID {
		t.Fatalf("tick for game %s, want %s", got, g.ID)
	}
}

func TestFailedTickReArmsTimer(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 3, fc.Now())
	app.eliminateFailures = 1

	// The failed tick produces no ParticipantEliminated event, so the only
	// path back onto the schedule is the re-armed timer.
	if err := o.handleTick(ctx, g.ID); err == nil {
		t.Fatal("expected handleTick to surface the elimination failure")
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1 after failed tick", o.timerCount())
	}

	fc.Advance(10 * time.Second)
	if got := receiveTick(t, o); got != g.ID {
		t.Fatalf("retry tick for game %s, want %s", got, g.ID)
	}
	if err := o.handleTick(ctx, g.ID); err != nil {
		t.Fatalf("retried handleTick: %v", err)
	}
	_, eliminated, _ := app.counts()
	if eliminated != 1 {
		t.Fatalf("eliminate calls = %d, want 1", eliminated)
	}
}

func TestFailedFinalizeReArmsTimer(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	g := app.addActiveGame(10, 1, fc.Now())
	app.finalizeFailures = 1

	if err := o.handleTick(ctx, g.ID); err == nil {
		t.Fatal("expected handleTick to surface the finalize failure")
	}
	if o.timerCount() != 1 {
		t.Fatalf("timer count = %d, want 1 after failed finalize", o.timerCount())
	}

	fc.Advance(tickRetryDelay)
	if got := receiveTick(t, o); got != g.ID {
		t.Fatalf("retry tick for game %s, want %s", got, g.ID)
	}
	if err := o.handleTick(ctx, g.ID); err != nil {
		t.Fatalf("retried handleTick: %v", err)
	}
	_, _, finalized := app.counts()
	if finalized != 1 {
		t.Fatalf("finalize calls = %d, want 1", finalized)
	}
	if app.games[g.ID].Status != models.GameStatusFinished {
		t.Fatalf("status = %s, want FINISHED", app.games[g.ID].Status)
	}
}

func TestEnqueueRetriesWhenWorkChannelFull(t *testing.T) {
	app := newFakeGameApp()
	fc := clockwork.NewFakeClock()
	o := newTestOrchestrator(app, fc)
	ctx := context.Background()

	for i := 0; i < cap(o.workCh); i++ {
		o.workCh <- uuid.New()
	}

	target := uuid.New()
	o.enqueue(ctx, target)

	// Wait for the retry timer goroutine, then free a slot and fire it
	fc.BlockUntil(1)
	<-o.workCh
	fc.Advance(enqueueRetryDelay)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case id := <-o.workCh:
			if id == target {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the retried enqueue")
		}
	}
}
