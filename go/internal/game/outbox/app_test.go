package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeOutboxRepo struct {
	unsent  []OutboxEvent
	sent    map[uuid.UUID]bool
	markErr error
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{sent: make(map[uuid.UUID]bool)}
}

func (f *fakeOutboxRepo) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	if int32(len(f.unsent)) <= limit {
		return f.unsent, nil
	}
	return f.unsent[:limit], nil
}

func (f *fakeOutboxRepo) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.sent[id] = true
	return nil
}

func (f *fakeOutboxRepo) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	for i := range f.unsent {
		if f.unsent[i].ID == id {
			return &f.unsent[i], nil
		}
	}
	return nil, errors.New("outbox event not found or already sent")
}

func unsentEvent(eventType string) OutboxEvent {
	return OutboxEvent{
		ID:        uuid.New(),
		GameID:    uuid.New(),
		EventType: eventType,
		Payload:   json.RawMessage(`{"game_id":"x"}`),
		CreatedAt: time.Now(),
	}
}

func TestFetchUnsentEventsValidatesLimit(t *testing.T) {
	app := NewApp(newFakeOutboxRepo())

	if _, err := app.FetchUnsentEvents(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive limit")
	}
}

func TestProcessUnsentEventsMarksSuccesses(t *testing.T) {
	repo := newFakeOutboxRepo()
	good := unsentEvent("GameStarted")
	bad := unsentEvent("ParticipantEliminated")
	repo.unsent = []OutboxEvent{good, bad}
	app := NewApp(repo)

	err := app.ProcessUnsentEvents(context.Background(), 10, func(event OutboxEvent) error {
		if event.ID == bad.ID {
			return errors.New("publish failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessUnsentEvents: %v", err)
	}

	if !repo.sent[good.ID] {
		t.Fatal("successfully processed event should be marked sent")
	}
	if repo.sent[bad.ID] {
		t.Fatal("failed event must stay unsent for the next batch")
	}
}

func TestProcessUnsentEventsRespectsBatchSize(t *testing.T) {
	repo := newFakeOutboxRepo()
	for i := 0; i < 5; i++ {
		repo.unsent = append(repo.unsent, unsentEvent("ParticipantJoined"))
	}
	app := NewApp(repo)

	processed := 0
	err := app.ProcessUnsentEvents(context.Background(), 2, func(event OutboxEvent) error {
		processed++
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessUnsentEvents: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
}
