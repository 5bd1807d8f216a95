package game

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sorteiohub/restaum/go/internal/identity"
	"github.com/sorteiohub/restaum/go/internal/models"
)

func newTestMux() (*http.ServeMux, *fakeRepo) {
	repo := newFakeRepo()
	app := NewApp(repo, &fakeNotifier{})
	service := NewService(app, identity.NewHeaderResolver())
	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	return mux, repo
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, userID *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if userID != nil {
		r.Header.Set(identity.Header, userID.String())
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestCreateGameEndpoint(t *testing.T) {
	mux, _ := newTestMux()
	creator := uuid.New()

	w := doJSON(t, mux, "POST", "/api/games", &creator, map[string]any{
		"title":                    "Sorteio da firma",
		"max_participants":         50,
		"elimination_interval_sec": 30,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
	}

	var created models.Game
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.CreatedBy != creator {
		t.Fatalf("created_by = %s, want %s", created.CreatedBy, creator)
	}
	if created.Status != models.GameStatusWaiting {
		t.Fatalf("status = %s, want WAITING", created.Status)
	}
}

func TestCreateGameEndpointRequiresIdentity(t *testing.T) {
	mux, _ := newTestMux()

	w := doJSON(t, mux, "POST", "/api/games", nil, map[string]any{"title": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCreateGameEndpointValidation(t *testing.T) {
	mux, _ := newTestMux()
	creator := uuid.New()

	w := doJSON(t, mux, "POST", "/api/games", &creator, map[string]any{
		"title":                    "Sorteio",
		"max_participants":         1,
		"elimination_interval_sec": 30,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body)
	}
}

func TestGetGameEndpointNotFound(t *testing.T) {
	mux, _ := newTestMux()

	w := doJSON(t, mux, "GET", "/api/games/"+uuid.New().String(), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	w = doJSON(t, mux, "GET", "/api/games/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed id", w.Code)
	}
}

func TestJoinGameEndpoint(t *testing.T) {
	mux, repo := newTestMux()
	g := waitingGame(repo, 10)
	joinPath := "/api/games/" + g.ID.String() + "/join"

	userA := uuid.New()
	w := doJSON(t, mux, "POST", joinPath, &userA, map[string]any{"number": 7})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
	}

	var p models.Participant
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if p.Number != 7 || p.UserID != userA {
		t.Fatalf("unexpected participant %+v", p)
	}

	// Number conflict surfaces as 409
	userB := uuid.New()
	w = doJSON(t, mux, "POST", joinPath, &userB, map[string]any{"number": 7})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body)
	}

	// Range violation surfaces as 400
	w = doJSON(t, mux, "POST", joinPath, &userB, map[string]any{"number": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body)
	}
}

func TestStartEndpointAuthorization(t *testing.T) {
	mux, repo := newTestMux()
	g := waitingGame(repo, 10)
	repo.addParticipant(&models.Participant{ID: uuid.New(), GameID: g.ID, UserID: uuid.New(), Number: 1, Status: models.ParticipantStatusActive, JoinedAt: time.Now()})
	repo.addParticipant(&models.Participant{ID: uuid.New(), GameID: g.ID, UserID: uuid.New(), Number: 2, Status: models.ParticipantStatusActive, JoinedAt: time.Now()})
	startPath := "/api/games/" + g.ID.String() + "/start"

	// Only the creator can start
	outsider := uuid.New()
	w := doJSON(t, mux, "POST", startPath, &outsider, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", w.Code, w.Body)
	}

	w = doJSON(t, mux, "POST", startPath, &g.CreatedBy, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var started models.Game
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if started.Status != models.GameStatusActive {
		t.Fatalf("status = %s, want ACTIVE", started.Status)
	}
}

func TestStartEndpointRequiresParticipants(t *testing.T) {
	mux, repo := newTestMux()
	g := waitingGame(repo, 10)

	w := doJSON(t, mux, "POST", "/api/games/"+g.ID.String()+"/start", &g.CreatedBy, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body)
	}
}

func TestCancelEndpoint(t *testing.T) {
	mux, repo := newTestMux()
	g := waitingGame(repo, 10)
	cancelPath := "/api/games/" + g.ID.String() + "/cancel"

	w := doJSON(t, mux, "POST", cancelPath, &g.CreatedBy, map[string]any{"reason": "evento adiado"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var cancelled models.Game
	if err := json.Unmarshal(w.Body.Bytes(), &cancelled); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cancelled.Status != models.GameStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}

	// Cancelling a terminal game conflicts
	w = doJSON(t, mux, "POST", cancelPath, &g.CreatedBy, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body)
	}
}

func TestListParticipantsEndpoint(t *testing.T) {
	mux, repo := newTestMux()
	g := waitingGame(repo, 10)
	repo.addParticipant(&models.Participant{ID: uuid.New(), GameID: g.ID, UserID: uuid.New(), Number: 3, Status: models.ParticipantStatusActive, JoinedAt: time.Now()})

	w := doJSON(t, mux, "GET", "/api/games/"+g.ID.String()+"/participants", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var participants []models.Participant
	if err := json.Unmarshal(w.Body.Bytes(), &participants); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(participants) != 1 || participants[0].Number != 3 {
		t.Fatalf("unexpected participants %+v", participants)
	}
}
