package game

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sorteiohub/restaum/go/internal/identity"
)

// Service exposes the game app over JSON HTTP
type Service struct {
	app      *App
	identity identity.Resolver
}

// NewService creates a new game Service
func NewService(app *App, resolver identity.Resolver) *Service {
	return &Service{
		app:      app,
		identity: resolver,
	}
}

// RegisterRoutes registers the game routes with an HTTP mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", s.handleCreateGame)
	mux.HandleFunc("GET /api/games", s.handleListGames)
	mux.HandleFunc("GET /api/games/{id}", s.handleGetGame)
	mux.HandleFunc("GET /api/games/{id}/participants", s.handleListParticipants)
	mux.HandleFunc("POST /api/games/{id}/join", s.handleJoinGame)
	mux.HandleFunc("POST /api/games/{id}/start", s.handleStartElimination)
	mux.HandleFunc("POST /api/games/{id}/cancel", s.handleCancelGame)
}

type createGameBody struct {
	Title                  string `json:"title"`
	Description            string `json:"description"`
	MaxParticipants        int    `json:"max_participants"`
	EliminationIntervalSec int    `json:"elimination_interval_sec"`
}

func (s *Service) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identity.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+identity.Header+" header")
		return
	}

	var body createGameBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	game, err := s.app.CreateGame(r.Context(), CreateGameRequest{
		ID:                     uuid.New(),
		Title:                  body.Title,
		Description:            body.Description,
		MaxParticipants:        body.MaxParticipants,
		EliminationIntervalSec: body.EliminationIntervalSec,
		CreatedBy:              userID,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

func (s *Service) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.app.ListGames(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (s *Service) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	game, err := s.app.GetGame(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Service) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	participants, err := s.app.ListParticipants(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

type joinGameBody struct {
	Number int `json:"number"`
}

func (s *Service) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	userID, err := s.identity.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+identity.Header+" header")
		return
	}

	var body joinGameBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participant, err := s.app.JoinGame(r.Context(), JoinGameRequest{
		GameID: gameID,
		UserID: userID,
		Number: body.Number,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (s *Service) handleStartElimination(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	if !s.authorizeAdmin(w, r, gameID) {
		return
	}
	game, err := s.app.StartElimination(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

type cancelGameBody struct {
	Reason string `json:"reason"`
}

func (s *Service) handleCancelGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	if !s.authorizeAdmin(w, r, gameID) {
		return
	}

	var body cancelGameBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	game, err := s.app.CancelGame(r.Context(), gameID, body.Reason)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// authorizeAdmin verifies the acting user created the game. Writes the error
// response and returns false when the check fails.
func (s *Service) authorizeAdmin(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) bool {
	userID, err := s.identity.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+identity.Header+" header")
		return false
	}
	game, err := s.app.GetGame(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return false
	}
	if game.CreatedBy != userID {
		writeError(w, http.StatusForbidden, "only the game creator can perform this action")
		return false
	}
	return true
}

func (s *Service) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGameNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNumberOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNumberAlreadyTaken),
		errors.Is(err, ErrUserAlreadyJoined),
		errors.Is(err, ErrGameFull),
		errors.Is(err, ErrGameNotJoinable),
		errors.Is(err, ErrGameNotActive),
		errors.Is(err, ErrGameAlreadyFinished),
		errors.Is(err, ErrGameImmutable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotEnoughParticipants):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathGameID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return uuid.Nil, false
	}
	return gameID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
