package game

import "errors"

// Conflict and precondition errors surfaced to callers. Handlers map these to
// user-facing responses; anything else is treated as an infrastructure error.
var (
	ErrGameNotFound           = errors.New("game not found")
	ErrGameNotJoinable        = errors.New("game is not accepting participants")
	ErrNumberOutOfRange       = errors.New("chosen number is out of range")
	ErrNumberAlreadyTaken     = errors.New("chosen number is already taken")
	ErrUserAlreadyJoined      = errors.New("user already joined this game")
	ErrGameFull               = errors.New("game is full")
	ErrNotEnoughParticipants  = errors.New("at least 2 active participants are required")
	ErrGameNotActive          = errors.New("game is not active")
	ErrGameAlreadyFinished    = errors.New("game already finished")
	ErrGameImmutable          = errors.New("game is in a terminal state")
	ErrNoEliminationCandidate = errors.New("one or fewer active participants remain")

	// ErrValidation wraps request validation failures so handlers can match
	// them with errors.Is instead of inspecting messages.
	ErrValidation = errors.New("validation failed")
)
