package main

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable part of a serverError
type ErrorCode string

const (
	CodeLobbyFull        ErrorCode = "LOBBY_FULL"
	CodeGameInProgress   ErrorCode = "GAME_IN_PROGRESS"
	CodeLobbyNotFound    ErrorCode = "LOBBY_NOT_FOUND"
	CodeInvalidLobbyCode ErrorCode = "INVALID_LOBBY_CODE"
	CodeNotHost          ErrorCode = "NOT_HOST"
	CodeSettingsLocked   ErrorCode = "SETTINGS_UPDATE_FAILED"
	CodeNotInLobby       ErrorCode = "NOT_IN_LOBBY"
	CodeCreateFailed     ErrorCode = "CREATE_LOBBY_FAILED"
	CodeTooManyLobbies   ErrorCode = "TOO_MANY_LOBBIES"
	CodeBadMessage       ErrorCode = "BAD_MESSAGE"
	CodeAuthFailed       ErrorCode = "AUTH_FAILED"
	CodeLobbyClosed      ErrorCode = "LOBBY_CLOSED"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// GameError is an error that may be reported to the requesting connection
type GameError struct {
	Code    ErrorCode
	Message string
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code so wrapped sentinels compare equal
func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	return ok && t.Code == e.Code
}

var (
	ErrLobbyFull        = &GameError{Code: CodeLobbyFull, Message: "This lobby is full."}
	ErrGameInProgress   = &GameError{Code: CodeGameInProgress, Message: "Game already in progress."}
	ErrLobbyNotFound    = &GameError{Code: CodeLobbyNotFound, Message: "Lobby not found"}
	ErrInvalidLobbyCode = &GameError{Code: CodeInvalidLobbyCode, Message: "Invalid lobby code"}
	ErrNotHost          = &GameError{Code: CodeNotHost, Message: "Only the host can change settings"}
	ErrSettingsLocked   = &GameError{Code: CodeSettingsLocked, Message: "Cannot change settings during game"}
	ErrNotInLobby       = &GameError{Code: CodeNotInLobby, Message: "You are not in a lobby"}
	ErrTooManyLobbies   = &GameError{Code: CodeTooManyLobbies, Message: "Maximum number of lobbies reached"}
	ErrLobbyClosed      = &GameError{Code: CodeLobbyClosed, Message: "The lobby was closed"}

	// ErrCodeSpaceExhausted is operational: no free lobby code after the retry budget
	ErrCodeSpaceExhausted = errors.New("failed to generate unique lobby code")
)

// toServerError maps any error to the payload sent to the client. Errors
// that are not GameErrors are reported generically.
func toServerError(err error, fallback ErrorCode) ServerErrorMsg {
	var ge *GameError
	if errors.As(err, &ge) {
		return ServerErrorMsg{Message: ge.Message, Code: ge.Code}
	}
	msg := "Something went wrong"
	switch fallback {
	case CodeCreateFailed:
		msg = "Failed to create lobby"
	case CodeBadMessage:
		msg = "Malformed message"
	case CodeAuthFailed:
		msg = "Authentication failed"
	}
	return ServerErrorMsg{Message: msg, Code: fallback}
}
