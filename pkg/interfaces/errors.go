package interfaces

import "errors"

// Shared sentinel errors crossing package boundaries
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotActive     = errors.New("session is not active")
	ErrActiveSessionExists  = errors.New("account already has an active session")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account name already taken")
	ErrStateNotFound        = errors.New("participant state not found")
	ErrExerciseNotFound     = errors.New("exercise not found")
	ErrCacheMiss            = errors.New("cache miss")
	ErrNotInvited           = errors.New("account is not invited to this session")
	ErrAlreadyParticipant   = errors.New("account is already a participant")
	ErrParticipantNotFound  = errors.New("participant not found in session")
)
