package engine

import (
	"errors"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// Client-visible error codes carried in session_update error replies
const (
	CodeValidation       = "validation"
	CodeAccessDenied     = "access_denied"
	CodeNotFound         = "not_found"
	CodeSessionNotActive = "session_not_active"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

// Engine lifecycle errors
var (
	ErrEngineNotRunning     = errors.New("engine is not running")
	ErrEngineAlreadyRunning = errors.New("engine is already running")
	ErrConnectionNotFound   = errors.New("connection not found")
)

// OpError is a handler failure with a client-visible code. The dispatcher
// is the single point translating these into error replies; handler-local
// errors never propagate past it.
type OpError struct {
	Code    string
	Message string
}

func (e *OpError) Error() string {
	return e.Message
}

func validationError(msg string) *OpError {
	return &OpError{Code: CodeValidation, Message: msg}
}

func accessDeniedError(msg string) *OpError {
	return &OpError{Code: CodeAccessDenied, Message: msg}
}

func notFoundError(msg string) *OpError {
	return &OpError{Code: CodeNotFound, Message: msg}
}

func internalError(msg string) *OpError {
	return &OpError{Code: CodeInternal, Message: msg}
}

// asOpError translates any handler error into a client-visible OpError.
// FUNCTIONAL DISCOVERY: store sentinels map onto the client taxonomy here
// so repository packages stay ignorant of wire-level error codes.
func asOpError(err error) *OpError {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr
	}
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return notFoundError("session not found")
	case errors.Is(err, interfaces.ErrSessionNotActive):
		return &OpError{Code: CodeSessionNotActive, Message: "session is not active"}
	case errors.Is(err, types.ErrItemNotFound):
		return notFoundError("exercise not found")
	case errors.Is(err, types.ErrSetNotFound):
		return notFoundError("set not found")
	case errors.Is(err, interfaces.ErrStateNotFound):
		return notFoundError("participant state not found")
	default:
		return internalError("internal error")
	}
}
