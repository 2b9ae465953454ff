package types

import "errors"

// Envelope and state mutation errors shared across the engine
var (
	ErrInvalidEncoding      = errors.New("operation is not valid JSON")
	ErrInvalidOperationType = errors.New("invalid operation type")
	ErrItemNotFound         = errors.New("exercise item not found")
	ErrSetNotFound          = errors.New("set not found")
	ErrInvalidAccountID     = errors.New("account ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidAccountName   = errors.New("account name must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionName   = errors.New("session name must be at most 200 characters")
)
