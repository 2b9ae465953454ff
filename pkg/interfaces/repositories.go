package interfaces

import (
	"context"

	"liftsync/pkg/types"
)

// SessionRepository is the engine's narrow contract with the durable
// session document store. The engine reads membership to authorize joins
// and writes back only roster and cursor changes.
type SessionRepository interface {
	GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error)
	GetActiveSessionByAccount(ctx context.Context, accountID string) (*types.Session, error)
	CreateSession(ctx context.Context, ownerID, name string) (*types.Session, error)
	Invite(ctx context.Context, sessionID, invitedBy, invited string) error
	Uninvite(ctx context.Context, sessionID, accountID string) error
	AcceptInvite(ctx context.Context, sessionID, accountID string) (*types.Session, error)
	UpdateParticipantCursor(ctx context.Context, sessionID, accountID string, cursor *types.Cursor) error
	CompleteSession(ctx context.Context, sessionID string) error
}

// StateRepository is the durable half of the participant state store
type StateRepository interface {
	GetState(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error)
	UpsertState(ctx context.Context, state *types.ParticipantState) error
	DeleteState(ctx context.Context, sessionID, accountID string) error
}

// AccountRepository resolves and creates account records
type AccountRepository interface {
	CreateAccount(ctx context.Context, name, passwordHash string) (*types.Account, error)
	GetAccountByID(ctx context.Context, accountID string) (*types.Account, error)
	GetAccountByName(ctx context.Context, name string) (*types.Account, error)
}

// ExerciseRepository serves the read-only exercise metadata catalog
type ExerciseRepository interface {
	ListExercises(ctx context.Context) ([]*types.ExerciseMeta, error)
	GetExercise(ctx context.Context, exerciseID string) (*types.ExerciseMeta, error)
}
