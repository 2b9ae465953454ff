package types

import "time"

// Cursor marks where a participant is currently focused
type Cursor struct {
	ExerciseID string `json:"exercise_id"`
	SetID      string `json:"set_id"`
}

// Participant is a member of a session's roster with a display color
type Participant struct {
	ID     string  `json:"id"`
	Color  string  `json:"color"`
	Cursor *Cursor `json:"cursor,omitempty"`
}

// Invitation is a pending offer to join a session
type Invitation struct {
	InvitedBy string     `json:"invited_by"`
	Invited   string     `json:"invited"`
	Expires   *time.Time `json:"expires,omitempty"`
}

// Session is the durable collaborative document a set of connections edit
// together. The engine reads it to authorize joins and writes back only
// participant roster and cursor changes.
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Status       SessionStatus `json:"status"`
	OwnerID      string        `json:"owner_id"`
	Participants []Participant `json:"participants"`
	Invitations  []Invitation  `json:"invitations"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IsActive reports whether the session accepts live edits
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// HasParticipant reports whether the account is on the roster
func (s *Session) HasParticipant(accountID string) bool {
	for i := range s.Participants {
		if s.Participants[i].ID == accountID {
			return true
		}
	}
	return false
}

// ParticipantByID returns the roster entry for the account, or nil
func (s *Session) ParticipantByID(accountID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == accountID {
			return &s.Participants[i]
		}
	}
	return nil
}

// CanJoin reports whether the account may bind a connection to this session.
// FUNCTIONAL DISCOVERY: owner-or-participant is the only authorization rule
// the engine enforces; everything else is the auth collaborator's problem.
func (s *Session) CanJoin(accountID string) bool {
	return s.OwnerID == accountID || s.HasParticipant(accountID)
}

// IsInvited reports whether the account holds a non-expired invitation
func (s *Session) IsInvited(accountID string, now time.Time) bool {
	for i := range s.Invitations {
		inv := &s.Invitations[i]
		if inv.Invited != accountID {
			continue
		}
		if inv.Expires != nil && inv.Expires.Before(now) {
			continue
		}
		return true
	}
	return false
}

// Account is a registered user record; the password hash never serializes
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExerciseMeta is one entry of the exercise metadata catalog
type ExerciseMeta struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Type ExerciseType `json:"type"`
}
