package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// participantColors is the deterministic palette assigned in join order
var participantColors = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c",
}

// Repository implements interfaces.SessionRepository over the sessions
// table. Participants and invitations live as JSONB documents; the roster
// is small and always read whole.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository on the shared pool
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	var participants, invitations []byte
	err := row.Scan(&s.ID, &s.Name, &s.Status, &s.OwnerID, &participants, &invitations, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if err := json.Unmarshal(participants, &s.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if err := json.Unmarshal(invitations, &s.Invitations); err != nil {
		return nil, fmt.Errorf("decoding invitations: %w", err)
	}
	return &s, nil
}

const sessionColumns = `id, name, status, owner_id, participants, invitations, created_at, updated_at`

func (r *Repository) GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	return r.scanSession(row)
}

// GetActiveSessionByAccount finds the active session the account owns or
// participates in. At most one exists per account.
func (r *Repository) GetActiveSessionByAccount(ctx context.Context, accountID string) (*types.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = 'active'
		   AND (owner_id = $1 OR EXISTS (
		       SELECT 1 FROM jsonb_array_elements(participants) p
		       WHERE p->>'id' = $1))
		 LIMIT 1`, accountID)
	return r.scanSession(row)
}

// CreateSession creates an active session with the owner as its first
// roster member. One active session per owner is enforced here.
func (r *Repository) CreateSession(ctx context.Context, ownerID, name string) (*types.Session, error) {
	existing, err := r.GetActiveSessionByAccount(ctx, ownerID)
	if err == nil && existing != nil {
		return nil, interfaces.ErrActiveSessionExists
	}
	if err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	s := &types.Session{
		ID:      uuid.New().String(),
		Name:    name,
		Status:  types.SessionStatusActive,
		OwnerID: ownerID,
		Participants: []types.Participant{
			{ID: ownerID, Color: participantColors[0]},
		},
		Invitations: []types.Invitation{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	participants, _ := json.Marshal(s.Participants)
	invitations, _ := json.Marshal(s.Invitations)
	_, err = r.pool.Exec(ctx,
		`INSERT INTO sessions (id, name, status, owner_id, participants, invitations, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Name, s.Status, s.OwnerID, participants, invitations, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return s, nil
}

// updateDocuments writes back the roster and invitation documents after a
// read-modify-write
func (r *Repository) updateDocuments(ctx context.Context, s *types.Session) error {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	invitations, err := json.Marshal(s.Invitations)
	if err != nil {
		return fmt.Errorf("encoding invitations: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET participants = $2, invitations = $3, updated_at = now() WHERE id = $1`,
		s.ID, participants, invitations)
	if err != nil {
		return fmt.Errorf("updating session documents: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

// Invite records a pending invitation with a 24h expiry. Re-inviting
// refreshes the existing invitation.
func (r *Repository) Invite(ctx context.Context, sessionID, invitedBy, invited string) error {
	s, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.HasParticipant(invited) {
		return interfaces.ErrAlreadyParticipant
	}

	expires := time.Now().UTC().Add(24 * time.Hour)
	for i := range s.Invitations {
		if s.Invitations[i].Invited == invited {
			s.Invitations[i].InvitedBy = invitedBy
			s.Invitations[i].Expires = &expires
			return r.updateDocuments(ctx, s)
		}
	}
	s.Invitations = append(s.Invitations, types.Invitation{
		InvitedBy: invitedBy,
		Invited:   invited,
		Expires:   &expires,
	})
	return r.updateDocuments(ctx, s)
}

// Uninvite withdraws a pending invitation; unknown invitees are a no-op
func (r *Repository) Uninvite(ctx context.Context, sessionID, accountID string) error {
	s, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	kept := s.Invitations[:0]
	for _, inv := range s.Invitations {
		if inv.Invited != accountID {
			kept = append(kept, inv)
		}
	}
	s.Invitations = kept
	return r.updateDocuments(ctx, s)
}

// AcceptInvite converts a valid invitation into roster membership and
// assigns the participant's color
func (r *Repository) AcceptInvite(ctx context.Context, sessionID, accountID string) (*types.Session, error) {
	s, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.HasParticipant(accountID) {
		return nil, interfaces.ErrAlreadyParticipant
	}
	if !s.IsInvited(accountID, time.Now().UTC()) {
		return nil, interfaces.ErrNotInvited
	}

	color := participantColors[len(s.Participants)%len(participantColors)]
	s.Participants = append(s.Participants, types.Participant{ID: accountID, Color: color})

	kept := s.Invitations[:0]
	for _, inv := range s.Invitations {
		if inv.Invited != accountID {
			kept = append(kept, inv)
		}
	}
	s.Invitations = kept

	if err := r.updateDocuments(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateParticipantCursor stores the participant's focus position
func (r *Repository) UpdateParticipantCursor(ctx context.Context, sessionID, accountID string, cursor *types.Cursor) error {
	s, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	p := s.ParticipantByID(accountID)
	if p == nil {
		return interfaces.ErrParticipantNotFound
	}
	p.Cursor = cursor
	return r.updateDocuments(ctx, s)
}

// CompleteSession transitions the session out of live editing
func (r *Repository) CompleteSession(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`,
		sessionID, types.SessionStatusComplete)
	if err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}
