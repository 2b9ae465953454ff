package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// PostgresRepository is the durable half of the state store; items persist
// as one JSONB document per (session, account) row
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetState(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error) {
	var items []byte
	st := &types.ParticipantState{SessionID: sessionID, AccountID: accountID}
	err := r.pool.QueryRow(ctx,
		`SELECT version, items FROM participant_states WHERE session_id = $1 AND account_id = $2`,
		sessionID, accountID).Scan(&st.Version, &items)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %s/%s: %w", sessionID, accountID, err)
	}
	if err := json.Unmarshal(items, &st.Items); err != nil {
		return nil, fmt.Errorf("decoding state items: %w", err)
	}
	return st, nil
}

func (r *PostgresRepository) UpsertState(ctx context.Context, st *types.ParticipantState) error {
	items, err := json.Marshal(st.Items)
	if err != nil {
		return fmt.Errorf("encoding state items: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO participant_states (session_id, account_id, version, items, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (session_id, account_id)
		 DO UPDATE SET version = EXCLUDED.version, items = EXCLUDED.items, updated_at = now()`,
		st.SessionID, st.AccountID, st.Version, items)
	if err != nil {
		return fmt.Errorf("upserting state %s/%s: %w", st.SessionID, st.AccountID, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteState(ctx context.Context, sessionID, accountID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM participant_states WHERE session_id = $1 AND account_id = $2`,
		sessionID, accountID)
	if err != nil {
		return fmt.Errorf("deleting state %s/%s: %w", sessionID, accountID, err)
	}
	return nil
}
