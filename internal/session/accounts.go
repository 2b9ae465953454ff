package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// AccountRepository implements interfaces.AccountRepository over the
// accounts table
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// CreateAccount inserts a new account; a taken name surfaces as
// ErrAccountExists via the unique constraint
func (r *AccountRepository) CreateAccount(ctx context.Context, name, passwordHash string) (*types.Account, error) {
	account := &types.Account{
		ID:           uuid.New().String(),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		account.ID, account.Name, account.PasswordHash, account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, interfaces.ErrAccountExists
		}
		return nil, fmt.Errorf("inserting account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, accountID string) (*types.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx,
		`SELECT id, name, password_hash, created_at FROM accounts WHERE id = $1`, accountID))
}

func (r *AccountRepository) GetAccountByName(ctx context.Context, name string) (*types.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx,
		`SELECT id, name, password_hash, created_at FROM accounts WHERE name = $1`, name))
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	err := row.Scan(&a.ID, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &a, nil
}
