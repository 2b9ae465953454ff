package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// ExerciseRepository serves the seeded read-only exercise catalog
type ExerciseRepository struct {
	pool *pgxpool.Pool
}

func NewExerciseRepository(pool *pgxpool.Pool) *ExerciseRepository {
	return &ExerciseRepository{pool: pool}
}

func (r *ExerciseRepository) ListExercises(ctx context.Context) ([]*types.ExerciseMeta, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, type FROM exercises ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing exercises: %w", err)
	}
	defer rows.Close()

	var out []*types.ExerciseMeta
	for rows.Next() {
		var e types.ExerciseMeta
		if err := rows.Scan(&e.ID, &e.Name, &e.Type); err != nil {
			return nil, fmt.Errorf("scanning exercise: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *ExerciseRepository) GetExercise(ctx context.Context, exerciseID string) (*types.ExerciseMeta, error) {
	var e types.ExerciseMeta
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, type FROM exercises WHERE id = $1`, exerciseID).
		Scan(&e.ID, &e.Name, &e.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrExerciseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning exercise: %w", err)
	}
	return &e, nil
}
