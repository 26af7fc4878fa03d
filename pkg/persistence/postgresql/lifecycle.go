package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// LifecycleRepository stores lifecycle state as JSONB rows.
type LifecycleRepository struct {
	db *sql.DB
}

func (r *LifecycleRepository) Save(ctx context.Context, state *models.LifecycleState) error {
	document, err := json.Marshal(state)
	if err != nil {
		return persistence.NewStoreError("Save", "lifecycle", state.ID, fmt.Errorf("failed to marshal state: %w", err))
	}

	query := `
		INSERT INTO lifecycles (id, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query, state.ID, string(state.Status), document, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "lifecycle", state.ID, err)
	}

	return nil
}

func (r *LifecycleRepository) GetByID(ctx context.Context, id string) (*models.LifecycleState, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT state FROM lifecycles WHERE id = $1", id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "lifecycle", id, persistence.ErrLifecycleNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "lifecycle", id, err)
	}

	var state models.LifecycleState

	err = json.Unmarshal(document, &state)
	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "lifecycle", id, fmt.Errorf("failed to unmarshal state: %w", err))
	}

	return &state, nil
}

func (r *LifecycleRepository) List(ctx context.Context) ([]*models.LifecycleState, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT state FROM lifecycles ORDER BY created_at ASC")
	if err != nil {
		return nil, persistence.NewStoreError("List", "lifecycle", "", err)
	}
	defer func() { _ = rows.Close() }()

	states := make([]*models.LifecycleState, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, persistence.NewStoreError("List", "lifecycle", "", err)
		}

		var state models.LifecycleState
		if err := json.Unmarshal(document, &state); err != nil {
			return nil, persistence.NewStoreError("List", "lifecycle", "", fmt.Errorf("failed to unmarshal state: %w", err))
		}

		states = append(states, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("List", "lifecycle", "", err)
	}

	return states, nil
}
