package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// ExecutionRepository stores execution telemetry as append-only JSONB rows.
type ExecutionRepository struct {
	db *sql.DB
}

func (r *ExecutionRepository) Append(ctx context.Context, record *models.ExecutionRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return persistence.NewStoreError("Append", "execution", record.ID, fmt.Errorf("failed to marshal record: %w", err))
	}

	query := `
		INSERT INTO executions (id, lifecycle_id, record, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, record.ID, record.LifecycleID, document, record.StartedAt)
	if err != nil {
		return persistence.NewStoreError("Append", "execution", record.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ListByLifecycle(ctx context.Context, lifecycleID string, limit int) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT record FROM executions
		WHERE lifecycle_id = $1
		ORDER BY started_at DESC
	`

	args := []any{lifecycleID}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("ListByLifecycle", "execution", lifecycleID, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, persistence.NewStoreError("ListByLifecycle", "execution", lifecycleID, err)
		}

		var record models.ExecutionRecord
		if err := json.Unmarshal(document, &record); err != nil {
			return nil, persistence.NewStoreError("ListByLifecycle", "execution", lifecycleID, fmt.Errorf("failed to unmarshal record: %w", err))
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListByLifecycle", "execution", lifecycleID, err)
	}

	return records, nil
}
