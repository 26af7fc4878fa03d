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

// DeploymentRepository stores deployment records as JSONB rows, pruning each
// logical id's history down to historyCap on save.
type DeploymentRepository struct {
	db         *sql.DB
	historyCap int
}

func (r *DeploymentRepository) Save(ctx context.Context, record *models.DeploymentRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return persistence.NewStoreError("Save", "deployment", record.ID, fmt.Errorf("failed to marshal record: %w", err))
	}

	query := `
		INSERT INTO deployments (id, logical_id, status, record, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, record = EXCLUDED.record
	`

	_, err = r.db.ExecContext(ctx, query, record.ID, record.LogicalID, string(record.Status), document, record.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "deployment", record.ID, err)
	}

	prune := `
		DELETE FROM deployments
		WHERE logical_id = $1
		  AND id NOT IN (
			SELECT id FROM deployments
			WHERE logical_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		  )
	`

	_, err = r.db.ExecContext(ctx, prune, record.LogicalID, r.historyCap)
	if err != nil {
		return persistence.NewStoreError("Save", "deployment", record.ID, err)
	}

	return nil
}

func (r *DeploymentRepository) GetByID(ctx context.Context, id string) (*models.DeploymentRecord, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT record FROM deployments WHERE id = $1", id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "deployment", id, persistence.ErrDeploymentNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "deployment", id, err)
	}

	return unmarshalRecord(document, id)
}

func (r *DeploymentRepository) ListByLogicalID(ctx context.Context, logicalID string) ([]*models.DeploymentRecord, error) {
	query := `
		SELECT record FROM deployments
		WHERE logical_id = $1
		ORDER BY created_at DESC
	`

	return r.queryRecords(ctx, "ListByLogicalID", query, logicalID)
}

func (r *DeploymentRepository) ListUnfinished(ctx context.Context) ([]*models.DeploymentRecord, error) {
	query := `
		SELECT record FROM deployments
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`

	return r.queryRecords(ctx, "ListUnfinished", query)
}

func (r *DeploymentRepository) queryRecords(ctx context.Context, op, query string, args ...any) ([]*models.DeploymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError(op, "deployment", "", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*models.DeploymentRecord, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, persistence.NewStoreError(op, "deployment", "", err)
		}

		record, err := unmarshalRecord(document, "")
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError(op, "deployment", "", err)
	}

	return records, nil
}

func unmarshalRecord(document []byte, id string) (*models.DeploymentRecord, error) {
	var record models.DeploymentRecord

	err := json.Unmarshal(document, &record)
	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "deployment", id, fmt.Errorf("failed to unmarshal record: %w", err))
	}

	return &record, nil
}
