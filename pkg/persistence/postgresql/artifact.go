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

// ArtifactRepository stores artifact documents as JSONB rows.
type ArtifactRepository struct {
	db *sql.DB
}

func (r *ArtifactRepository) Save(ctx context.Context, id string, artifact *models.Artifact) error {
	document, err := json.Marshal(artifact)
	if err != nil {
		return persistence.NewStoreError("Save", "artifact", id, fmt.Errorf("failed to marshal artifact: %w", err))
	}

	query := `
		INSERT INTO artifacts (id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, id, document)
	if err != nil {
		return persistence.NewStoreError("Save", "artifact", id, err)
	}

	return nil
}

func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*models.Artifact, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM artifacts WHERE id = $1", id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "artifact", id, persistence.ErrArtifactNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "artifact", id, err)
	}

	var artifact models.Artifact

	err = json.Unmarshal(document, &artifact)
	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "artifact", id, fmt.Errorf("failed to unmarshal artifact: %w", err))
	}

	return &artifact, nil
}

func (r *ArtifactRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM artifacts ORDER BY updated_at DESC")
	if err != nil {
		return nil, persistence.NewStoreError("List", "artifact", "", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistence.NewStoreError("List", "artifact", "", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("List", "artifact", "", err)
	}

	return ids, nil
}

func (r *ArtifactRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM artifacts WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("Delete", "artifact", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("Delete", "artifact", id, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Delete", "artifact", id, persistence.ErrArtifactNotFound)
	}

	return nil
}
