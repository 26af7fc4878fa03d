package file

import (
	"context"
	"os"
	"sync"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// ArtifactRepository stores artifact documents as one JSON file per logical id.
type ArtifactRepository struct {
	dir string
	mu  *sync.RWMutex
}

func (r *ArtifactRepository) Save(_ context.Context, id string, artifact *models.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, id, artifact); err != nil {
		return persistence.NewStoreError("Save", "artifact", id, err)
	}

	return nil
}

func (r *ArtifactRepository) GetByID(_ context.Context, id string) (*models.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var artifact models.Artifact

	err := readDocument(r.dir, id, &artifact)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", "artifact", id, persistence.ErrArtifactNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "artifact", id, err)
	}

	return &artifact, nil
}

func (r *ArtifactRepository) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, persistence.NewStoreError("List", "artifact", "", err)
	}

	return ids, nil
}

func (r *ArtifactRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(documentPath(r.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("Delete", "artifact", id, persistence.ErrArtifactNotFound)
		}

		return persistence.NewStoreError("Delete", "artifact", id, err)
	}

	return nil
}
