package file

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// LifecycleRepository stores lifecycle state as one JSON file per artifact.
type LifecycleRepository struct {
	dir string
	mu  *sync.RWMutex
}

func (r *LifecycleRepository) Save(_ context.Context, state *models.LifecycleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, state.ID, state); err != nil {
		return persistence.NewStoreError("Save", "lifecycle", state.ID, err)
	}

	return nil
}

func (r *LifecycleRepository) GetByID(_ context.Context, id string) (*models.LifecycleState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var state models.LifecycleState

	err := readDocument(r.dir, id, &state)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", "lifecycle", id, persistence.ErrLifecycleNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "lifecycle", id, err)
	}

	return &state, nil
}

func (r *LifecycleRepository) List(_ context.Context) ([]*models.LifecycleState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, persistence.NewStoreError("List", "lifecycle", "", err)
	}

	states := make([]*models.LifecycleState, 0, len(ids))

	for _, id := range ids {
		var state models.LifecycleState
		if err := readDocument(r.dir, id, &state); err != nil {
			return nil, persistence.NewStoreError("List", "lifecycle", id, err)
		}

		states = append(states, &state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})

	return states, nil
}
