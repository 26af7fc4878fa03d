package file

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// ExecutionRepository stores each lifecycle's execution history as one JSON
// array file, appended in place.
type ExecutionRepository struct {
	dir string
	mu  *sync.RWMutex
}

func (r *ExecutionRepository) Append(_ context.Context, record *models.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(record.LifecycleID)
	if err != nil {
		return persistence.NewStoreError("Append", "execution", record.ID, err)
	}

	records = append(records, record)

	if err := writeDocument(r.dir, record.LifecycleID, records); err != nil {
		return persistence.NewStoreError("Append", "execution", record.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ListByLifecycle(_ context.Context, lifecycleID string, limit int) ([]*models.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records, err := r.load(lifecycleID)
	if err != nil {
		return nil, persistence.NewStoreError("ListByLifecycle", "execution", lifecycleID, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (r *ExecutionRepository) load(lifecycleID string) ([]*models.ExecutionRecord, error) {
	var records []*models.ExecutionRecord

	err := readDocument(r.dir, lifecycleID, &records)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	return records, nil
}
