package file

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// DeploymentRepository stores deployment records as one JSON file per record,
// pruning each logical id's history down to historyCap on save.
type DeploymentRepository struct {
	dir        string
	mu         *sync.RWMutex
	historyCap int
}

func (r *DeploymentRepository) Save(_ context.Context, record *models.DeploymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, record.ID, record); err != nil {
		return persistence.NewStoreError("Save", "deployment", record.ID, err)
	}

	history, err := r.loadByLogicalID(record.LogicalID)
	if err != nil {
		return persistence.NewStoreError("Save", "deployment", record.ID, err)
	}

	for _, stale := range history[min(r.historyCap, len(history)):] {
		if err := os.Remove(documentPath(r.dir, stale.ID)); err != nil && !os.IsNotExist(err) {
			return persistence.NewStoreError("Save", "deployment", stale.ID, err)
		}
	}

	return nil
}

func (r *DeploymentRepository) GetByID(_ context.Context, id string) (*models.DeploymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var record models.DeploymentRecord

	err := readDocument(r.dir, id, &record)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", "deployment", id, persistence.ErrDeploymentNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "deployment", id, err)
	}

	return &record, nil
}

func (r *DeploymentRepository) ListByLogicalID(_ context.Context, logicalID string) ([]*models.DeploymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records, err := r.loadByLogicalID(logicalID)
	if err != nil {
		return nil, persistence.NewStoreError("ListByLogicalID", "deployment", logicalID, err)
	}

	return records, nil
}

func (r *DeploymentRepository) ListUnfinished(_ context.Context) ([]*models.DeploymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, persistence.NewStoreError("ListUnfinished", "deployment", "", err)
	}

	unfinished := make([]*models.DeploymentRecord, 0)

	for _, record := range all {
		if !record.Status.Terminal() {
			unfinished = append(unfinished, record)
		}
	}

	return unfinished, nil
}

// loadByLogicalID returns one logical id's records, newest first. Callers
// hold at least the read lock.
func (r *DeploymentRepository) loadByLogicalID(logicalID string) ([]*models.DeploymentRecord, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	records := make([]*models.DeploymentRecord, 0)

	for _, record := range all {
		if record.LogicalID == logicalID {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

func (r *DeploymentRepository) loadAll() ([]*models.DeploymentRecord, error) {
	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, err
	}

	records := make([]*models.DeploymentRecord, 0, len(ids))

	for _, id := range ids {
		var record models.DeploymentRecord
		if err := readDocument(r.dir, id, &record); err != nil {
			return nil, err
		}

		records = append(records, &record)
	}

	return records, nil
}
