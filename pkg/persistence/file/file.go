// Package file provides file-based persistence backed by JSON documents on disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flowmend/flowmend/pkg/persistence"
)

const defaultHistoryCap = 20

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	artifactRepo   *ArtifactRepository
	deploymentRepo *DeploymentRepository
	lifecycleRepo  *LifecycleRepository
	executionRepo  *ExecutionRepository
}

// NewPersistence creates file persistence rooted at the given directory.
// historyCap bounds the deployment records kept per logical id; zero or less
// uses the default.
func NewPersistence(root string, historyCap int) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}

	mu := &sync.RWMutex{}

	return &Persistence{
		root:           cleanRoot,
		artifactRepo:   &ArtifactRepository{dir: filepath.Join(cleanRoot, "artifacts"), mu: mu},
		deploymentRepo: &DeploymentRepository{dir: filepath.Join(cleanRoot, "deployments"), mu: mu, historyCap: historyCap},
		lifecycleRepo:  &LifecycleRepository{dir: filepath.Join(cleanRoot, "lifecycles"), mu: mu},
		executionRepo:  &ExecutionRepository{dir: filepath.Join(cleanRoot, "executions"), mu: mu},
	}
}

func (fp *Persistence) Artifacts() persistence.ArtifactRepository {
	return fp.artifactRepo
}

func (fp *Persistence) Deployments() persistence.DeploymentRepository {
	return fp.deploymentRepo
}

func (fp *Persistence) Lifecycles() persistence.LifecycleRepository {
	return fp.lifecycleRepo
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return fp.executionRepo
}

// HealthCheck verifies the root directory exists, creating it when missing.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0o755); err != nil {
		return fmt.Errorf("failed to ensure persistence root: %w", err)
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// writeDocument marshals v and writes it under dir/<id>.json, creating the
// directory as needed. Callers hold the write lock.
func writeDocument(dir, id string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", id, err)
	}

	if err := os.WriteFile(documentPath(dir, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", id, err)
	}

	return nil
}

// readDocument unmarshals dir/<id>.json into v. A missing file is reported
// as os.ErrNotExist. Callers hold at least the read lock.
func readDocument(dir, id string, v any) error {
	data, err := os.ReadFile(documentPath(dir, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", id, err)
	}

	return nil
}

func documentPath(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

// listDocumentIDs returns the ids of all documents in dir. A missing
// directory is an empty result.
func listDocumentIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list directory %s: %w", dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}
