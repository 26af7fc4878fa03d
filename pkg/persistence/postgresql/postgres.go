// Package postgresql provides PostgreSQL persistence for artifacts,
// deployments, lifecycle state and execution history.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/flowmend/flowmend/pkg/persistence"
	"github.com/flowmend/flowmend/pkg/persistence/sqlbase"
)

const defaultHistoryCap = 20

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	artifactRepo   *ArtifactRepository
	deploymentRepo *DeploymentRepository
	lifecycleRepo  *LifecycleRepository
	executionRepo  *ExecutionRepository
}

// NewPersistence connects, runs migrations and returns the persistence layer.
// historyCap bounds the deployment records kept per logical id; zero or less
// uses the default.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, historyCap int) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		artifactRepo:   &ArtifactRepository{db: database},
		deploymentRepo: &DeploymentRepository{db: database, historyCap: historyCap},
		lifecycleRepo:  &LifecycleRepository{db: database},
		executionRepo:  &ExecutionRepository{db: database},
	}, nil
}

func (p *Persistence) Artifacts() persistence.ArtifactRepository {
	return p.artifactRepo
}

func (p *Persistence) Deployments() persistence.DeploymentRepository {
	return p.deploymentRepo
}

func (p *Persistence) Lifecycles() persistence.LifecycleRepository {
	return p.lifecycleRepo
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
