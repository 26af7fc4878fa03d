package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE artifacts (
				id VARCHAR(255) PRIMARY KEY,
				document JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE deployments (
				id VARCHAR(255) PRIMARY KEY,
				logical_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'succeeded', 'failed', 'rolled_back')),
				record JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_deployments_logical_id ON deployments(logical_id);
			CREATE INDEX idx_deployments_status ON deployments(status);
			CREATE INDEX idx_deployments_created_at ON deployments(created_at);

			CREATE TABLE lifecycles (
				id VARCHAR(255) PRIMARY KEY,
				status VARCHAR(50) NOT NULL,
				state JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_lifecycles_status ON lifecycles(status);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				lifecycle_id VARCHAR(255) NOT NULL,
				record JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_lifecycle_id ON executions(lifecycle_id);
			CREATE INDEX idx_executions_started_at ON executions(started_at);
		`,
	}
}
