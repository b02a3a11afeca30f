package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				execution_order JSONB NOT NULL DEFAULT '[]',
				version INTEGER NOT NULL DEFAULT 1,
				is_published BOOLEAN NOT NULL DEFAULT false,
				published_at TIMESTAMP WITH TIME ZONE,
				retry_config JSONB,
				notify_on_failure BOOLEAN NOT NULL DEFAULT false,
				notify_recipients JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_workspace ON workflow_definitions(workspace_id);
			CREATE INDEX idx_workflow_definitions_published ON workflow_definitions(workspace_id) WHERE is_published;

			CREATE TABLE workflow_versions (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (definition_id, version)
			);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				definition_id VARCHAR(255) NOT NULL,
				definition_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'completed', 'failed', 'cancelled')),
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				next_node_id VARCHAR(255) NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				trigger_data JSONB NOT NULL DEFAULT '{}',
				resume_at TIMESTAMP WITH TIME ZONE,
				wait_event_type VARCHAR(255) NOT NULL DEFAULT '',
				wait_timeout_at TIMESTAMP WITH TIME ZONE,
				next_run_at TIMESTAMP WITH TIME ZONE,
				error TEXT NOT NULL DEFAULT '',
				error_node_id VARCHAR(255) NOT NULL DEFAULT '',
				branches JSONB NOT NULL DEFAULT '[]',
				sequence INTEGER NOT NULL DEFAULT 0,
				replay_of VARCHAR(255) NOT NULL DEFAULT '',
				revision BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workspace ON workflow_executions(workspace_id, created_at DESC);
			CREATE INDEX idx_workflow_executions_next_run ON workflow_executions(next_run_at) WHERE status IN ('pending', 'running');
			CREATE INDEX idx_workflow_executions_resume ON workflow_executions(resume_at) WHERE status = 'paused';

			CREATE TABLE workflow_execution_steps (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				branch_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input_data JSONB,
				output_data JSONB,
				condition_result BOOLEAN,
				selected_branch VARCHAR(255) NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				error TEXT NOT NULL DEFAULT '',
				duration_ns BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, node_id, branch_id)
			);

			CREATE TABLE workflow_event_subscriptions (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				event_filter JSONB,
				timeout_at TIMESTAMP WITH TIME ZONE,
				is_active BOOLEAN NOT NULL DEFAULT true,
				matched_at TIMESTAMP WITH TIME ZONE,
				matched_event_data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_event_subscriptions_event ON workflow_event_subscriptions(workspace_id, event_type) WHERE is_active;
			CREATE INDEX idx_workflow_event_subscriptions_timeout ON workflow_event_subscriptions(timeout_at) WHERE is_active;

			CREATE TABLE workflow_dead_letters (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL UNIQUE,
				definition_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL DEFAULT '',
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL DEFAULT '',
				branch_id VARCHAR(255) NOT NULL DEFAULT '',
				error_type VARCHAR(50) NOT NULL,
				error_message TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				input_data JSONB,
				execution_context JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'resolved', 'ignored')),
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolved_by VARCHAR(255) NOT NULL DEFAULT '',
				resolution_notes TEXT NOT NULL DEFAULT '',
				replay_execution_id VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_dead_letters_workspace ON workflow_dead_letters(workspace_id, status);
		`,
	}
}
