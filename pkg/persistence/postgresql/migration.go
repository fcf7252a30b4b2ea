package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				trigger_node_id VARCHAR(255) NOT NULL,
				trigger_payload JSONB,
				frontier JSONB,
				error JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);

			CREATE TABLE node_executions (
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input_data JSONB,
				output_data JSONB,
				active_outputs JSONB,
				logs JSONB,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				next_attempt_at TIMESTAMP WITH TIME ZONE,
				error_code VARCHAR(100),
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (execution_id, node_id)
			);

			CREATE TABLE workflow_execution_pauses (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				paused_node_id VARCHAR(255) NOT NULL,
				pause_reason TEXT,
				resume_conditions JSONB,
				status VARCHAR(50) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resumed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_pauses_execution_node ON workflow_execution_pauses(execution_id, paused_node_id);
		`,
		2: `
			CREATE TABLE hil_interactions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				interaction_type VARCHAR(50) NOT NULL,
				channel_type VARCHAR(50) NOT NULL,
				target VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				request_data JSONB,
				response_data JSONB,
				timeout_at TIMESTAMP WITH TIME ZONE NOT NULL,
				warning_sent BOOLEAN NOT NULL DEFAULT FALSE,
				timeout_action VARCHAR(50) NOT NULL,
				default_response JSONB,
				correlation_token VARCHAR(255) NOT NULL,
				delivery_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_hil_interactions_pending ON hil_interactions(status, timeout_at);
			CREATE INDEX idx_hil_interactions_channel_target ON hil_interactions(channel_type, target);

			CREATE TABLE hil_responses (
				id VARCHAR(255) PRIMARY KEY,
				channel VARCHAR(50) NOT NULL,
				sender VARCHAR(255),
				text TEXT,
				raw_payload JSONB,
				matched_interaction_id VARCHAR(255),
				match_method VARCHAR(50) NOT NULL,
				ai_relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
				ai_classification VARCHAR(50) NOT NULL,
				reasoning TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_hil_responses_interaction ON hil_responses(matched_interaction_id);
		`,
		3: `
			CREATE TABLE trigger_index_entries (
				workflow_id VARCHAR(255) NOT NULL,
				index_key VARCHAR(1024) NOT NULL,
				trigger_node_id VARCHAR(255) NOT NULL,
				trigger_subtype VARCHAR(50) NOT NULL,
				trigger_config JSONB,
				deployment_status VARCHAR(50) NOT NULL,
				deployed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, index_key)
			);

			CREATE INDEX idx_trigger_index_lookup ON trigger_index_entries(trigger_subtype, index_key, deployment_status);
		`,
	}
}
