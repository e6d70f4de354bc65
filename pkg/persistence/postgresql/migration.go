package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Leads and their conversation log
			CREATE TABLE leads (
				id UUID PRIMARY KEY,
				phone VARCHAR(32) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				tags JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(64) NOT NULL DEFAULT '',
				stopped_automation BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_leads_status ON leads(status);
			CREATE INDEX idx_leads_stopped_automation ON leads(stopped_automation);

			CREATE TABLE lead_messages (
				id UUID PRIMARY KEY,
				lead_id UUID NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
				content TEXT NOT NULL,
				direction VARCHAR(8) NOT NULL CHECK (direction IN ('in', 'out')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_lead_messages_lead_id ON lead_messages(lead_id);
		`,
		2: `
			-- Workflow graphs
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				owner VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE workflow_nodes (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(32) NOT NULL CHECK (node_type IN ('trigger', 'message', 'delay', 'condition')),
				data JSONB NOT NULL DEFAULT '{}',
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_nodes_type ON workflow_nodes(node_type);

			-- position preserves edge creation order; the default-edge
			-- tie-break depends on it.
			CREATE TABLE workflow_edges (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255) NOT NULL,
				source_handle VARCHAR(16) NOT NULL DEFAULT '',
				position INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_edges_source ON workflow_edges(workflow_id, source_node_id);
		`,
		3: `
			-- Execution instances: the engine's persisted continuations.
			-- Rows are never deleted (audit trail).
			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				lead_id UUID NOT NULL REFERENCES leads(id),
				current_node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'waiting', 'completed', 'failed')),
				next_run_at TIMESTAMP WITH TIME ZONE,
				failure_reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_due ON workflow_executions(status, next_run_at);
		`,
		4: `
			-- Drip campaigns
			CREATE TABLE campaigns (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				target_filter VARCHAR(255) NOT NULL DEFAULT 'ALL',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'running', 'done')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE campaign_steps (
				campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
				step_order INT NOT NULL,
				kind VARCHAR(16) NOT NULL CHECK (kind IN ('whatsapp', 'delay')),
				content TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (campaign_id, step_order)
			);

			CREATE TABLE campaign_audience (
				id UUID PRIMARY KEY,
				campaign_id UUID NOT NULL REFERENCES campaigns(id),
				lead_id UUID NOT NULL REFERENCES leads(id),
				current_step INT NOT NULL DEFAULT 1,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'active', 'waiting', 'completed', 'failed')),
				next_run_at TIMESTAMP WITH TIME ZONE,
				failure_reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (campaign_id, lead_id)
			);

			CREATE INDEX idx_campaign_audience_due ON campaign_audience(status, next_run_at);
		`,
	}
}
