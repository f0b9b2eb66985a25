package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				creator_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				schema_version INTEGER NOT NULL DEFAULT 0,
				revision INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (creator_id, id)
			);

			CREATE INDEX idx_workflows_creator_active ON workflows(creator_id, is_active);
		`,
		2: `
			-- Lets the auto-heal job find stale documents without decoding them.
			CREATE INDEX idx_workflows_schema_version ON workflows(schema_version);
		`,
	}
}
