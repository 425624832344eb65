package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS deposits (
	id TEXT PRIMARY KEY,
	status SMALLINT NOT NULL,
	last_activity_at BIGINT NOT NULL,
	record JSONB NOT NULL,

	CONSTRAINT status_range CHECK (status >= 0 AND status <= 2),
	CONSTRAINT id_decimal CHECK (id ~ '^[0-9]+$')
);

CREATE INDEX IF NOT EXISTS deposits_status_idx ON deposits (status);
`
