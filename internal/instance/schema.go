package instance

// Schema is the sqlite schema for instance records. Applied on every open;
// statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS instances (
	agent_id TEXT PRIMARY KEY,
	instance_name TEXT NOT NULL,
	state TEXT NOT NULL,
	qr_code TEXT NOT NULL DEFAULT '',
	qr_issued_at TEXT NOT NULL DEFAULT '',
	phone_number TEXT NOT NULL DEFAULT '',
	raw_status TEXT NOT NULL DEFAULT '',
	last_event_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_instances_state ON instances(state);
CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_name ON instances(instance_name);
`
