package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	connector_id        TEXT NOT NULL,
	id                  TEXT NOT NULL,
	source              TEXT NOT NULL,
	semantic_identifier TEXT NOT NULL DEFAULT '',
	sections            TEXT NOT NULL DEFAULT '[]',
	primary_owners      TEXT NOT NULL DEFAULT '[]',
	metadata            TEXT NOT NULL DEFAULT '{}',
	doc_updated_at      DATETIME NOT NULL,
	indexed_at          DATETIME NOT NULL,
	PRIMARY KEY (connector_id, id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	connector_id   TEXT PRIMARY KEY,
	polled_through DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	mode         TEXT NOT NULL CHECK(mode IN ('load', 'poll')),
	window_start DATETIME,
	window_end   DATETIME NOT NULL,
	batches      INTEGER NOT NULL DEFAULT 0,
	documents    INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL CHECK(status IN ('succeeded', 'failed')),
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_documents_connector_updated
	ON documents(connector_id, doc_updated_at);

CREATE INDEX IF NOT EXISTS idx_sync_runs_connector_started
	ON sync_runs(connector_id, started_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
