package sqlite

// Schema DDL. SQLite is a query cache rebuilt from JSONL on every attach, so
// the schema is created fresh each time.
const (
	createEntities = `CREATE TABLE entities (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    version INTEGER NOT NULL,
    fields TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT
);`

	createEntityHistory = `CREATE TABLE entity_history (
    history_id TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    version INTEGER NOT NULL,
    operation TEXT NOT NULL,
    fields TEXT NOT NULL,
    created_at TEXT NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxEntitiesType    = `CREATE INDEX idx_entities_type ON entities(entity_type, deleted_at, created_at);`
	idxEntityHistoryID = `CREATE INDEX idx_entity_history_id ON entity_history(id, version);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createEntities,
	createEntityHistory,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxEntitiesType,
	idxEntityHistoryID,
}
