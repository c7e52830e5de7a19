package migrations

// collectionState adds the collection bookkeeping row and the pipeline counters history
const collectionState = `
		-- Single-row state for the background collection job
		CREATE TABLE IF NOT EXISTS collection_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			collection_count INTEGER NOT NULL DEFAULT 0,
			last_collection_time BIGINT NOT NULL DEFAULT 0,
			route_departure TEXT,
			route_arrival TEXT
		);

		-- Periodic dumps of the pipeline counters
		CREATE TABLE IF NOT EXISTS pipeline_stats (
			time BIGINT NOT NULL,
			api_requests BIGINT NOT NULL,
			api_failures BIGINT NOT NULL,
			flights_not_found BIGINT NOT NULL,
			snapshots_stored BIGINT NOT NULL,
			records_rejected BIGINT NOT NULL,
			store_failures BIGINT NOT NULL,
			collections_succeeded BIGINT NOT NULL,
			collections_skipped BIGINT NOT NULL,
			collections_failed BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pipeline_stats_time ON pipeline_stats (time);
	`

const collectionStateDown = `
		DROP TABLE IF EXISTS pipeline_stats;
		DROP TABLE IF EXISTS collection_state;
	`

// CollectionStateSQLite adds collection bookkeeping on SQLite
var CollectionStateSQLite = &Migration{
	ID:      "002_collection_state",
	Name:    "002_collection_state",
	UpSQL:   collectionState,
	DownSQL: collectionStateDown,
}

// CollectionStatePostgres adds collection bookkeeping on PostgreSQL
var CollectionStatePostgres = &Migration{
	ID:      "002_collection_state",
	Name:    "002_collection_state",
	UpSQL:   collectionState,
	DownSQL: collectionStateDown,
}
