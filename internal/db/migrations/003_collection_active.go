package migrations

// CollectionActiveSQLite records whether periodic collection is switched on,
// so it can be resumed after a restart
var CollectionActiveSQLite = &Migration{
	ID:      "003_collection_active",
	Name:    "003_collection_active",
	UpSQL:   `ALTER TABLE collection_state ADD COLUMN collection_active INTEGER NOT NULL DEFAULT 0`,
	DownSQL: `ALTER TABLE collection_state DROP COLUMN collection_active`,
}

// CollectionActivePostgres records whether periodic collection is switched on
var CollectionActivePostgres = &Migration{
	ID:      "003_collection_active",
	Name:    "003_collection_active",
	UpSQL:   `ALTER TABLE collection_state ADD COLUMN IF NOT EXISTS collection_active BOOLEAN NOT NULL DEFAULT FALSE`,
	DownSQL: `ALTER TABLE collection_state DROP COLUMN IF EXISTS collection_active`,
}
