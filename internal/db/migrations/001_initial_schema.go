package migrations

import "fmt"

// initialSchema creates the snapshot and route aggregate tables.
// %[1]s is the dialect's auto-increment primary key column type.
const initialSchema = `
		-- One row per observation of a flight
		CREATE TABLE IF NOT EXISTS flight_records (
			id %[1]s,
			flight_number TEXT NOT NULL,
			airline TEXT NOT NULL,
			flight_status TEXT NOT NULL DEFAULT '',
			departure_airport TEXT NOT NULL,
			departure_city TEXT NOT NULL,
			arrival_airport TEXT NOT NULL,
			arrival_city TEXT NOT NULL,
			scheduled_departure_time BIGINT NOT NULL DEFAULT 0,
			actual_departure_time BIGINT,
			scheduled_arrival_time BIGINT NOT NULL DEFAULT 0,
			actual_arrival_time BIGINT,
			departure_delay_minutes INTEGER,
			arrival_delay_minutes INTEGER,
			flight_time_minutes INTEGER,
			flight_date TEXT NOT NULL,
			captured_at BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flight_records_flight_number ON flight_records (flight_number, id);
		CREATE INDEX IF NOT EXISTS idx_flight_records_route ON flight_records (departure_airport, arrival_airport);
		CREATE INDEX IF NOT EXISTS idx_flight_records_captured_at ON flight_records (captured_at);

		-- Precomputed per-route statistics
		CREATE TABLE IF NOT EXISTS route_statistics (
			id %[1]s,
			departure_airport TEXT NOT NULL,
			departure_city TEXT NOT NULL,
			arrival_airport TEXT NOT NULL,
			arrival_city TEXT NOT NULL,
			average_flight_time_minutes INTEGER NOT NULL DEFAULT 0,
			flight_count INTEGER NOT NULL DEFAULT 0,
			last_updated BIGINT NOT NULL,
			UNIQUE (departure_airport, arrival_airport)
		);

		CREATE INDEX IF NOT EXISTS idx_route_statistics_flight_count ON route_statistics (flight_count);
	`

const initialSchemaDown = `
		DROP TABLE IF EXISTS route_statistics;
		DROP TABLE IF EXISTS flight_records;
	`

// InitialSchemaSQLite creates the initial schema on SQLite
var InitialSchemaSQLite = &Migration{
	ID:      "001_initial_schema",
	Name:    "001_initial_schema",
	UpSQL:   fmt.Sprintf(initialSchema, "INTEGER PRIMARY KEY AUTOINCREMENT"),
	DownSQL: initialSchemaDown,
}

// InitialSchemaPostgres creates the initial schema on PostgreSQL
var InitialSchemaPostgres = &Migration{
	ID:      "001_initial_schema",
	Name:    "001_initial_schema",
	UpSQL:   fmt.Sprintf(initialSchema, "BIGSERIAL PRIMARY KEY"),
	DownSQL: initialSchemaDown,
}
