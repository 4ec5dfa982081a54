package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "activation history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS activations (
    id TEXT PRIMARY KEY,
    directory TEXT NOT NULL,
    mode TEXT NOT NULL CHECK(mode IN ('live', 'dry-run')),
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    cycles INTEGER DEFAULT 0,
    counts TEXT NOT NULL DEFAULT '{}',
    report_markdown TEXT NOT NULL DEFAULT '',
    recorded_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_activations_started ON activations(started_at);
CREATE INDEX IF NOT EXISTS idx_activations_directory ON activations(directory);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "per-activation renames",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS activation_renames (
    activation_id TEXT NOT NULL REFERENCES activations(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    from_name TEXT NOT NULL,
    to_name TEXT NOT NULL,
    PRIMARY KEY (activation_id, position)
);

CREATE INDEX IF NOT EXISTS idx_activation_renames_to ON activation_renames(to_name);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
