package db

func (db *DB) initSchema() error {
	schema := `
	-- Key/value entries, partitioned by storage scope
	CREATE TABLE IF NOT EXISTS kv (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (scope, key)
	);

	CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv(updated_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}
