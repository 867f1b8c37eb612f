package store

// migration represents a single schema migration.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

// dialect holds the driver specific SQL.
type dialect struct {
	name            string
	migrationsTable string
	migrations      []migration
	upsertSnapshot  string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name: DriverSQLite,
		migrationsTable: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)`,
		migrations: []migration{
			{
				Version: 1,
				Name:    "create snapshots",
				Statements: []string{`
					CREATE TABLE snapshots (
						name        TEXT PRIMARY KEY,
						payload     TEXT NOT NULL,
						updated_at  TEXT NOT NULL
					)`,
				},
			},
			{
				Version: 2,
				Name:    "create execution log",
				Statements: []string{`
					CREATE TABLE execution_log (
						id           INTEGER PRIMARY KEY AUTOINCREMENT,
						execution_id TEXT NOT NULL,
						agent_id     TEXT NOT NULL,
						user_id      TEXT NOT NULL DEFAULT '',
						success      INTEGER NOT NULL,
						duration_ms  INTEGER NOT NULL DEFAULT 0,
						cost         REAL NOT NULL DEFAULT 0,
						error        TEXT NOT NULL DEFAULT '',
						created_at   TEXT NOT NULL
					)`,
					`CREATE UNIQUE INDEX idx_execution_log_exec ON execution_log (execution_id)`,
					`CREATE INDEX idx_execution_log_agent ON execution_log (agent_id, id)`,
				},
			},
		},
		upsertSnapshot: `
			INSERT INTO snapshots (name, payload, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
	},
	DriverMySQL: {
		name: DriverMySQL,
		migrationsTable: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INT NOT NULL PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		migrations: []migration{
			{
				Version: 1,
				Name:    "create snapshots",
				Statements: []string{`
					CREATE TABLE snapshots (
						name        VARCHAR(128) NOT NULL PRIMARY KEY,
						payload     LONGTEXT NOT NULL,
						updated_at  DATETIME NOT NULL
					) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				},
			},
			{
				Version: 2,
				Name:    "create execution log",
				Statements: []string{`
					CREATE TABLE execution_log (
						id           BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
						execution_id VARCHAR(64) NOT NULL,
						agent_id     VARCHAR(128) NOT NULL,
						user_id      VARCHAR(128) NOT NULL DEFAULT '',
						success      TINYINT(1) NOT NULL,
						duration_ms  BIGINT NOT NULL DEFAULT 0,
						cost         DOUBLE NOT NULL DEFAULT 0,
						error        TEXT NOT NULL,
						created_at   DATETIME NOT NULL,
						UNIQUE KEY idx_execution_log_exec (execution_id),
						KEY idx_execution_log_agent (agent_id, id)
					) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				},
			},
		},
		upsertSnapshot: `
			INSERT INTO snapshots (name, payload, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
	},
}
