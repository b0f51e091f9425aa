package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. Each one is applied
// exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: chats, registered_groups, messages",
		SQL: `
		CREATE TABLE IF NOT EXISTS chats (
			jid               TEXT PRIMARY KEY,
			name              TEXT NOT NULL DEFAULT '',
			last_message_time TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chats_last ON chats(last_message_time);

		CREATE TABLE IF NOT EXISTS registered_groups (
			jid             TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			folder          TEXT NOT NULL UNIQUE,
			trigger_pattern TEXT NOT NULL DEFAULT '',
			added_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT NOT NULL,
			chat_jid    TEXT NOT NULL,
			sender      TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			timestamp   TEXT NOT NULL,
			is_from_me  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (id, chat_jid)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_jid, timestamp);
		`,
	},
	{
		Version:     2,
		Description: "token_usage ledger",
		SQL: `
		CREATE TABLE IF NOT EXISTS token_usage (
			id                 TEXT PRIMARY KEY,
			timestamp          TEXT NOT NULL,
			group_folder       TEXT NOT NULL,
			chat_jid           TEXT NOT NULL,
			model              TEXT NOT NULL,
			input_tokens       INTEGER NOT NULL,
			output_tokens      INTEGER NOT NULL,
			cache_write_tokens INTEGER DEFAULT 0,
			cache_read_tokens  INTEGER DEFAULT 0,
			input_cost         REAL NOT NULL,
			output_cost        REAL NOT NULL,
			cache_write_cost   REAL DEFAULT 0,
			cache_read_cost    REAL DEFAULT 0,
			total_cost         REAL NOT NULL,
			message_id         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_token_usage_timestamp ON token_usage(timestamp);
		CREATE INDEX IF NOT EXISTS idx_token_usage_group ON token_usage(group_folder);
		CREATE INDEX IF NOT EXISTS idx_token_usage_chat ON token_usage(chat_jid);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
