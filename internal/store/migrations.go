package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
//
// The messages table carries two timestamp columns, ts and created_at.
// Records written before the field convention was unified populate one or
// the other; new writes always populate ts. Range queries OR across both.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				session_id         TEXT PRIMARY KEY,
				account_id         TEXT NOT NULL DEFAULT '',
				state              TEXT NOT NULL,
				last_error         TEXT,
				retry_count        INTEGER NOT NULL DEFAULT 0,
				last_transition_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id  TEXT NOT NULL,
				session_id  TEXT NOT NULL,
				chat_id     TEXT NOT NULL,
				is_group    INTEGER NOT NULL DEFAULT 0,
				group_id    TEXT NOT NULL DEFAULT '',
				group_name  TEXT NOT NULL DEFAULT '',
				sender_id   TEXT NOT NULL DEFAULT '',
				direction   TEXT NOT NULL,
				body        TEXT NOT NULL,
				body_hash   TEXT NOT NULL,
				ts          TEXT,
				created_at  TEXT,
				ingested_at TEXT NOT NULL DEFAULT (datetime('now')),
				vintage     TEXT NOT NULL DEFAULT 'live'
			);

			CREATE UNIQUE INDEX idx_messages_session_msg ON messages (session_id, message_id);
			CREATE INDEX idx_messages_chat_ts ON messages (chat_id, ts);
			CREATE INDEX idx_messages_chat_created ON messages (chat_id, created_at);
			CREATE INDEX idx_messages_dedup ON messages (chat_id, sender_id, body_hash);
		`,
	},
	{
		Version: 2,
		Name:    "create monitor rules and match ledger",
		SQL: `
			CREATE TABLE monitor_rules (
				rule_id        TEXT PRIMARY KEY,
				owner_id       TEXT NOT NULL,
				group_id       TEXT NOT NULL DEFAULT '',
				group_name     TEXT NOT NULL DEFAULT '',
				keywords       TEXT NOT NULL DEFAULT '[]',
				is_active      INTEGER NOT NULL DEFAULT 1,
				total_messages INTEGER NOT NULL DEFAULT 0,
				last_activity  TEXT
			);

			CREATE INDEX idx_rules_owner ON monitor_rules (owner_id);

			CREATE TABLE monitor_matches (
				rule_id    TEXT NOT NULL,
				message_id TEXT NOT NULL,
				matched_at TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (rule_id, message_id)
			);
		`,
	},
}
