package migrations

// Schema statements are embedded so the binary and tests never depend on a
// scripts directory being present at runtime.

const initialSchema = `
CREATE TABLE IF NOT EXISTS scheduled_messages (
    id TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL,
    body TEXT NOT NULL,
    sender_type TEXT NOT NULL DEFAULT 'user',
    created_by TEXT NOT NULL,
    workspace_token TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    post_at DATETIME NOT NULL,
    next_attempt_at DATETIME,
    attempt_count INTEGER NOT NULL DEFAULT 0,
    external_id TEXT,
    last_error TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON scheduled_messages(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_status_post_at ON scheduled_messages(status, post_at);
`

// GetInitialSchema returns the schema applied on startup.
func GetInitialSchema() string {
	return initialSchema
}
