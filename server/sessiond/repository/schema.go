package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id       TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		avatar_url    TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reading_sessions (
		session_id       TEXT PRIMARY KEY,
		document_id      TEXT NOT NULL,
		title            TEXT NOT NULL,
		visibility       TEXT NOT NULL DEFAULT 'private',
		invite_code      TEXT NOT NULL UNIQUE,
		creator_id       TEXT NOT NULL,
		max_participants INT NOT NULL DEFAULT 10,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		settings         JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at         TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS session_members (
		member_id    TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES reading_sessions(session_id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		role         TEXT NOT NULL DEFAULT 'participant',
		joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		current_page INT NOT NULL DEFAULT 0,
		online       BOOLEAN NOT NULL DEFAULT TRUE,
		name         TEXT NOT NULL DEFAULT '',
		email        TEXT NOT NULL DEFAULT '',
		avatar_url   TEXT NOT NULL DEFAULT '',
		UNIQUE (session_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS session_annotations (
		annotation_id TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES reading_sessions(session_id) ON DELETE CASCADE,
		user_id       TEXT NOT NULL,
		document_id   TEXT NOT NULL,
		payload       JSONB NOT NULL,
		payload_key   TEXT NOT NULL,
		page_number   INT NOT NULL DEFAULT 0,
		visibility    TEXT NOT NULL DEFAULT 'public',
		hide_author   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, user_id, payload_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_annotations_created
		ON session_annotations (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS session_logs (
		log_id     BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES reading_sessions(session_id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		detail     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS session_chat (
		message_id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES reading_sessions(session_id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, statement := range schemaStatements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
