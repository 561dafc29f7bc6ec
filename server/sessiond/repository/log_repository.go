package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"readsync/server/sessiond/domain"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

func (r *LogRepository) Append(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	if entry.Detail == nil {
		detail = []byte(`{}`)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO session_logs(session_id, user_id, event_type, detail)
		VALUES($1, $2, $3, $4::jsonb)
		RETURNING log_id, created_at
	`, entry.SessionID, entry.UserID, entry.Type, string(detail)).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	return entry, nil
}

const logSelect = `
	SELECT log_id, session_id, user_id, event_type, detail, created_at
	FROM session_logs`

// ListPage returns one page, newest first.
func (r *LogRepository) ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.EventLogEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	rows, err := r.pool.Query(ctx, logSelect+`
		WHERE session_id = $1
		ORDER BY log_id DESC
		LIMIT $2 OFFSET $3
	`, sessionID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogRows(rows)
}

// ListSince returns entries after the given id, oldest first, for
// incremental reads.
func (r *LogRepository) ListSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.EventLogEntry, error) {
	rows, err := r.pool.Query(ctx, logSelect+`
		WHERE session_id = $1 AND log_id > $2
		ORDER BY log_id
	`, sessionID, sinceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogRows(rows)
}

func scanLogRows(rows pgx.Rows) ([]domain.EventLogEntry, error) {
	var entries []domain.EventLogEntry
	for rows.Next() {
		var entry domain.EventLogEntry
		var detailRaw []byte
		err := rows.Scan(&entry.ID, &entry.SessionID, &entry.UserID, &entry.Type, &detailRaw, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(detailRaw) > 0 {
			_ = json.Unmarshal(detailRaw, &entry.Detail)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *LogRepository) AppendChat(ctx context.Context, message domain.ChatMessage) (domain.ChatMessage, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO session_chat(session_id, user_id, name, body)
		VALUES($1, $2, $3, $4)
		RETURNING message_id, created_at
	`, message.SessionID, message.UserID, message.Name, message.Body).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return message, nil
}

const chatSelect = `
	SELECT message_id, session_id, user_id, name, body, created_at
	FROM session_chat`

func (r *LogRepository) ListChatPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ChatMessage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	rows, err := r.pool.Query(ctx, chatSelect+`
		WHERE session_id = $1
		ORDER BY message_id DESC
		LIMIT $2 OFFSET $3
	`, sessionID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChatRows(rows)
}

func (r *LogRepository) ChatSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, chatSelect+`
		WHERE session_id = $1 AND message_id > $2
		ORDER BY message_id
	`, sessionID, sinceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChatRows(rows)
}

func scanChatRows(rows pgx.Rows) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	for rows.Next() {
		var message domain.ChatMessage
		err := rows.Scan(&message.ID, &message.SessionID, &message.UserID, &message.Name, &message.Body, &message.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// DeleteChat removes one message; only its author may delete it.
func (r *LogRepository) DeleteChat(ctx context.Context, sessionID string, messageID int64, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM session_chat
		WHERE session_id = $1 AND message_id = $2 AND user_id = $3
	`, sessionID, messageID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}
