package eventlog

import (
	"context"
	"net/url"
	"strconv"
	"time"

	clientapi "readsync/client/api"
	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
)

const logWriteTimeout = 5 * time.Second

// Client reads and writes the session event log and chat. Writes are
// fire-and-forget: they run detached, recover internally and only log, so a
// logging failure can never interrupt the action it annotates.
type Client struct {
	api *clientapi.Client
}

func NewClient(api *clientapi.Client) *Client {
	return &Client{api: api}
}

// LogEventAsync appends an event record without blocking the caller. The
// caller gets nothing back to await or fail on.
func (c *Client) LogEventAsync(sessionID, userID string, eventType domain.EventType, detail map[string]any) {
	payload := map[string]any{
		"session_id": sessionID,
		"user_id":    userID,
		"type":       eventType,
		"detail":     detail,
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				commonlog.Exceptionf("event log write panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		defer cancel()
		var out map[string]any
		if err := c.api.Post(ctx, clientapi.BasePath+"/logs", payload, &out); err != nil {
			commonlog.Warnf("event log write failed session=%s type=%s: %v", sessionID, eventType, err)
		}
	}()
}

// ListLogs returns one page of the session's event log, newest first.
func (c *Client) ListLogs(ctx context.Context, sessionID string, page, pageSize int) ([]domain.EventLogEntry, error) {
	query := url.Values{"session_id": {sessionID}}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	var out []domain.EventLogEntry
	if err := c.api.Get(ctx, clientapi.BasePath+"/logs", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LogsSince returns entries with an id strictly greater than lastID, oldest
// first, for incremental reads.
func (c *Client) LogsSince(ctx context.Context, sessionID string, lastID int64) ([]domain.EventLogEntry, error) {
	query := url.Values{
		"session_id": {sessionID},
		"since_id":   {strconv.FormatInt(lastID, 10)},
	}
	var out []domain.EventLogEntry
	if err := c.api.Get(ctx, clientapi.BasePath+"/logs", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendChat(ctx context.Context, sessionID, body string) (domain.ChatMessage, error) {
	payload := map[string]any{"session_id": sessionID, "body": body}
	var out domain.ChatMessage
	if err := c.api.Post(ctx, clientapi.BasePath+"/chat", payload, &out); err != nil {
		return domain.ChatMessage{}, err
	}
	return out, nil
}

func (c *Client) ListChat(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ChatMessage, error) {
	query := url.Values{"session_id": {sessionID}}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	var out []domain.ChatMessage
	if err := c.api.Get(ctx, clientapi.BasePath+"/chat", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChatSince(ctx context.Context, sessionID string, lastID int64) ([]domain.ChatMessage, error) {
	query := url.Values{
		"session_id": {sessionID},
		"since_id":   {strconv.FormatInt(lastID, 10)},
	}
	var out []domain.ChatMessage
	if err := c.api.Get(ctx, clientapi.BasePath+"/chat", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteChat(ctx context.Context, sessionID string, messageID int64) error {
	query := url.Values{
		"session_id": {sessionID},
		"message_id": {strconv.FormatInt(messageID, 10)},
	}
	var out map[string]any
	return c.api.Delete(ctx, clientapi.BasePath+"/chat", query, &out)
}
