package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readsync/server/sessiond/domain"
)

func TestAppendValidatesAndAssignsIDs(t *testing.T) {
	svc := NewEventLogService(&fakeLogStore{}, nil)

	_, err := svc.Append(context.Background(), domain.EventLogEntry{Type: domain.EventUserJoined})
	assert.Error(t, err, "session_id is required")
	_, err = svc.Append(context.Background(), domain.EventLogEntry{SessionID: "sess-1"})
	assert.Error(t, err, "type is required")

	first, err := svc.Append(context.Background(), domain.EventLogEntry{SessionID: "sess-1", UserID: "u1", Type: domain.EventUserJoined})
	require.NoError(t, err)
	second, err := svc.Append(context.Background(), domain.EventLogEntry{SessionID: "sess-1", UserID: "u1", Type: domain.EventUserPageChanged, Detail: map[string]any{"page": 3}})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
	assert.False(t, second.CreatedAt.IsZero())
}

func TestListSinceIsIncremental(t *testing.T) {
	svc := NewEventLogService(&fakeLogStore{}, nil)

	first, err := svc.Append(context.Background(), domain.EventLogEntry{SessionID: "sess-1", UserID: "u1", Type: domain.EventUserJoined})
	require.NoError(t, err)
	_, err = svc.Append(context.Background(), domain.EventLogEntry{SessionID: "sess-2", UserID: "u1", Type: domain.EventUserJoined})
	require.NoError(t, err)
	third, err := svc.Append(context.Background(), domain.EventLogEntry{SessionID: "sess-1", UserID: "u2", Type: domain.EventAnnotationCreated})
	require.NoError(t, err)

	entries, err := svc.ListSince(context.Background(), "sess-1", first.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "other sessions' entries are excluded")
	assert.Equal(t, third.ID, entries[0].ID)
}

func TestSendChatTrimsBody(t *testing.T) {
	svc := NewEventLogService(&fakeLogStore{}, nil)

	_, err := svc.SendChat(context.Background(), domain.ChatMessage{SessionID: "sess-1", UserID: "u1", Body: "   "})
	assert.Error(t, err)

	message, err := svc.SendChat(context.Background(), domain.ChatMessage{SessionID: "sess-1", UserID: "u1", Body: "  page 12 is wild  "})
	require.NoError(t, err)
	assert.Equal(t, "page 12 is wild", message.Body)
}

func TestDeleteChatIsAuthorOnly(t *testing.T) {
	svc := NewEventLogService(&fakeLogStore{}, nil)

	message, err := svc.SendChat(context.Background(), domain.ChatMessage{SessionID: "sess-1", UserID: "u1", Body: "hello"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteChat(context.Background(), "sess-1", message.ID, "u2"), ErrChatNotFound)
	require.NoError(t, svc.DeleteChat(context.Background(), "sess-1", message.ID, "u1"))
	assert.ErrorIs(t, svc.DeleteChat(context.Background(), "sess-1", message.ID, "u1"), ErrChatNotFound)
}
