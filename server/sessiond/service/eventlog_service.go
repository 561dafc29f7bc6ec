package service

import (
	"context"
	"errors"
	"strings"
	"time"

	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
	"readsync/server/sessiond/repository"
)

type logStore interface {
	Append(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error)
	ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.EventLogEntry, error)
	ListSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.EventLogEntry, error)
	AppendChat(ctx context.Context, message domain.ChatMessage) (domain.ChatMessage, error)
	ListChatPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ChatMessage, error)
	ChatSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.ChatMessage, error)
	DeleteChat(ctx context.Context, sessionID string, messageID int64, userID string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// EventLogService is the append-only session event record plus chat. Writes
// are mirrored to the event publisher; a publish failure never fails the
// append.
type EventLogService struct {
	store     logStore
	publisher eventPublisher
}

func NewEventLogService(store logStore, publisher eventPublisher) *EventLogService {
	return &EventLogService{store: store, publisher: publisher}
}

func (s *EventLogService) Append(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	if strings.TrimSpace(entry.SessionID) == "" || entry.Type == "" {
		return domain.EventLogEntry{}, errors.New("session_id and type are required")
	}
	appended, err := s.store.Append(ctx, entry)
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	s.publishAsync(appended)
	return appended, nil
}

// AppendAsync records an event without making the caller wait or fail;
// membership changes use it so logging can never block the primary action.
func (s *EventLogService) AppendAsync(sessionID, userID string, eventType domain.EventType, detail map[string]any) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				commonlog.Exceptionf("event log append panicked session=%s: %v", sessionID, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.Append(ctx, domain.EventLogEntry{
			SessionID: sessionID,
			UserID:    userID,
			Type:      eventType,
			Detail:    detail,
		})
		if err != nil {
			commonlog.Warnf("event log append session=%s type=%s: %v", sessionID, eventType, err)
		}
	}()
}

func (s *EventLogService) publishAsync(entry domain.EventLogEntry) {
	if s.publisher == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				commonlog.Exceptionf("event publish panicked session=%s: %v", entry.SessionID, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		routingKey := entry.SessionID + "." + string(entry.Type)
		if err := s.publisher.Publish(ctx, routingKey, entry); err != nil {
			commonlog.Warnf("publish session event session=%s type=%s: %v", entry.SessionID, entry.Type, err)
		}
	}()
}

func (s *EventLogService) ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.EventLogEntry, error) {
	return s.store.ListPage(ctx, sessionID, page, pageSize)
}

func (s *EventLogService) ListSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.EventLogEntry, error) {
	return s.store.ListSince(ctx, sessionID, sinceID)
}

func (s *EventLogService) SendChat(ctx context.Context, message domain.ChatMessage) (domain.ChatMessage, error) {
	message.Body = strings.TrimSpace(message.Body)
	if message.Body == "" {
		return domain.ChatMessage{}, errors.New("body is required")
	}
	return s.store.AppendChat(ctx, message)
}

func (s *EventLogService) ListChatPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ChatMessage, error) {
	return s.store.ListChatPage(ctx, sessionID, page, pageSize)
}

func (s *EventLogService) ChatSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.ChatMessage, error) {
	return s.store.ChatSince(ctx, sessionID, sinceID)
}

func (s *EventLogService) DeleteChat(ctx context.Context, sessionID string, messageID int64, userID string) error {
	err := s.store.DeleteChat(ctx, sessionID, messageID, userID)
	if errors.Is(err, repository.ErrNoRow) {
		return ErrChatNotFound
	}
	return err
}
