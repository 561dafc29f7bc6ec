package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"readsync/server/sessiond/domain"
	"readsync/server/sessiond/repository"
)

type annotationStore interface {
	Upsert(ctx context.Context, annotation domain.SessionAnnotation) (domain.SessionAnnotation, error)
	FindByKey(ctx context.Context, sessionID, key string) (domain.SessionAnnotation, error)
	ListCreatedAfter(ctx context.Context, sessionID string, after time.Time, viewerID string) ([]domain.SessionAnnotation, error)
	DeleteByKey(ctx context.Context, sessionID, userID, key string) error
	DeleteByUser(ctx context.Context, sessionID, userID string) (int64, error)
}

type memberChecker interface {
	GetMember(ctx context.Context, sessionID, userID string) (domain.Member, error)
}

type AnnotationService struct {
	store   annotationStore
	members memberChecker
	logs    *EventLogService
}

func NewAnnotationService(store annotationStore, members memberChecker, logs *EventLogService) *AnnotationService {
	return &AnnotationService{store: store, members: members, logs: logs}
}

// Create stores one session-scoped annotation. Idempotent on the natural
// key: a retry after a timeout returns the already-created row.
func (s *AnnotationService) Create(ctx context.Context, annotation domain.SessionAnnotation) (domain.SessionAnnotation, error) {
	if strings.TrimSpace(annotation.Payload.Key) == "" {
		return domain.SessionAnnotation{}, errors.New("payload key is required")
	}
	if err := s.requireMember(ctx, annotation.SessionID, annotation.UserID); err != nil {
		return domain.SessionAnnotation{}, err
	}
	if annotation.Visibility != domain.VisibilityPrivate {
		annotation.Visibility = domain.VisibilityPublic
	}
	annotation.ID = uuid.NewString()

	created, err := s.store.Upsert(ctx, annotation)
	if err != nil {
		return domain.SessionAnnotation{}, err
	}
	return created, nil
}

func (s *AnnotationService) FindByKey(ctx context.Context, sessionID, key string) (domain.SessionAnnotation, error) {
	annotation, err := s.store.FindByKey(ctx, sessionID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return domain.SessionAnnotation{}, ErrAnnotationNotFound
		}
		return domain.SessionAnnotation{}, err
	}
	return annotation, nil
}

// ListCreatedAfter serves the poll loop: creates newer than the watermark,
// oldest first. Private annotations are filtered to their owner before they
// leave the server.
func (s *AnnotationService) ListCreatedAfter(ctx context.Context, sessionID string, after time.Time, viewerID string) ([]domain.SessionAnnotation, error) {
	return s.store.ListCreatedAfter(ctx, sessionID, after, viewerID)
}

func (s *AnnotationService) DeleteByKey(ctx context.Context, sessionID, userID, key string) error {
	err := s.store.DeleteByKey(ctx, sessionID, userID, key)
	if errors.Is(err, repository.ErrNoRow) {
		return ErrAnnotationNotFound
	}
	if err != nil {
		return err
	}
	s.logs.AppendAsync(sessionID, userID, domain.EventAnnotationDeleted, map[string]any{"key": key})
	return nil
}

// DeleteByUser clears a user's annotations from the session. The user may
// clear their own; the host may clear anyone's.
func (s *AnnotationService) DeleteByUser(ctx context.Context, sessionID, targetUserID, actorUserID string) error {
	if targetUserID != actorUserID {
		member, err := s.members.GetMember(ctx, sessionID, actorUserID)
		if err != nil || member.Role != domain.MemberRoleHost {
			return ErrHostOnly
		}
	}
	deleted, err := s.store.DeleteByUser(ctx, sessionID, targetUserID)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logs.AppendAsync(sessionID, targetUserID, domain.EventAnnotationDeleted, map[string]any{"bulk": deleted})
	}
	return nil
}

func (s *AnnotationService) requireMember(ctx context.Context, sessionID, userID string) error {
	_, err := s.members.GetMember(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return ErrNotMember
		}
		return err
	}
	return nil
}
