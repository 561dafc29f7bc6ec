package service

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"

	"readsync/server/common/infra/object"
	"readsync/server/sessiond/domain"
)

type archiveStore interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	ListMembers(ctx context.Context, sessionID string) ([]domain.Member, error)
}

type archiveAnnotations interface {
	ListAll(ctx context.Context, sessionID string) ([]domain.SessionAnnotation, error)
}

type archiveLogs interface {
	ListSince(ctx context.Context, sessionID string, sinceID int64) ([]domain.EventLogEntry, error)
}

// ArchiveService snapshots an ending session (annotations, members, event
// log) into one JSON object in the archive bucket. Deletion proceeds even if
// archiving fails; the snapshot is history, not a dependency.
type ArchiveService struct {
	client      *minio.Client
	bucket      string
	sessions    archiveStore
	annotations archiveAnnotations
	logs        archiveLogs
}

func NewArchiveService(client *minio.Client, bucket string, sessions archiveStore, annotations archiveAnnotations, logs archiveLogs) *ArchiveService {
	return &ArchiveService{client: client, bucket: bucket, sessions: sessions, annotations: annotations, logs: logs}
}

type sessionArchive struct {
	Session     domain.Session             `json:"session"`
	Members     []domain.Member            `json:"members"`
	Annotations []domain.SessionAnnotation `json:"annotations"`
	Log         []domain.EventLogEntry     `json:"log"`
	ArchivedAt  time.Time                  `json:"archived_at"`
}

func (s *ArchiveService) Archive(ctx context.Context, sessionID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	members, err := s.sessions.ListMembers(ctx, sessionID)
	if err != nil {
		return err
	}
	annotations, err := s.annotations.ListAll(ctx, sessionID)
	if err != nil {
		return err
	}
	entries, err := s.logs.ListSince(ctx, sessionID, 0)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("archives/%s.json", sessionID)
	return object.PutJSON(ctx, s.client, s.bucket, key, sessionArchive{
		Session:     session,
		Members:     members,
		Annotations: annotations,
		Log:         entries,
		ArchivedAt:  time.Now().UTC(),
	})
}
