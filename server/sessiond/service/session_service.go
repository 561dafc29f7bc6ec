package service

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
	"readsync/server/sessiond/repository"
)

type sessionStore interface {
	CreateSession(ctx context.Context, session domain.Session, host domain.Member) (domain.Session, domain.Member, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetSessionByInviteCode(ctx context.Context, inviteCode string) (domain.Session, error)
	ListSessions(ctx context.Context, listType, userID string) ([]domain.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	UpsertMember(ctx context.Context, member domain.Member) (domain.Member, error)
	ListMembers(ctx context.Context, sessionID string) ([]domain.Member, error)
	CountMembers(ctx context.Context, sessionID string) (int, error)
	GetMember(ctx context.Context, sessionID, userID string) (domain.Member, error)
	UpdatePresence(ctx context.Context, sessionID, userID string, online bool, pageNumber int) error
}

type presenceTracker interface {
	Touch(ctx context.Context, sessionID, userID string) error
	SetOffline(ctx context.Context, sessionID, userID string) error
	FilterOnline(ctx context.Context, sessionID string, userIDs []string) (map[string]bool, error)
}

type sessionArchiver interface {
	Archive(ctx context.Context, sessionID string) error
}

const defaultMaxParticipants = 10

type SessionService struct {
	store    sessionStore
	presence presenceTracker
	logs     *EventLogService
	archiver sessionArchiver
}

func NewSessionService(store sessionStore, presence presenceTracker, logs *EventLogService, archiver sessionArchiver) *SessionService {
	return &SessionService{store: store, presence: presence, logs: logs, archiver: archiver}
}

// Create makes the session and joins its creator as host in one step.
func (s *SessionService) Create(ctx context.Context, creator domain.User, documentID, title string, visibility domain.Visibility, maxParticipants int) (domain.Session, domain.Member, error) {
	documentID = strings.TrimSpace(documentID)
	title = strings.TrimSpace(title)
	if documentID == "" || title == "" {
		return domain.Session{}, domain.Member{}, errors.New("document_id and title are required")
	}
	if visibility != domain.VisibilityPublic {
		visibility = domain.VisibilityPrivate
	}
	if maxParticipants <= 0 {
		maxParticipants = defaultMaxParticipants
	}

	inviteCode, err := newInviteCode()
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	session := domain.Session{
		ID:              uuid.NewString(),
		DocumentID:      documentID,
		Title:           title,
		Visibility:      visibility,
		InviteCode:      inviteCode,
		CreatorID:       creator.ID,
		MaxParticipants: maxParticipants,
	}
	host := domain.Member{
		ID:        uuid.NewString(),
		UserID:    creator.ID,
		Name:      creator.Name,
		Email:     creator.Email,
		AvatarURL: creator.AvatarURL,
	}

	session, host, err = s.store.CreateSession(ctx, session, host)
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	if err := s.presence.Touch(ctx, session.ID, creator.ID); err != nil {
		commonlog.Warnf("touch presence session=%s user=%s: %v", session.ID, creator.ID, err)
	}
	s.logs.AppendAsync(session.ID, creator.ID, domain.EventUserJoined, map[string]any{"role": string(domain.MemberRoleHost)})
	return session, host, nil
}

// Join admits a user through an invite code. Rejoining an existing member
// is always allowed; capacity only limits first-time joins.
func (s *SessionService) Join(ctx context.Context, user domain.User, inviteCode string) (domain.Session, domain.Member, error) {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if inviteCode == "" {
		return domain.Session{}, domain.Member{}, ErrInvalidInviteCode
	}
	session, err := s.store.GetSessionByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return domain.Session{}, domain.Member{}, ErrInvalidInviteCode
		}
		return domain.Session{}, domain.Member{}, err
	}
	if !session.IsActive {
		return domain.Session{}, domain.Member{}, ErrSessionEnded
	}

	_, err = s.store.GetMember(ctx, session.ID, user.ID)
	rejoining := err == nil
	if err != nil && !errors.Is(err, repository.ErrNoRow) {
		return domain.Session{}, domain.Member{}, err
	}
	if !rejoining && session.MaxParticipants > 0 {
		count, err := s.store.CountMembers(ctx, session.ID)
		if err != nil {
			return domain.Session{}, domain.Member{}, err
		}
		if count >= session.MaxParticipants {
			return domain.Session{}, domain.Member{}, ErrSessionFull
		}
	}

	member, err := s.store.UpsertMember(ctx, domain.Member{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    user.ID,
		Role:      domain.MemberRoleParticipant,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	})
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	if err := s.presence.Touch(ctx, session.ID, user.ID); err != nil {
		commonlog.Warnf("touch presence session=%s user=%s: %v", session.ID, user.ID, err)
	}
	if !rejoining {
		s.logs.AppendAsync(session.ID, user.ID, domain.EventUserJoined, nil)
	}
	return session, member, nil
}

// Delete ends the session. Host only. The session is archived to object
// storage first (best-effort) and then marked inactive; member and log rows
// are retained for history.
func (s *SessionService) Delete(ctx context.Context, sessionID, userID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	member, err := s.store.GetMember(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return ErrHostOnly
		}
		return err
	}
	if member.Role != domain.MemberRoleHost && session.CreatorID != userID {
		return ErrHostOnly
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, sessionID); err != nil {
			commonlog.Warnf("archive session=%s: %v", sessionID, err)
		}
	}
	if err := s.store.EndSession(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return ErrSessionEnded
		}
		return err
	}
	s.logs.AppendAsync(sessionID, userID, domain.EventUserLeft, map[string]any{"reason": "session_deleted"})
	return nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionService) List(ctx context.Context, listType, userID string) ([]domain.Session, error) {
	switch listType {
	case "created", "my", "public", "":
	default:
		return nil, errors.New("type must be one of created|public|my")
	}
	return s.store.ListSessions(ctx, listType, userID)
}

// Members lists the session's members with Online computed from heartbeat
// liveness, never trusted from the stored flag alone.
func (s *SessionService) Members(ctx context.Context, sessionID string) ([]domain.Member, error) {
	members, err := s.store.ListMembers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	userIDs := make([]string, 0, len(members))
	for _, member := range members {
		userIDs = append(userIDs, member.UserID)
	}
	alive, err := s.presence.FilterOnline(ctx, sessionID, userIDs)
	if err != nil {
		commonlog.Warnf("presence lookup session=%s: %v", sessionID, err)
		alive = nil
	}
	now := time.Now()
	for i := range members {
		if alive != nil {
			members[i].Online = members[i].Online && alive[members[i].UserID]
		} else {
			members[i].Online = members[i].Online && now.Sub(members[i].LastSeen) < domain.PresenceFreshness
		}
	}
	return members, nil
}

// UpdatePresence handles heartbeats, page changes and logical leaves
// (online=false). Leaving appends a user_left record.
func (s *SessionService) UpdatePresence(ctx context.Context, sessionID, userID string, online bool, pageNumber int) error {
	if err := s.store.UpdatePresence(ctx, sessionID, userID, online, pageNumber); err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return ErrNotMember
		}
		return err
	}
	if online {
		if err := s.presence.Touch(ctx, sessionID, userID); err != nil {
			commonlog.Warnf("touch presence session=%s user=%s: %v", sessionID, userID, err)
		}
		return nil
	}
	if err := s.presence.SetOffline(ctx, sessionID, userID); err != nil {
		commonlog.Warnf("clear presence session=%s user=%s: %v", sessionID, userID, err)
	}
	s.logs.AppendAsync(sessionID, userID, domain.EventUserLeft, nil)
	return nil
}

const inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newInviteCode() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := make([]byte, len(raw))
	for i, b := range raw {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code), nil
}
