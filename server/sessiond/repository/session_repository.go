package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"readsync/server/sessiond/domain"
)

var ErrNoRow = errors.New("no matching row")

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts the session row and the host membership row in one
// transaction, so a created session always has its host joined.
func (r *SessionRepository) CreateSession(ctx context.Context, session domain.Session, host domain.Member) (domain.Session, domain.Member, error) {
	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	if session.Settings == nil {
		settings = []byte(`{}`)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO reading_sessions(session_id, document_id, title, visibility, invite_code, creator_id, max_participants, settings)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		RETURNING created_at
	`, session.ID, session.DocumentID, session.Title, session.Visibility, session.InviteCode,
		session.CreatorID, session.MaxParticipants, string(settings)).Scan(&session.CreatedAt)
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	session.IsActive = true

	err = tx.QueryRow(ctx, `
		INSERT INTO session_members(member_id, session_id, user_id, role, name, email, avatar_url)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING joined_at, last_seen
	`, host.ID, session.ID, host.UserID, domain.MemberRoleHost, host.Name, host.Email, host.AvatarURL).
		Scan(&host.JoinedAt, &host.LastSeen)
	if err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	host.SessionID = session.ID
	host.Role = domain.MemberRoleHost
	host.Online = true

	if err := tx.Commit(ctx); err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	return session, host, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return r.scanSession(r.pool.QueryRow(ctx, sessionSelect+` WHERE session_id = $1`, sessionID))
}

func (r *SessionRepository) GetSessionByInviteCode(ctx context.Context, inviteCode string) (domain.Session, error) {
	return r.scanSession(r.pool.QueryRow(ctx, sessionSelect+` WHERE invite_code = $1`, inviteCode))
}

const sessionSelect = `
	SELECT session_id, document_id, title, visibility, invite_code, creator_id,
	       max_participants, is_active, settings, created_at, ended_at
	FROM reading_sessions`

func (r *SessionRepository) scanSession(row pgx.Row) (domain.Session, error) {
	var session domain.Session
	var settingsRaw []byte
	err := row.Scan(
		&session.ID,
		&session.DocumentID,
		&session.Title,
		&session.Visibility,
		&session.InviteCode,
		&session.CreatorID,
		&session.MaxParticipants,
		&session.IsActive,
		&settingsRaw,
		&session.CreatedAt,
		&session.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, ErrNoRow
		}
		return domain.Session{}, err
	}
	if len(settingsRaw) > 0 {
		_ = json.Unmarshal(settingsRaw, &session.Settings)
	}
	return session, nil
}

// ListSessions supports the three list filters: created (by the user),
// public (active public sessions), my (sessions the user is a member of).
func (r *SessionRepository) ListSessions(ctx context.Context, listType, userID string) ([]domain.Session, error) {
	var rows pgx.Rows
	var err error
	switch listType {
	case "created":
		rows, err = r.pool.Query(ctx, sessionSelect+` WHERE creator_id = $1 ORDER BY created_at DESC`, userID)
	case "my":
		rows, err = r.pool.Query(ctx, sessionSelect+`
			WHERE session_id IN (SELECT session_id FROM session_members WHERE user_id = $1)
			ORDER BY created_at DESC`, userID)
	default:
		rows, err = r.pool.Query(ctx, sessionSelect+` WHERE visibility = 'public' AND is_active ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// EndSession marks the session inactive. Rows are retained for history.
func (r *SessionRepository) EndSession(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reading_sessions
		SET is_active = FALSE, ended_at = NOW()
		WHERE session_id = $1 AND is_active
	`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}

// UpsertMember implements idempotent join: a retried join after a timeout
// lands on the existing (session, user) row instead of creating a second.
func (r *SessionRepository) UpsertMember(ctx context.Context, member domain.Member) (domain.Member, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO session_members(member_id, session_id, user_id, role, name, email, avatar_url)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET online = TRUE, last_seen = NOW(), name = EXCLUDED.name,
		              email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url
		RETURNING member_id, role, joined_at, last_seen, current_page, online
	`, member.ID, member.SessionID, member.UserID, member.Role, member.Name, member.Email, member.AvatarURL).
		Scan(&member.ID, &member.Role, &member.JoinedAt, &member.LastSeen, &member.CurrentPage, &member.Online)
	if err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

func (r *SessionRepository) ListMembers(ctx context.Context, sessionID string) ([]domain.Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT member_id, session_id, user_id, role, joined_at, last_seen, current_page, online, name, email, avatar_url
		FROM session_members
		WHERE session_id = $1
		ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var member domain.Member
		err := rows.Scan(
			&member.ID,
			&member.SessionID,
			&member.UserID,
			&member.Role,
			&member.JoinedAt,
			&member.LastSeen,
			&member.CurrentPage,
			&member.Online,
			&member.Name,
			&member.Email,
			&member.AvatarURL,
		)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (r *SessionRepository) CountMembers(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM session_members WHERE session_id = $1`, sessionID).Scan(&count)
	return count, err
}

func (r *SessionRepository) GetMember(ctx context.Context, sessionID, userID string) (domain.Member, error) {
	var member domain.Member
	err := r.pool.QueryRow(ctx, `
		SELECT member_id, session_id, user_id, role, joined_at, last_seen, current_page, online, name, email, avatar_url
		FROM session_members
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID).Scan(
		&member.ID,
		&member.SessionID,
		&member.UserID,
		&member.Role,
		&member.JoinedAt,
		&member.LastSeen,
		&member.CurrentPage,
		&member.Online,
		&member.Name,
		&member.Email,
		&member.AvatarURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Member{}, ErrNoRow
		}
		return domain.Member{}, err
	}
	return member, nil
}

// UpdatePresence refreshes the member's heartbeat fields. current_page only
// moves when pageNumber is non-negative.
func (r *SessionRepository) UpdatePresence(ctx context.Context, sessionID, userID string, online bool, pageNumber int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE session_members
		SET online = $3, last_seen = NOW(),
		    current_page = CASE WHEN $4 >= 0 THEN $4 ELSE current_page END
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID, online, pageNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}
