package api

import (
	"context"
	"net/url"
	"time"

	"readsync/server/sessiond/domain"
)

type CreateSessionInput struct {
	DocumentID      string            `json:"document_id"`
	Title           string            `json:"title"`
	Visibility      domain.Visibility `json:"visibility"`
	MaxParticipants int               `json:"max_participants"`
}

type sessionMemberResponse struct {
	Session domain.Session `json:"session"`
	Member  domain.Member  `json:"member"`
}

// CreateSession creates the session and the host membership in one call; the
// server performs both atomically so the creator is joined on success.
func (c *Client) CreateSession(ctx context.Context, input CreateSessionInput) (domain.Session, domain.Member, error) {
	var out sessionMemberResponse
	if err := c.Post(ctx, BasePath+"/create", input, &out); err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	return out.Session, out.Member, nil
}

func (c *Client) JoinByInviteCode(ctx context.Context, code string) (domain.Session, domain.Member, error) {
	payload := map[string]any{"invite_code": code}
	var out sessionMemberResponse
	if err := c.Post(ctx, BasePath+"/join", payload, &out); err != nil {
		return domain.Session{}, domain.Member{}, err
	}
	return out.Session, out.Member, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	query := url.Values{"session_id": {sessionID}}
	var out map[string]any
	return c.Delete(ctx, BasePath+"/delete", query, &out)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	query := url.Values{"session_id": {sessionID}}
	var out domain.Session
	if err := c.Get(ctx, BasePath+"/get", query, &out); err != nil {
		return domain.Session{}, err
	}
	return out, nil
}

// ListSessions accepts type created|public|my, matching the server's filter.
func (c *Client) ListSessions(ctx context.Context, listType string) ([]domain.Session, error) {
	query := url.Values{"type": {listType}}
	var out []domain.Session
	if err := c.Get(ctx, BasePath+"/list", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Members(ctx context.Context, sessionID string) ([]domain.Member, error) {
	query := url.Values{"session_id": {sessionID}}
	var out []domain.Member
	if err := c.Get(ctx, BasePath+"/members", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type PresenceUpdate struct {
	Online      bool `json:"online"`
	CurrentPage int  `json:"current_page,omitempty"`
}

// UpdatePresence is the heartbeat: it refreshes last_seen and the online
// flag on the caller's member row, and optionally the current page.
func (c *Client) UpdatePresence(ctx context.Context, sessionID string, update PresenceUpdate) error {
	query := url.Values{"session_id": {sessionID}}
	var out map[string]any
	return c.Patch(ctx, BasePath+"/members/presence", query, update, &out)
}

type CreateAnnotationInput struct {
	SessionID  string                   `json:"session_id"`
	DocumentID string                   `json:"document_id"`
	Payload    domain.AnnotationPayload `json:"payload"`
	PageNumber int                      `json:"page_number"`
	Visibility domain.Visibility        `json:"visibility"`
	HideAuthor bool                     `json:"hide_author"`
}

func (c *Client) CreateAnnotation(ctx context.Context, input CreateAnnotationInput) (domain.SessionAnnotation, error) {
	var out domain.SessionAnnotation
	if err := c.Post(ctx, BasePath+"/annotations/create", input, &out); err != nil {
		return domain.SessionAnnotation{}, err
	}
	return out, nil
}

// FindAnnotationByKey looks up a session annotation by its natural key (the
// local store's own identifier). Used for check-before-create so a retried
// create cannot produce a duplicate row.
func (c *Client) FindAnnotationByKey(ctx context.Context, sessionID, key string) (domain.SessionAnnotation, bool, error) {
	query := url.Values{"session_id": {sessionID}, "key": {key}}
	var out domain.SessionAnnotation
	err := c.Get(ctx, BasePath+"/annotations/find", query, &out)
	if err != nil {
		if IsRejected(err) {
			return domain.SessionAnnotation{}, false, nil
		}
		return domain.SessionAnnotation{}, false, err
	}
	return out, true, nil
}

// ListAnnotationsSince returns annotations created strictly after the given
// watermark, oldest first. The zero time returns everything.
func (c *Client) ListAnnotationsSince(ctx context.Context, sessionID string, since time.Time) ([]domain.SessionAnnotation, error) {
	query := url.Values{"session_id": {sessionID}}
	if !since.IsZero() {
		query.Set("created_after", since.UTC().Format(time.RFC3339Nano))
	}
	var out []domain.SessionAnnotation
	if err := c.Get(ctx, BasePath+"/annotations/list", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteAnnotationByKey(ctx context.Context, sessionID, key string) error {
	query := url.Values{"session_id": {sessionID}, "key": {key}}
	var out map[string]any
	return c.Delete(ctx, BasePath+"/annotations/delete", query, &out)
}

// DeleteUserAnnotations bulk-deletes every annotation the given user pushed
// into the session. Called on leave; a participant's shared annotations are
// ephemeral to the session.
func (c *Client) DeleteUserAnnotations(ctx context.Context, sessionID, userID string) error {
	query := url.Values{"session_id": {sessionID}, "user_id": {userID}}
	var out map[string]any
	return c.Delete(ctx, BasePath+"/annotations/delete-by-user", query, &out)
}
