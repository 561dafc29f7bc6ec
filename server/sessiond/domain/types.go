package domain

import "time"

type Visibility string
type MemberRole string
type EventType string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

const (
	MemberRoleHost        MemberRole = "host"
	MemberRoleParticipant MemberRole = "participant"
)

const (
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventUserPageChanged   EventType = "user_page_changed"
	EventAnnotationCreated EventType = "annotation_created"
	EventAnnotationUpdated EventType = "annotation_updated"
	EventAnnotationDeleted EventType = "annotation_deleted"
)

// PresenceFreshness is how recently a heartbeat must have landed for a
// member to count as online. Heartbeats arrive every HeartbeatInterval.
const (
	PresenceFreshness = 5 * time.Minute
	HeartbeatInterval = 30 * time.Second
)

type Session struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id"`
	Title           string         `json:"title"`
	Visibility      Visibility     `json:"visibility"`
	InviteCode      string         `json:"invite_code,omitempty"`
	CreatorID       string         `json:"creator_id"`
	MaxParticipants int            `json:"max_participants"`
	IsActive        bool           `json:"is_active"`
	Settings        map[string]any `json:"settings,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}

type Member struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	Role        MemberRole `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastSeen    time.Time  `json:"last_seen"`
	CurrentPage int        `json:"current_page"`
	Online      bool       `json:"online"`
	Name        string     `json:"name,omitempty"`
	Email       string     `json:"email,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// AnnotationPayload carries the host application's annotation data opaquely.
// Key is the local store's stable identifier and is the natural key used to
// deduplicate remote rows across retried creates.
type AnnotationPayload struct {
	Key      string   `json:"key"`
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	Comment  string   `json:"comment,omitempty"`
	Color    string   `json:"color,omitempty"`
	Position string   `json:"position,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type SessionAnnotation struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	UserID     string            `json:"user_id"`
	DocumentID string            `json:"document_id"`
	Payload    AnnotationPayload `json:"payload"`
	PageNumber int               `json:"page_number"`
	Visibility Visibility        `json:"visibility"`
	HideAuthor bool              `json:"hide_author"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RealtimeEvent is the in-process value passed from the poll loop and the
// local-store observer to registered listeners. It is never persisted.
type RealtimeEvent struct {
	Type       EventType          `json:"type"`
	SessionID  string             `json:"session_id"`
	UserID     string             `json:"user_id"`
	PageNumber int                `json:"page_number,omitempty"`
	Annotation *SessionAnnotation `json:"annotation,omitempty"`
}

type EventLogEntry struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Type      EventType      `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
