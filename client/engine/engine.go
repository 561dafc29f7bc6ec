package engine

import (
	"context"
	"sync"
	"time"

	clientapi "readsync/client/api"
	"readsync/client/cache"
	"readsync/client/localstore"
	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
)

// State is the engine's lifecycle position. One engine instance holds at
// most one current session.
type State string

const (
	StateIdle      State = "idle"
	StateJoining   State = "joining"
	StateActive    State = "active"
	StateLeaving   State = "leaving"
	StateRestoring State = "restoring"
)

const (
	defaultPollInterval       = 2 * time.Second
	defaultPageUpdateThrottle = 2 * time.Second
	remoteCallTimeout         = 10 * time.Second
)

// Identity is the authentication collaborator: it yields the signed-in user
// when there is one. Token attachment happens inside the API client.
type Identity interface {
	CurrentUser() (domain.User, bool)
}

// remoteAPI is the slice of the session REST client the engine consumes.
// *api.Client satisfies it; tests inject fakes.
type remoteAPI interface {
	CreateSession(ctx context.Context, input clientapi.CreateSessionInput) (domain.Session, domain.Member, error)
	JoinByInviteCode(ctx context.Context, code string) (domain.Session, domain.Member, error)
	DeleteSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	Members(ctx context.Context, sessionID string) ([]domain.Member, error)
	UpdatePresence(ctx context.Context, sessionID string, update clientapi.PresenceUpdate) error
	CreateAnnotation(ctx context.Context, input clientapi.CreateAnnotationInput) (domain.SessionAnnotation, error)
	FindAnnotationByKey(ctx context.Context, sessionID, key string) (domain.SessionAnnotation, bool, error)
	ListAnnotationsSince(ctx context.Context, sessionID string, since time.Time) ([]domain.SessionAnnotation, error)
	DeleteAnnotationByKey(ctx context.Context, sessionID, key string) error
	DeleteUserAnnotations(ctx context.Context, sessionID, userID string) error
}

// eventLogger is the fire-and-forget slice of the event log client.
type eventLogger interface {
	LogEventAsync(sessionID, userID string, eventType domain.EventType, detail map[string]any)
}

type Config struct {
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	PageUpdateThrottle time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = domain.HeartbeatInterval
	}
	if c.PageUpdateThrottle <= 0 {
		c.PageUpdateThrottle = defaultPageUpdateThrottle
	}
	return c
}

// Engine is the session synchronization engine. The host application owns
// the instance and injects it wherever session features are needed; there is
// no ambient global, so tests can run independent engines side by side.
type Engine struct {
	cfg      Config
	api      remoteAPI
	events   eventLogger
	identity Identity
	store    localstore.Store
	prefs    PrefStore
	caches   *cache.Set

	mu           sync.Mutex
	state        State
	session      *domain.Session
	member       *domain.Member
	watermark    time.Time
	seenKeys     map[string]struct{}
	lastSnapshot []memberSnapshot
	lastPagePush time.Time
	pollInFlight bool
	stopCh       chan struct{}
	unsubscribe  func()

	annotationListeners []func(domain.RealtimeEvent)
	presenceListeners   []func(domain.RealtimeEvent)
	memberListeners     []func([]domain.Member)
}

func New(cfg Config, api remoteAPI, events eventLogger, identity Identity, store localstore.Store, prefs PrefStore, caches *cache.Set) *Engine {
	if caches == nil {
		caches = cache.NewSet()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		api:      api,
		events:   events,
		identity: identity,
		store:    store,
		prefs:    prefs,
		caches:   caches,
		state:    StateIdle,
		seenKeys: map[string]struct{}{},
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) InSession() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateActive
}

func (e *Engine) CurrentSession() *domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	copied := *e.session
	return &copied
}

func (e *Engine) CurrentMember() *domain.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.member == nil {
		return nil
	}
	copied := *e.member
	return &copied
}

// CreateSession creates a session for the given document and auto-joins its
// creator as host. The server creates the session row and the host
// membership atomically, so the engine goes straight to Active.
func (e *Engine) CreateSession(ctx context.Context, documentID, title string, visibility domain.Visibility, maxParticipants int) (domain.Session, error) {
	if _, ok := e.identity.CurrentUser(); !ok {
		return domain.Session{}, clientapi.ErrAuthRequired
	}
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return domain.Session{}, ErrAlreadyInSession
	}
	e.state = StateJoining
	e.mu.Unlock()

	session, member, err := e.api.CreateSession(ctx, clientapi.CreateSessionInput{
		DocumentID:      documentID,
		Title:           title,
		Visibility:      visibility,
		MaxParticipants: maxParticipants,
	})
	if err != nil {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		return domain.Session{}, err
	}

	e.activate(session, member)
	return session, nil
}

// JoinByInviteCode joins an existing session, persists it for restart
// recovery, starts poll and heartbeat, registers the local-store observer,
// and runs the one-time existing-annotation sweep.
func (e *Engine) JoinByInviteCode(ctx context.Context, code string) (domain.Session, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return domain.Session{}, ErrAlreadyInSession
	}
	e.state = StateJoining
	e.mu.Unlock()

	session, member, err := e.api.JoinByInviteCode(ctx, code)
	if err != nil {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		return domain.Session{}, err
	}

	e.activate(session, member)
	e.sweepExistingAnnotations(ctx)
	return session, nil
}

// activate installs the session as current and starts the background loops.
// Persisting the session is best-effort: a failed save only costs restart
// recovery, not the live session.
func (e *Engine) activate(session domain.Session, member domain.Member) {
	stop := make(chan struct{})

	e.mu.Lock()
	sessionCopy := session
	memberCopy := member
	e.session = &sessionCopy
	e.member = &memberCopy
	e.state = StateActive
	e.watermark = time.Time{}
	e.seenKeys = map[string]struct{}{}
	e.lastSnapshot = nil
	e.stopCh = stop
	e.mu.Unlock()

	if e.prefs != nil {
		if err := e.prefs.SaveCurrentSession(PersistedSession{Session: session, Member: member}); err != nil {
			commonlog.Warnf("persist current session %s: %v", session.ID, err)
		}
	}
	if e.store != nil {
		e.mu.Lock()
		e.unsubscribe = e.store.Subscribe(localstore.Listener{
			OnAdded:   e.onLocalAnnotationAdded,
			OnDeleted: e.onLocalAnnotationDeleted,
		})
		e.mu.Unlock()
	}

	go e.pollLoop(stop)
	go e.heartbeatLoop(stop)

	e.emitPresence(domain.RealtimeEvent{
		Type:      domain.EventUserJoined,
		SessionID: session.ID,
		UserID:    member.UserID,
	})
}

// LeaveSession tears the current session down in a fixed order: stop timers,
// unregister the observer, push offline presence, bulk-delete this user's
// session annotations, emit user_left, clear persisted state. Steps after
// the timers are best-effort; leave never fails once the teardown started.
func (e *Engine) LeaveSession(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return ErrNotInSession
	}
	e.state = StateLeaving
	session := *e.session
	member := *e.member
	e.mu.Unlock()

	e.teardown(ctx, session, member, teardownOptions{pushOffline: true, deleteAnnotations: true})
	return nil
}

// DeleteSession ends a session for everyone. Host-only on the server. When
// it targets the locally-active session the local teardown runs as for
// leave, except the remote annotation delete: the server cascades it.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	if err := e.api.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.session.ID != sessionID {
		e.mu.Unlock()
		return nil
	}
	e.state = StateLeaving
	session := *e.session
	member := *e.member
	e.mu.Unlock()

	e.teardown(ctx, session, member, teardownOptions{})
	return nil
}

type teardownOptions struct {
	pushOffline       bool
	deleteAnnotations bool
}

func (e *Engine) teardown(ctx context.Context, session domain.Session, member domain.Member, opts teardownOptions) {
	// 1: stop poll and heartbeat.
	e.mu.Lock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	// 2: unregister the local-store observer.
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	// 3: offline presence, so other clients' next poll sees the departure.
	if opts.pushOffline {
		if err := e.api.UpdatePresence(ctx, session.ID, clientapi.PresenceUpdate{Online: false}); err != nil {
			commonlog.Warnf("push offline presence session=%s: %v", session.ID, err)
		}
	}

	// 4: this user's shared annotations are ephemeral to the session.
	if opts.deleteAnnotations {
		if err := e.api.DeleteUserAnnotations(ctx, session.ID, member.UserID); err != nil {
			commonlog.Warnf("delete session annotations session=%s user=%s: %v", session.ID, member.UserID, err)
		}
	}

	// 5: local user_left event.
	e.emitPresence(domain.RealtimeEvent{
		Type:      domain.EventUserLeft,
		SessionID: session.ID,
		UserID:    member.UserID,
	})

	// 6: clear durable and in-memory state.
	if e.prefs != nil {
		if err := e.prefs.ClearCurrentSession(); err != nil {
			commonlog.Warnf("clear persisted session: %v", err)
		}
	}
	e.caches.InvalidateMembers(session.ID)

	e.mu.Lock()
	e.session = nil
	e.member = nil
	e.state = StateIdle
	e.watermark = time.Time{}
	e.seenKeys = map[string]struct{}{}
	e.lastSnapshot = nil
	e.mu.Unlock()
}

// Restore re-validates a persisted session at process start. A session that
// ended while the process was away is routine: the record is cleared
// silently, with no error surfaced.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return false, ErrAlreadyInSession
	}
	e.state = StateRestoring
	e.mu.Unlock()

	backToIdle := func() {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
	}

	if e.prefs == nil {
		backToIdle()
		return false, nil
	}
	record, ok, err := e.prefs.LoadCurrentSession()
	if err != nil {
		backToIdle()
		commonlog.Warnf("load persisted session: %v", err)
		return false, nil
	}
	if !ok {
		backToIdle()
		return false, nil
	}

	session, err := e.api.GetSession(ctx, record.Session.ID)
	if err != nil {
		if clientapi.IsTransient(err) {
			// Leave the record for the next start; do not restore blind.
			backToIdle()
			return false, nil
		}
		e.clearStale(record.Session.ID)
		backToIdle()
		return false, nil
	}
	if !session.IsActive {
		e.clearStale(record.Session.ID)
		backToIdle()
		return false, nil
	}

	members, err := e.api.Members(ctx, session.ID)
	if err != nil {
		backToIdle()
		return false, nil
	}
	var membership *domain.Member
	for i := range members {
		if members[i].UserID == record.Member.UserID {
			membership = &members[i]
			break
		}
	}
	if membership == nil {
		e.clearStale(session.ID)
		backToIdle()
		return false, nil
	}

	if err := e.api.UpdatePresence(ctx, session.ID, clientapi.PresenceUpdate{Online: true, CurrentPage: membership.CurrentPage}); err != nil {
		commonlog.Warnf("mark online on restore session=%s: %v", session.ID, err)
	}

	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()
	e.activate(session, *membership)
	return true, nil
}

func (e *Engine) clearStale(sessionID string) {
	commonlog.Infof("persisted session %s is no longer active, clearing", sessionID)
	if err := e.prefs.ClearCurrentSession(); err != nil {
		commonlog.Warnf("clear stale session record: %v", err)
	}
}

// Members returns the session's member list, served from the 5s snapshot
// cache unless the caller needs freshness (useCache=false right after a
// membership mutation).
func (e *Engine) Members(ctx context.Context, sessionID string, useCache bool) ([]domain.Member, error) {
	if useCache {
		if members, ok := e.caches.Members(sessionID); ok {
			return members, nil
		}
	}
	members, err := e.api.Members(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.caches.PutMembers(sessionID, members)
	return members, nil
}

// CreateAnnotation pushes one annotation into the current session and
// appends an annotation_created record to the event log without waiting on
// it.
func (e *Engine) CreateAnnotation(ctx context.Context, payload domain.AnnotationPayload, pageNumber int, visibility domain.Visibility, hideAuthor bool) (domain.SessionAnnotation, error) {
	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return domain.SessionAnnotation{}, ErrNotInSession
	}
	session := *e.session
	member := *e.member
	e.mu.Unlock()

	created, err := e.api.CreateAnnotation(ctx, clientapi.CreateAnnotationInput{
		SessionID:  session.ID,
		DocumentID: session.DocumentID,
		Payload:    payload,
		PageNumber: pageNumber,
		Visibility: visibility,
		HideAuthor: hideAuthor,
	})
	if err != nil {
		return domain.SessionAnnotation{}, err
	}

	e.markSeen(created.Payload.Key)
	if e.events != nil {
		e.events.LogEventAsync(session.ID, member.UserID, domain.EventAnnotationCreated, map[string]any{
			"key":  created.Payload.Key,
			"page": created.PageNumber,
		})
	}
	return created, nil
}

// UpdateCurrentPage emits the optimistic local page-change event right away
// and pushes presence remotely at most once per throttle window. The remote
// push is detached; its failure only logs.
func (e *Engine) UpdateCurrentPage(pageNumber int) {
	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return
	}
	session := *e.session
	member := *e.member
	e.member.CurrentPage = pageNumber
	throttled := time.Since(e.lastPagePush) < e.cfg.PageUpdateThrottle
	if !throttled {
		e.lastPagePush = time.Now()
	}
	e.mu.Unlock()

	e.emitPresence(domain.RealtimeEvent{
		Type:       domain.EventUserPageChanged,
		SessionID:  session.ID,
		UserID:     member.UserID,
		PageNumber: pageNumber,
	})

	if throttled {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				commonlog.Exceptionf("page presence push panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
		defer cancel()
		if err := e.api.UpdatePresence(ctx, session.ID, clientapi.PresenceUpdate{Online: true, CurrentPage: pageNumber}); err != nil {
			commonlog.Warnf("push page change session=%s page=%d: %v", session.ID, pageNumber, err)
		}
	}()
}

func (e *Engine) markSeen(key string) {
	if key == "" {
		return
	}
	e.mu.Lock()
	e.seenKeys[key] = struct{}{}
	e.mu.Unlock()
}

// Caches exposes the engine's cache set so UI panels share the same
// resolver and social caches.
func (e *Engine) Caches() *cache.Set {
	return e.caches
}
