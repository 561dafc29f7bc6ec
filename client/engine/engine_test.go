package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "readsync/client/api"
	"readsync/client/localstore"
	"readsync/server/sessiond/domain"
)

type fakeIdentity struct {
	user     domain.User
	signedIn bool
}

func (f *fakeIdentity) CurrentUser() (domain.User, bool) { return f.user, f.signedIn }

type fakeEvents struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (f *fakeEvents) LogEventAsync(sessionID, userID string, eventType domain.EventType, detail map[string]any) {
	f.mu.Lock()
	f.types = append(f.types, eventType)
	f.mu.Unlock()
}

func (f *fakeEvents) logged() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.EventType(nil), f.types...)
}

// fakeRemote is an in-memory stand-in for the session service. It records
// every call in order so teardown sequencing can be asserted.
type fakeRemote struct {
	mu    sync.Mutex
	calls []string

	session     domain.Session
	member      domain.Member
	membersList []domain.Member
	annotations []domain.SessionAnnotation

	createCount int
	lastCreated time.Time

	listGate chan struct{}

	joinErr          error
	getSessionErr    error
	membersErr       error
	presenceErr      error
	deleteUserErr    error
	deleteSessionErr error
}

func newFakeRemote() *fakeRemote {
	session := domain.Session{
		ID:         "sess-1",
		DocumentID: "doc-1",
		Title:      "reading group",
		InviteCode: "ABC234",
		CreatorID:  "u-host",
		IsActive:   true,
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	member := domain.Member{ID: "m-1", SessionID: "sess-1", UserID: "u-self", Role: domain.MemberRoleParticipant, Online: true}
	return &fakeRemote{session: session, member: member, lastCreated: time.Now()}
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) CreateSession(ctx context.Context, input clientapi.CreateSessionInput) (domain.Session, domain.Member, error) {
	f.record("create_session")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.DocumentID = input.DocumentID
	f.session.Title = input.Title
	return f.session, f.member, nil
}

func (f *fakeRemote) JoinByInviteCode(ctx context.Context, code string) (domain.Session, domain.Member, error) {
	f.record("join")
	if f.joinErr != nil {
		return domain.Session{}, domain.Member{}, f.joinErr
	}
	return f.session, f.member, nil
}

func (f *fakeRemote) DeleteSession(ctx context.Context, sessionID string) error {
	f.record("delete_session")
	return f.deleteSessionErr
}

func (f *fakeRemote) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	f.record("get_session")
	if f.getSessionErr != nil {
		return domain.Session{}, f.getSessionErr
	}
	return f.session, nil
}

func (f *fakeRemote) Members(ctx context.Context, sessionID string) ([]domain.Member, error) {
	f.record("members")
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Member(nil), f.membersList...), nil
}

func (f *fakeRemote) UpdatePresence(ctx context.Context, sessionID string, update clientapi.PresenceUpdate) error {
	f.record(fmt.Sprintf("update_presence online=%t", update.Online))
	return f.presenceErr
}

func (f *fakeRemote) CreateAnnotation(ctx context.Context, input clientapi.CreateAnnotationInput) (domain.SessionAnnotation, error) {
	f.record("create_annotation")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCount++
	f.lastCreated = f.lastCreated.Add(time.Millisecond)
	created := domain.SessionAnnotation{
		ID:         fmt.Sprintf("ann-%d", f.createCount),
		SessionID:  input.SessionID,
		UserID:     f.member.UserID,
		DocumentID: input.DocumentID,
		Payload:    input.Payload,
		PageNumber: input.PageNumber,
		Visibility: input.Visibility,
		HideAuthor: input.HideAuthor,
		CreatedAt:  f.lastCreated,
	}
	f.annotations = append(f.annotations, created)
	return created, nil
}

func (f *fakeRemote) FindAnnotationByKey(ctx context.Context, sessionID, key string) (domain.SessionAnnotation, bool, error) {
	f.record("find_by_key")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, annotation := range f.annotations {
		if annotation.Payload.Key == key {
			return annotation, true, nil
		}
	}
	return domain.SessionAnnotation{}, false, nil
}

func (f *fakeRemote) ListAnnotationsSince(ctx context.Context, sessionID string, since time.Time) ([]domain.SessionAnnotation, error) {
	f.record("list_since")
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.SessionAnnotation
	for _, annotation := range f.annotations {
		if annotation.CreatedAt.After(since) {
			result = append(result, annotation)
		}
	}
	return result, nil
}

func (f *fakeRemote) DeleteAnnotationByKey(ctx context.Context, sessionID, key string) error {
	f.record("delete_by_key")
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.annotations[:0]
	for _, annotation := range f.annotations {
		if annotation.Payload.Key != key {
			kept = append(kept, annotation)
		}
	}
	f.annotations = kept
	return nil
}

func (f *fakeRemote) DeleteUserAnnotations(ctx context.Context, sessionID, userID string) error {
	f.record("delete_user_annotations")
	if f.deleteUserErr != nil {
		return f.deleteUserErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.annotations[:0]
	for _, annotation := range f.annotations {
		if annotation.UserID != userID {
			kept = append(kept, annotation)
		}
	}
	f.annotations = kept
	return nil
}

// addRemoteAnnotation simulates another participant pushing an annotation.
func (f *fakeRemote) addRemoteAnnotation(userID, key string, visibility domain.Visibility) domain.SessionAnnotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCount++
	f.lastCreated = f.lastCreated.Add(time.Millisecond)
	created := domain.SessionAnnotation{
		ID:         fmt.Sprintf("ann-%d", f.createCount),
		SessionID:  f.session.ID,
		UserID:     userID,
		DocumentID: f.session.DocumentID,
		Payload:    domain.AnnotationPayload{Key: key, Type: "highlight"},
		Visibility: visibility,
		CreatedAt:  f.lastCreated,
	}
	f.annotations = append(f.annotations, created)
	return created
}

type engineFixture struct {
	engine   *Engine
	remote   *fakeRemote
	events   *fakeEvents
	identity *fakeIdentity
	store    *localstore.MemoryStore
	prefs    *MemoryPrefStore
}

// newFixture configures timer intervals far beyond test duration so ticks
// only happen when a test invokes them directly.
func newFixture() *engineFixture {
	remote := newFakeRemote()
	events := &fakeEvents{}
	identity := &fakeIdentity{user: domain.User{ID: "u-self", Name: "Self"}, signedIn: true}
	store := localstore.NewMemoryStore()
	prefs := NewMemoryPrefStore()
	cfg := Config{PollInterval: time.Hour, HeartbeatInterval: time.Hour, PageUpdateThrottle: time.Hour}
	return &engineFixture{
		engine:   New(cfg, remote, events, identity, store, prefs, nil),
		remote:   remote,
		events:   events,
		identity: identity,
		store:    store,
		prefs:    prefs,
	}
}

func TestCreateSessionRequiresIdentity(t *testing.T) {
	f := newFixture()
	f.identity.signedIn = false

	_, err := f.engine.CreateSession(context.Background(), "doc-1", "title", domain.VisibilityPrivate, 0)
	assert.ErrorIs(t, err, clientapi.ErrAuthRequired)
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestCreateSessionAutoJoinsCreator(t *testing.T) {
	f := newFixture()
	var presenceEvents []domain.RealtimeEvent
	f.engine.OnPresence(func(event domain.RealtimeEvent) { presenceEvents = append(presenceEvents, event) })

	session, err := f.engine.CreateSession(context.Background(), "doc-1", "reading group", domain.VisibilityPrivate, 0)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	assert.True(t, f.engine.InSession())

	require.NotNil(t, f.engine.CurrentMember())
	assert.Equal(t, "u-self", f.engine.CurrentMember().UserID)

	require.Len(t, presenceEvents, 1)
	assert.Equal(t, domain.EventUserJoined, presenceEvents[0].Type)

	record, ok, err := f.prefs.LoadCurrentSession()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-1", record.Session.ID)

	_, err = f.engine.CreateSession(context.Background(), "doc-2", "second", domain.VisibilityPrivate, 0)
	assert.ErrorIs(t, err, ErrAlreadyInSession)
}

func TestJoinFailureReturnsToIdle(t *testing.T) {
	f := newFixture()
	f.remote.joinErr = clientapi.ErrInvalidInviteCode

	_, err := f.engine.JoinByInviteCode(context.Background(), "WRONG1")
	assert.ErrorIs(t, err, clientapi.ErrInvalidInviteCode)
	assert.Equal(t, StateIdle, f.engine.State())
	assert.Nil(t, f.engine.CurrentSession())
}

func TestJoinSweepIsIdempotent(t *testing.T) {
	f := newFixture()
	f.store.Add(localstore.LocalAnnotation{Key: "local-a", DocumentID: "doc-1", Type: "highlight", Text: "alpha"})
	f.store.Add(localstore.LocalAnnotation{Key: "local-b", DocumentID: "doc-1", Type: "note", Comment: "beta"})
	f.store.Add(localstore.LocalAnnotation{Key: "other-doc", DocumentID: "doc-9", Type: "highlight"})
	// local-a is already on the server from an earlier visit.
	f.remote.addRemoteAnnotation("u-self", "local-a", domain.VisibilityPublic)

	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	// Only local-b was missing; local-a must not be duplicated and the
	// other document's annotation must not be pushed at all.
	assert.Len(t, f.remote.annotations, 2)

	// A second sweep finds everything present and creates nothing.
	f.engine.sweepExistingAnnotations(context.Background())
	assert.Len(t, f.remote.annotations, 2)
}

func TestPollEmitsOnlyUnseenAnnotations(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	var got []domain.RealtimeEvent
	f.engine.OnAnnotation(func(event domain.RealtimeEvent) { got = append(got, event) })

	// Our own create is marked seen on the way out.
	_, err = f.engine.CreateAnnotation(context.Background(), domain.AnnotationPayload{Key: "mine", Type: "highlight"}, 3, domain.VisibilityPublic, false)
	require.NoError(t, err)
	theirs := f.remote.addRemoteAnnotation("u-other", "theirs", domain.VisibilityPublic)

	f.engine.pollTick()
	require.Len(t, got, 1)
	assert.Equal(t, "u-other", got[0].UserID)
	require.NotNil(t, got[0].Annotation)
	assert.Equal(t, theirs.ID, got[0].Annotation.ID)

	// Re-delivery of the same rows is absorbed by the seen-key set even
	// when the watermark is rewound.
	f.engine.pollAnnotations(context.Background(), "sess-1", time.Time{})
	assert.Len(t, got, 1)

	// The next incremental poll has nothing new either.
	f.engine.pollTick()
	assert.Len(t, got, 1)
}

func TestPollSkipsOthersPrivateAnnotations(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	var got []domain.RealtimeEvent
	f.engine.OnAnnotation(func(event domain.RealtimeEvent) { got = append(got, event) })

	f.remote.addRemoteAnnotation("u-other", "their-private", domain.VisibilityPrivate)
	f.remote.addRemoteAnnotation("u-other", "their-public", domain.VisibilityPublic)

	f.engine.pollTick()
	require.Len(t, got, 1)
	assert.Equal(t, "their-public", got[0].Annotation.Payload.Key)
}

func TestPollMembersEmitsOnlyOnChange(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	seen := time.Now().Truncate(time.Second)
	f.remote.membersList = []domain.Member{
		{UserID: "u-self", Online: true, CurrentPage: 1, LastSeen: seen},
		{UserID: "u-other", Online: true, CurrentPage: 4, LastSeen: seen},
	}

	var emits int
	f.engine.OnMembersChange(func([]domain.Member) { emits++ })

	f.engine.pollTick()
	assert.Equal(t, 1, emits)

	// Same structural snapshot, different slice order: no re-emit.
	f.remote.mu.Lock()
	f.remote.membersList[0], f.remote.membersList[1] = f.remote.membersList[1], f.remote.membersList[0]
	f.remote.mu.Unlock()
	f.engine.pollTick()
	assert.Equal(t, 1, emits)

	f.remote.mu.Lock()
	f.remote.membersList[0].CurrentPage = 5
	f.remote.mu.Unlock()
	f.engine.pollTick()
	assert.Equal(t, 2, emits)
}

func TestPollTickSkipsWhileRequestInFlight(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	gate := make(chan struct{})
	f.remote.listGate = gate

	done := make(chan struct{})
	go func() {
		f.engine.pollTick()
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, call := range f.remote.recorded() {
			if call == "list_since" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// The overlapping tick must bail out without reaching the wire.
	before := len(f.remote.recorded())
	f.engine.pollTick()
	assert.Len(t, f.remote.recorded(), before)

	close(gate)
	<-done
}

func TestLeaveRunsTeardownInOrderAndBestEffort(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	f.engine.OnPresence(func(event domain.RealtimeEvent) {
		if event.Type == domain.EventUserLeft {
			f.remote.record("emit:user_left")
		}
	})

	// The bulk delete failing must not abort the remaining steps.
	f.remote.deleteUserErr = errors.New("boom")

	require.NoError(t, f.engine.LeaveSession(context.Background()))
	assert.Equal(t, StateIdle, f.engine.State())
	assert.Nil(t, f.engine.CurrentSession())

	_, ok, err := f.prefs.LoadCurrentSession()
	require.NoError(t, err)
	assert.False(t, ok, "persisted record must be cleared")

	calls := f.remote.recorded()
	indexOf := func(call string) int {
		for i, c := range calls {
			if c == call {
				return i
			}
		}
		t.Fatalf("call %q not found in %v", call, calls)
		return -1
	}
	offlineAt := indexOf("update_presence online=false")
	deleteAt := indexOf("delete_user_annotations")
	leftAt := indexOf("emit:user_left")
	assert.Less(t, offlineAt, deleteAt, "offline presence precedes annotation delete")
	assert.Less(t, deleteAt, leftAt, "user_left fires after remote cleanup is attempted")

	assert.ErrorIs(t, f.engine.LeaveSession(context.Background()), ErrNotInSession)
}

func TestLeaveStopsLocalObserver(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)
	require.NoError(t, f.engine.LeaveSession(context.Background()))

	before := len(f.remote.recorded())
	f.store.Add(localstore.LocalAnnotation{Key: "after-leave", DocumentID: "doc-1"})
	assert.Len(t, f.remote.recorded(), before, "an unsubscribed engine must not push")
}

func TestDeleteSessionSkipsRedundantCleanup(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteSession(context.Background(), "sess-1"))
	assert.Equal(t, StateIdle, f.engine.State())

	// Ending the session server-side cascades presence and annotations;
	// the local teardown must not re-issue them.
	for _, call := range f.remote.recorded() {
		assert.NotEqual(t, "update_presence online=false", call)
		assert.NotEqual(t, "delete_user_annotations", call)
	}
}

func TestDeleteOtherSessionLeavesCurrentAlone(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteSession(context.Background(), "sess-owned-elsewhere"))
	assert.True(t, f.engine.InSession())
}

func TestRestoreWithoutRecord(t *testing.T) {
	f := newFixture()
	restored, err := f.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestRestoreEndedSessionClearsSilently(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.prefs.SaveCurrentSession(PersistedSession{Session: f.remote.session, Member: f.remote.member}))
	f.remote.session.IsActive = false

	restored, err := f.engine.Restore(context.Background())
	require.NoError(t, err, "an ended session is routine, not an error")
	assert.False(t, restored)
	assert.Equal(t, StateIdle, f.engine.State())

	_, ok, err := f.prefs.LoadCurrentSession()
	require.NoError(t, err)
	assert.False(t, ok, "stale record must be cleared")
}

func TestRestoreTransientFailureKeepsRecord(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.prefs.SaveCurrentSession(PersistedSession{Session: f.remote.session, Member: f.remote.member}))
	f.remote.getSessionErr = &clientapi.TransientError{Err: errors.New("connection refused")}

	restored, err := f.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)

	_, ok, err := f.prefs.LoadCurrentSession()
	require.NoError(t, err)
	assert.True(t, ok, "record survives for the next start")
}

func TestRestoreRejoinsActiveSession(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.prefs.SaveCurrentSession(PersistedSession{Session: f.remote.session, Member: f.remote.member}))
	f.remote.membersList = []domain.Member{
		{UserID: "u-other", Online: true},
		{UserID: "u-self", Online: false, CurrentPage: 7},
	}

	restored, err := f.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, restored)
	assert.True(t, f.engine.InSession())
	require.NotNil(t, f.engine.CurrentMember())
	assert.Equal(t, 7, f.engine.CurrentMember().CurrentPage)

	// Restore marks the member online again.
	var pushedOnline bool
	for _, call := range f.remote.recorded() {
		if call == "update_presence online=true" {
			pushedOnline = true
		}
	}
	assert.True(t, pushedOnline)
}

func TestRestoreWithLostMembershipClears(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.prefs.SaveCurrentSession(PersistedSession{Session: f.remote.session, Member: f.remote.member}))
	f.remote.membersList = []domain.Member{{UserID: "u-other", Online: true}}

	restored, err := f.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)

	_, ok, err := f.prefs.LoadCurrentSession()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalObserverPushesAddsAndDeletes(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	f.store.Add(localstore.LocalAnnotation{Key: "fresh", DocumentID: "doc-1", Type: "highlight", PageNumber: 2})
	require.Len(t, f.remote.annotations, 1)
	assert.Equal(t, "fresh", f.remote.annotations[0].Payload.Key)
	assert.Equal(t, domain.VisibilityPublic, f.remote.annotations[0].Visibility)

	// Annotations on another document are not session material.
	f.store.Add(localstore.LocalAnnotation{Key: "elsewhere", DocumentID: "doc-9"})
	assert.Len(t, f.remote.annotations, 1)

	// The pushed annotation is already seen; polling must not echo it.
	var echoes int
	f.engine.OnAnnotation(func(domain.RealtimeEvent) { echoes++ })
	f.engine.pollTick()
	assert.Zero(t, echoes)

	f.store.Delete("fresh")
	assert.Empty(t, f.remote.annotations)
	assert.Contains(t, f.events.logged(), domain.EventAnnotationDeleted)
}

func TestCreateAnnotationLogsEvent(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	created, err := f.engine.CreateAnnotation(context.Background(), domain.AnnotationPayload{Key: "k1", Type: "note"}, 5, domain.VisibilityPrivate, true)
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPrivate, created.Visibility)
	assert.True(t, created.HideAuthor)
	assert.Contains(t, f.events.logged(), domain.EventAnnotationCreated)
}

func TestCreateAnnotationOutsideSession(t *testing.T) {
	f := newFixture()
	_, err := f.engine.CreateAnnotation(context.Background(), domain.AnnotationPayload{Key: "k1"}, 1, domain.VisibilityPublic, false)
	assert.ErrorIs(t, err, ErrNotInSession)
}

func TestUpdateCurrentPageThrottlesRemotePush(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	var pageEvents []int
	f.engine.OnPresence(func(event domain.RealtimeEvent) {
		if event.Type == domain.EventUserPageChanged {
			pageEvents = append(pageEvents, event.PageNumber)
		}
	})

	f.engine.UpdateCurrentPage(2)
	f.engine.UpdateCurrentPage(3)

	// Both local events fire immediately, in order.
	assert.Equal(t, []int{2, 3}, pageEvents)
	require.NotNil(t, f.engine.CurrentMember())
	assert.Equal(t, 3, f.engine.CurrentMember().CurrentPage)

	// Only the first call pushes presence within one throttle window.
	require.Eventually(t, func() bool {
		count := 0
		for _, call := range f.remote.recorded() {
			if call == "update_presence online=true" {
				count++
			}
		}
		return count == 1
	}, time.Second, 5*time.Millisecond)
}

func TestListenerPanicDoesNotStopFanOut(t *testing.T) {
	f := newFixture()
	_, err := f.engine.JoinByInviteCode(context.Background(), "ABC234")
	require.NoError(t, err)

	var survived int
	f.engine.OnAnnotation(func(domain.RealtimeEvent) { panic("listener bug") })
	f.engine.OnAnnotation(func(domain.RealtimeEvent) { survived++ })

	f.remote.addRemoteAnnotation("u-other", "k-panic", domain.VisibilityPublic)
	f.engine.pollTick()
	assert.Equal(t, 1, survived)
}

func TestMembersCacheServesRepeatReads(t *testing.T) {
	f := newFixture()
	f.remote.membersList = []domain.Member{{UserID: "u-self", Online: true}}

	_, err := f.engine.Members(context.Background(), "sess-1", true)
	require.NoError(t, err)
	_, err = f.engine.Members(context.Background(), "sess-1", true)
	require.NoError(t, err)

	fetches := 0
	for _, call := range f.remote.recorded() {
		if call == "members" {
			fetches++
		}
	}
	assert.Equal(t, 1, fetches, "second read is served from the snapshot cache")

	_, err = f.engine.Members(context.Background(), "sess-1", false)
	require.NoError(t, err)
	fetches = 0
	for _, call := range f.remote.recorded() {
		if call == "members" {
			fetches++
		}
	}
	assert.Equal(t, 2, fetches, "useCache=false always hits the service")
}
