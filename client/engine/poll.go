package engine

import (
	"context"
	"sort"
	"time"

	clientapi "readsync/client/api"
	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
)

// memberSnapshot is the structural projection compared between poll ticks.
// Only the fields that matter to the UI take part, so presence noise that
// changes nothing visible does not re-render the member list.
type memberSnapshot struct {
	UserID      string
	Online      bool
	CurrentPage int
	LastSeen    time.Time
}

func snapshotMembers(members []domain.Member) []memberSnapshot {
	snapshot := make([]memberSnapshot, 0, len(members))
	for _, member := range members {
		snapshot = append(snapshot, memberSnapshot{
			UserID:      member.UserID,
			Online:      member.Online,
			CurrentPage: member.CurrentPage,
			LastSeen:    member.LastSeen,
		})
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UserID < snapshot[j].UserID })
	return snapshot
}

func snapshotsEqual(a, b []memberSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UserID != b[i].UserID ||
			a[i].Online != b[i].Online ||
			a[i].CurrentPage != b[i].CurrentPage ||
			!a[i].LastSeen.Equal(b[i].LastSeen) {
			return false
		}
	}
	return true
}

func (e *Engine) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.pollTick()
		}
	}
}

// pollTick runs both poll steps. A tick that fires while the previous one is
// still on the wire is skipped outright, so requests never overlap. Failures
// log and leave the loop running; the next tick heals.
func (e *Engine) pollTick() {
	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.pollInFlight {
		e.mu.Unlock()
		return
	}
	e.pollInFlight = true
	sessionID := e.session.ID
	watermark := e.watermark
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.pollInFlight = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	e.pollAnnotations(ctx, sessionID, watermark)
	e.pollMembers(ctx, sessionID)
}

// pollAnnotations fetches creates newer than the watermark. Updates and
// deletes are intentionally not polled: the engine pushes its own user's
// deletes and trusts the remote store for others' creates.
func (e *Engine) pollAnnotations(ctx context.Context, sessionID string, watermark time.Time) {
	annotations, err := e.api.ListAnnotationsSince(ctx, sessionID, watermark)
	if err != nil {
		commonlog.Warnf("poll annotations session=%s: %v", sessionID, err)
		return
	}

	for _, annotation := range annotations {
		e.mu.Lock()
		// The response may land after a leave; only act while this is
		// still the current session.
		if e.state != StateActive || e.session == nil || e.session.ID != sessionID {
			e.mu.Unlock()
			return
		}
		if annotation.CreatedAt.After(e.watermark) {
			e.watermark = annotation.CreatedAt
		}
		currentUserID := ""
		if e.member != nil {
			currentUserID = e.member.UserID
		}
		key := annotation.Payload.Key
		_, seen := e.seenKeys[key]
		if !seen && key != "" {
			e.seenKeys[key] = struct{}{}
		}
		e.mu.Unlock()

		if seen {
			continue
		}
		if annotation.Visibility == domain.VisibilityPrivate && annotation.UserID != currentUserID {
			continue
		}
		annotationCopy := annotation
		e.emitAnnotation(domain.RealtimeEvent{
			Type:       domain.EventAnnotationCreated,
			SessionID:  sessionID,
			UserID:     annotation.UserID,
			PageNumber: annotation.PageNumber,
			Annotation: &annotationCopy,
		})
	}
}

func (e *Engine) pollMembers(ctx context.Context, sessionID string) {
	members, err := e.api.Members(ctx, sessionID)
	if err != nil {
		commonlog.Warnf("poll members session=%s: %v", sessionID, err)
		return
	}

	snapshot := snapshotMembers(members)

	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.session.ID != sessionID {
		e.mu.Unlock()
		return
	}
	changed := !snapshotsEqual(snapshot, e.lastSnapshot)
	if changed {
		e.lastSnapshot = snapshot
	}
	e.mu.Unlock()

	e.caches.PutMembers(sessionID, members)
	if changed {
		e.emitMembers(members)
	}
}

func (e *Engine) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.heartbeatTick()
		}
	}
}

// heartbeatTick refreshes last_seen/online. Failures are not retried inline;
// the next tick retries naturally.
func (e *Engine) heartbeatTick() {
	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return
	}
	sessionID := e.session.ID
	currentPage := e.member.CurrentPage
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()
	if err := e.api.UpdatePresence(ctx, sessionID, clientapi.PresenceUpdate{Online: true, CurrentPage: currentPage}); err != nil {
		commonlog.Warnf("heartbeat session=%s: %v", sessionID, err)
	}
}
