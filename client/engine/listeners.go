package engine

import (
	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
)

// OnAnnotation registers a callback for annotation events observed by the
// poll loop. Callbacks run synchronously on the observing goroutine and must
// not block; a panic in one is caught and logged so the rest still fire.
func (e *Engine) OnAnnotation(fn func(domain.RealtimeEvent)) {
	e.mu.Lock()
	e.annotationListeners = append(e.annotationListeners, fn)
	e.mu.Unlock()
}

// OnPresence registers a callback for user_joined/user_left/user_page_changed.
func (e *Engine) OnPresence(fn func(domain.RealtimeEvent)) {
	e.mu.Lock()
	e.presenceListeners = append(e.presenceListeners, fn)
	e.mu.Unlock()
}

// OnMembersChange registers a callback invoked only when the member set's
// structural snapshot actually differs from the previous poll.
func (e *Engine) OnMembersChange(fn func([]domain.Member)) {
	e.mu.Lock()
	e.memberListeners = append(e.memberListeners, fn)
	e.mu.Unlock()
}

func (e *Engine) emitAnnotation(event domain.RealtimeEvent) {
	e.mu.Lock()
	listeners := append(([]func(domain.RealtimeEvent))(nil), e.annotationListeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		invokeListener("annotation", func() { fn(event) })
	}
}

func (e *Engine) emitPresence(event domain.RealtimeEvent) {
	e.mu.Lock()
	listeners := append(([]func(domain.RealtimeEvent))(nil), e.presenceListeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		invokeListener("presence", func() { fn(event) })
	}
}

func (e *Engine) emitMembers(members []domain.Member) {
	e.mu.Lock()
	listeners := append(([]func([]domain.Member))(nil), e.memberListeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		invokeListener("members", func() { fn(members) })
	}
}

// invokeListener shields fan-out from one faulty callback.
func invokeListener(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			commonlog.Exceptionf("%s listener panicked: %v", kind, r)
		}
	}()
	fn()
}
