package engine

import (
	"context"

	clientapi "readsync/client/api"
	"readsync/client/localstore"
	commonlog "readsync/server/common/log"
	"readsync/server/sessiond/domain"
)

// onLocalAnnotationAdded runs on the local store's dispatch path. It must
// never panic back into the dispatcher; every failure is caught and logged
// per item so one bad annotation does not block the rest of a batch.
func (e *Engine) onLocalAnnotationAdded(annotation localstore.LocalAnnotation) {
	defer func() {
		if r := recover(); r != nil {
			commonlog.Exceptionf("local annotation add handler panicked key=%s: %v", annotation.Key, r)
		}
	}()

	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return
	}
	session := *e.session
	member := *e.member
	e.mu.Unlock()

	if annotation.DocumentID != session.DocumentID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	created, err := e.api.CreateAnnotation(ctx, clientapi.CreateAnnotationInput{
		SessionID:  session.ID,
		DocumentID: session.DocumentID,
		Payload:    payloadFromLocal(annotation),
		PageNumber: annotation.PageNumber,
		Visibility: domain.VisibilityPublic,
	})
	if err != nil {
		commonlog.Warnf("push local annotation key=%s session=%s: %v", annotation.Key, session.ID, err)
		return
	}
	e.markSeen(created.Payload.Key)
	if e.events != nil {
		e.events.LogEventAsync(session.ID, member.UserID, domain.EventAnnotationCreated, map[string]any{
			"key":  created.Payload.Key,
			"page": created.PageNumber,
		})
	}
}

// onLocalAnnotationDeleted deletes the remote row by the natural key carried
// in the deletion notice. The local store never learns remote ids, so the
// key is the only handle.
func (e *Engine) onLocalAnnotationDeleted(key string) {
	defer func() {
		if r := recover(); r != nil {
			commonlog.Exceptionf("local annotation delete handler panicked key=%s: %v", key, r)
		}
	}()

	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return
	}
	session := *e.session
	member := *e.member
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	if err := e.api.DeleteAnnotationByKey(ctx, session.ID, key); err != nil {
		commonlog.Warnf("delete remote annotation key=%s session=%s: %v", key, session.ID, err)
		return
	}
	e.mu.Lock()
	delete(e.seenKeys, key)
	e.mu.Unlock()

	if e.events != nil {
		e.events.LogEventAsync(session.ID, member.UserID, domain.EventAnnotationDeleted, map[string]any{"key": key})
	}
}

// sweepExistingAnnotations runs once on join: every local annotation already
// on the session's document is pushed, check-before-create by natural key,
// so a second sweep (or a retried join) produces no duplicate rows.
func (e *Engine) sweepExistingAnnotations(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateActive || e.session == nil || e.member == nil {
		e.mu.Unlock()
		return
	}
	session := *e.session
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	for _, annotation := range e.store.AnnotationsForDocument(session.DocumentID) {
		_, exists, err := e.api.FindAnnotationByKey(ctx, session.ID, annotation.Key)
		if err != nil {
			commonlog.Warnf("sweep lookup key=%s session=%s: %v", annotation.Key, session.ID, err)
			continue
		}
		if exists {
			e.markSeen(annotation.Key)
			continue
		}
		created, err := e.api.CreateAnnotation(ctx, clientapi.CreateAnnotationInput{
			SessionID:  session.ID,
			DocumentID: session.DocumentID,
			Payload:    payloadFromLocal(annotation),
			PageNumber: annotation.PageNumber,
			Visibility: domain.VisibilityPublic,
		})
		if err != nil {
			commonlog.Warnf("sweep push key=%s session=%s: %v", annotation.Key, session.ID, err)
			continue
		}
		e.markSeen(created.Payload.Key)
	}
}

func payloadFromLocal(annotation localstore.LocalAnnotation) domain.AnnotationPayload {
	return domain.AnnotationPayload{
		Key:      annotation.Key,
		Type:     annotation.Type,
		Text:     annotation.Text,
		Comment:  annotation.Comment,
		Color:    annotation.Color,
		Position: annotation.Position,
		Tags:     annotation.Tags,
	}
}
