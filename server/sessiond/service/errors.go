package service

import (
	"errors"

	"readsync/server/common/transport/httpresp"
)

// Sentinels the API layer maps onto 4xx responses. The messages double as
// the wire-visible error strings, so the client can match them back to its
// own taxonomy.
var (
	ErrInvalidInviteCode  = errors.New(httpresp.ErrInvalidInviteCode)
	ErrSessionFull        = errors.New(httpresp.ErrSessionFull)
	ErrSessionEnded       = errors.New(httpresp.ErrSessionEnded)
	ErrSessionNotFound    = errors.New(httpresp.ErrSessionNotFound)
	ErrAnnotationNotFound = errors.New(httpresp.ErrAnnotationNotFound)
	ErrChatNotFound       = errors.New(httpresp.ErrChatMessageNotFound)
	ErrNotMember          = errors.New(httpresp.ErrNotASessionMember)
	ErrHostOnly           = errors.New(httpresp.ErrHostOnly)
	ErrInvalidCredentials = errors.New(httpresp.ErrInvalidCredentials)
)
