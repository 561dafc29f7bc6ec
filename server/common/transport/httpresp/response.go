package httpresp

const (
	ErrUnauthorized        = "unauthorized"
	ErrInvalidCredentials  = "invalid credentials"
	ErrMissingBearerToken  = "bearer token is required"
	ErrInvalidToken        = "invalid token"
	ErrForbidden           = "forbidden"
	ErrHostOnly            = "only the session host may do this"
	ErrInvalidInviteCode   = "invalid invite code"
	ErrSessionFull         = "session is full"
	ErrSessionEnded        = "session has ended"
	ErrSessionNotFound     = "session not found"
	ErrAnnotationNotFound  = "annotation not found"
	ErrChatMessageNotFound = "chat message not found"
	ErrNotASessionMember   = "not a member of this session"
	ErrCreatedAfterRFC3339 = "created_after must use RFC3339 format"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewIDResponse(id string) IDResponse {
	return IDResponse{ID: id}
}

func NewTokenResponse(accessToken, userID, email, name string) TokenResponse {
	return TokenResponse{AccessToken: accessToken, UserID: userID, Email: email, Name: name}
}
