package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
)

type Response struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Error   *apperrors.Notice `json:"error,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewMessageResponse(message string, data interface{}) *Response {
	return &Response{
		Status:  "success",
		Message: message,
		Data:    data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// NewNoticeResponse wraps err in the error envelope with its user notice.
func NewNoticeResponse(err error) *Response {
	n := apperrors.NoticeFor(err)
	return &Response{
		Status:  "error",
		Message: n.Message,
		Error:   &n,
	}
}

// RespondError records err on the context for the error logger and writes
// the notice with the status mapped from its code.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), NewNoticeResponse(err))
}

// BindError is the response for a request body that could not be decoded.
func BindError(c *gin.Context, err error) {
	RespondError(c, apperrors.BadRequest("The request body is invalid.", err))
}

// Context keys shared by middleware and handlers.
const (
	ContextSessionStorage = "session_storage"
	ContextSession        = "session"
)

// SessionStorage returns the storage selected for this request.
func SessionStorage(c *gin.Context) session.Storage {
	if v, ok := c.Get(ContextSessionStorage); ok {
		if st, ok := v.(session.Storage); ok {
			return st
		}
	}
	return nil
}

// CurrentSession returns the session loaded by RequireSession.
func CurrentSession(c *gin.Context) *session.Session {
	if v, ok := c.Get(ContextSession); ok {
		if s, ok := v.(*session.Session); ok {
			return s
		}
	}
	return nil
}

// SessionView is the JSON shape of a session with its remaining time.
type SessionView struct {
	SubjectID   string       `json:"subject_id"`
	Kind        session.Kind `json:"kind"`
	Role        session.Role `json:"role,omitempty"`
	Email       string       `json:"email"`
	DisplayName string       `json:"display_name"`
	IssuedAt    int64        `json:"issued_at"`
	ExpiresAt   int64        `json:"expires_at,omitempty"`
	RemainingMS int64        `json:"remaining_ms,omitempty"`
	Remaining   string       `json:"remaining,omitempty"`
}

func NewSessionView(s *session.Session, now time.Time) SessionView {
	v := SessionView{
		SubjectID:   s.SubjectID,
		Kind:        s.Kind,
		Role:        s.Role,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		IssuedAt:    s.IssuedAt,
		ExpiresAt:   s.ExpiresAt,
	}
	if s.HasExpiry() {
		rem := s.Remaining(now)
		v.RemainingMS = rem.Milliseconds()
		v.Remaining = session.FormatRemaining(rem)
	}
	return v
}
