package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoticeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Notice
	}{
		{"validation", Validation("Passwords do not match."), Notice{Title: "Please check your input", Message: "Passwords do not match."}},
		{"wrapped transient", fmt.Errorf("submit: %w", Transient(stderrors.New("dial tcp"))), Notice{Title: "Connection problem", Message: MsgTryAgain}},
		{"deactivated looks like expiry", Deactivated(nil), Notice{Title: "Session expired", Message: MsgSessionExpired}},
		{"internal hides detail", Internal(stderrors.New("pq: relation missing")), Notice{Title: "Error", Message: MsgTryAgain}},
		{"plain error", stderrors.New("boom"), Notice{Title: "Error", Message: MsgTryAgain}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NoticeFor(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("x")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(SessionExpired()))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Authorization(MsgInvalidCredentials, nil)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(Transient(nil)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("busy")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("x")))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Deactivated(stderrors.New("inactive")))
	assert.True(t, Is(err, ErrDeactivated))
	assert.False(t, Is(err, ErrSessionExpired))
	assert.False(t, Is(nil, ErrInternal))
}
