package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/canopy-portal/internal/handler"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
)

const DefaultClientCookie = "portal_client"

type SessionStorageConfig struct {
	// Shared keeps session blobs server side, scoped per client by a random
	// id cookie. When nil the encrypted blobs live in cookies.
	Shared       session.Storage
	Cookie       session.CookieOptions
	ClientCookie string
	ClientTTL    time.Duration
}

// SessionStorage selects the session storage of each request.
func SessionStorage(cfg SessionStorageConfig) gin.HandlerFunc {
	if cfg.ClientCookie == "" {
		cfg.ClientCookie = DefaultClientCookie
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}

	return func(c *gin.Context) {
		var st session.Storage
		if cfg.Shared == nil {
			st = session.NewCookieStorage(c.Writer, c.Request, cfg.Cookie)
		} else {
			st = session.NewScopedStorage(cfg.Shared, clientID(c, cfg))
		}
		c.Set(handler.ContextSessionStorage, st)
		c.Next()
	}
}

func clientID(c *gin.Context, cfg SessionStorageConfig) string {
	if ck, err := c.Request.Cookie(cfg.ClientCookie); err == nil {
		if _, err := uuid.Parse(ck.Value); err == nil {
			return ck.Value
		}
	}

	id := uuid.New().String()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.ClientCookie,
		Value:    id,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		MaxAge:   int(cfg.ClientTTL.Seconds()),
		Secure:   cfg.Cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

type SessionValidator interface {
	Validate(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error)
}

// RequireSession loads and re-validates a session of one of kinds, tried in
// order. Expired or deactivated sessions are cleared by the validator and
// answered with the uniform session expired notice.
func RequireSession(v SessionValidator, kinds ...session.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := handler.SessionStorage(c)
		if st == nil {
			handler.RespondError(c, apperrors.SessionExpired())
			return
		}

		var failure error
		for _, kind := range kinds {
			sess, err := v.Validate(c, st, kind)
			if err == nil {
				c.Set(handler.ContextSession, sess)
				c.Next()
				return
			}
			if failure == nil || apperrors.Is(failure, apperrors.ErrSessionExpired) {
				failure = err
			}
		}
		if failure == nil {
			failure = apperrors.SessionExpired()
		}
		handler.RespondError(c, failure)
	}
}
