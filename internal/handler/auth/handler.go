package auth

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/canopy-portal/internal/handler"
	"github.com/jwalitptl/canopy-portal/internal/middleware"
	"github.com/jwalitptl/canopy-portal/internal/service/auth"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
)

type Handler struct {
	admin    *auth.AdminService
	lookup   *auth.LookupService
	creds    *auth.CredentialService
	sessions *auth.Sessions
	limiter  gin.HandlerFunc
	interval time.Duration
}

// NewHandler wires the auth routes. limiter guards the login routes; the
// countdown stream ticks every interval.
func NewHandler(
	admin *auth.AdminService,
	lookup *auth.LookupService,
	creds *auth.CredentialService,
	sessions *auth.Sessions,
	limiter gin.HandlerFunc,
	interval time.Duration,
) *Handler {
	if limiter == nil {
		limiter = func(c *gin.Context) { c.Next() }
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{
		admin:    admin,
		lookup:   lookup,
		creds:    creds,
		sessions: sessions,
		limiter:  limiter,
		interval: interval,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	a := r.Group("/auth")
	{
		admin := a.Group("/admin")
		admin.POST("/login", h.limiter, h.AdminLogin)
		admin.GET("/session", middleware.RequireSession(h.sessions, session.KindAdmin), h.GetSession)
		admin.GET("/countdown", h.Countdown)
		admin.POST("/logout", h.logout(session.KindAdmin))
		admin.POST("/users", h.CreateAdmin)

		a.POST("/password/check", h.CheckPassword)
		a.POST("/password",
			middleware.RequireSession(h.sessions, session.KindAdmin, session.KindOrganization),
			h.UpdatePassword)

		for _, kind := range []session.Kind{session.KindOrganization, session.KindPlanter} {
			g := a.Group("/" + string(kind))
			g.POST("/login", h.limiter, h.lookupLogin(kind))
			g.GET("/session", middleware.RequireSession(h.sessions, kind), h.GetSession)
			g.POST("/logout", h.logout(kind))
		}
	}
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	sess, err := h.admin.Login(c, handler.SessionStorage(c), req.Email, req.Password)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(handler.NewSessionView(sess, h.sessions.Now(session.KindAdmin))))
}

type emailLoginRequest struct {
	Email string `json:"email"`
}

func (h *Handler) lookupLogin(kind session.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req emailLoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			handler.BindError(c, err)
			return
		}

		sess, err := h.lookup.LoginByEmail(c, handler.SessionStorage(c), kind, req.Email)
		if err != nil {
			handler.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(handler.NewSessionView(sess, h.sessions.Now(kind))))
	}
}

// GetSession renders the session loaded by RequireSession.
func (h *Handler) GetSession(c *gin.Context) {
	sess := handler.CurrentSession(c)
	if sess == nil {
		handler.RespondError(c, apperrors.SessionExpired())
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(handler.NewSessionView(sess, h.sessions.Now(sess.Kind))))
}

func (h *Handler) logout(kind session.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.sessions.Logout(c, handler.SessionStorage(c), kind)
		c.JSON(http.StatusOK, handler.NewMessageResponse("You have been signed out.", nil))
	}
}

// Countdown streams the admin session's remaining time as server-sent
// events, one "tick" per interval, ending with the zero tick.
func (h *Handler) Countdown(c *gin.Context) {
	st := handler.SessionStorage(c)
	ticks, err := h.sessions.Countdown(c.Request.Context(), st, session.KindAdmin, h.interval)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	expired := false
	c.Stream(func(w io.Writer) bool {
		tick, ok := <-ticks
		if !ok {
			return false
		}
		c.SSEvent("tick", tick)
		expired = tick.Expired
		return !tick.Expired
	})
	if expired {
		// The stream has flushed its headers, so a cookie-backed slot cannot
		// be cleared here. The read records the ending and empties shared
		// storage; the stale cookie is cleared by the client's next request.
		_, _ = h.admin.Session(c, st)
	}
}

func (h *Handler) CreateAdmin(c *gin.Context) {
	var req auth.CreateAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	user, err := h.admin.CreateAdmin(c, handler.SessionStorage(c), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(user))
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *Handler) UpdatePassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	id, ok := auth.IdentityOf(handler.CurrentSession(c))
	if !ok {
		handler.RespondError(c, apperrors.Forbidden("This account has no password."))
		return
	}
	if err := h.creds.UpdatePassword(c, id, req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("Your password has been changed.", nil))
}

type checkPasswordRequest struct {
	Password string `json:"password"`
}

// CheckPassword evaluates a candidate password against the policy without
// storing anything.
func (h *Handler) CheckPassword(c *gin.Context) {
	var req checkPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.creds.Policy().Evaluate(req.Password)))
}
