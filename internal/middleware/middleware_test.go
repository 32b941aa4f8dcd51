package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/canopy-portal/internal/handler"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err)
	assert.Equal(t, w.Header().Get(HeaderXRequestID), w.Body.String())

	keep := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, keep)
	assert.Equal(t, keep, serve(r, req).Header().Get(HeaderXRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "<script>")
	assert.NotEqual(t, "<script>", serve(r, req).Header().Get(HeaderXRequestID))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig("https://portal.example.org")))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_NoOriginsConfigured(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}

func TestCORS_WildcardDropsCredentials(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig("*")))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	w := serve(r, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCache_KeepsCORSVary(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig("https://portal.example.org")), Cache(NoStoreConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	w := serve(r, req)
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	assert.Contains(t, w.Header().Values("Vary"), "Origin")
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxHeaderSize: 1 << 14, ErrorMessage: "too big"}))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"0123456789"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "too big")

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2})
	r := gin.New()
	r.POST("/login", rl.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	login := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":4321"
		return serve(r, req)
	}
	assert.Equal(t, http.StatusOK, login("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, login("10.0.0.1").Code)

	w := login("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Buckets are per client.
	assert.Equal(t, http.StatusOK, login("10.0.0.2").Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.MsgTryAgain)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestSessionStorage_SharedUsesClientCookie(t *testing.T) {
	shared := session.NewMemoryStorage(time.Minute)
	r := gin.New()
	r.Use(SessionStorage(SessionStorageConfig{Shared: shared, ClientTTL: time.Hour}))
	r.POST("/", func(c *gin.Context) {
		require.NoError(t, handler.SessionStorage(c).Set(c, "k", c.Query("v"), time.Minute))
		c.Status(http.StatusOK)
	})
	r.GET("/", func(c *gin.Context) {
		v, _, err := handler.SessionStorage(c).Get(c, "k")
		require.NoError(t, err)
		c.String(http.StatusOK, v)
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/?v=first", nil))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultClientCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, "first", serve(r, req).Body.String())

	// Another client sees nothing.
	assert.Empty(t, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String())
}

type validatorFunc func(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error)

func (f validatorFunc) Validate(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error) {
	return f(ctx, st, kind)
}

func TestRequireSession(t *testing.T) {
	v := validatorFunc(func(_ context.Context, _ session.Storage, kind session.Kind) (*session.Session, error) {
		switch kind {
		case session.KindOrganization:
			return &session.Session{SubjectID: "org-1", Kind: kind}, nil
		case session.KindPlanter:
			return nil, apperrors.Transient(assert.AnError)
		}
		return nil, apperrors.SessionExpired()
	})

	newEngine := func(kinds ...session.Kind) *gin.Engine {
		r := gin.New()
		r.Use(SessionStorage(SessionStorageConfig{Shared: session.NewMemoryStorage(time.Minute)}))
		r.GET("/", RequireSession(v, kinds...), func(c *gin.Context) {
			c.String(http.StatusOK, handler.CurrentSession(c).SubjectID)
		})
		return r
	}

	w := serve(newEngine(session.KindAdmin, session.KindOrganization), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "org-1", w.Body.String())

	w = serve(newEngine(session.KindAdmin), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.MsgSessionExpired)

	// A backend failure is reported over a plain missing session.
	w = serve(newEngine(session.KindAdmin, session.KindPlanter), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireSession_NoStorage(t *testing.T) {
	r := gin.New()
	r.GET("/", RequireSession(validatorFunc(func(context.Context, session.Storage, session.Kind) (*session.Session, error) {
		t.Fatal("validator must not run without storage")
		return nil, nil
	}), session.KindAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityConfig(true)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}
