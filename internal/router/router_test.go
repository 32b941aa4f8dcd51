package router

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/canopy-portal/internal/email"
	"github.com/jwalitptl/canopy-portal/internal/form/volunteer"
	authHandler "github.com/jwalitptl/canopy-portal/internal/handler/auth"
	formsHandler "github.com/jwalitptl/canopy-portal/internal/handler/forms"
	"github.com/jwalitptl/canopy-portal/internal/handler/health"
	"github.com/jwalitptl/canopy-portal/internal/middleware"
	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/repository/memory"
	"github.com/jwalitptl/canopy-portal/internal/service/audit"
	authService "github.com/jwalitptl/canopy-portal/internal/service/auth"
	formsService "github.com/jwalitptl/canopy-portal/internal/service/forms"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
	"github.com/jwalitptl/canopy-portal/pkg/security"
)

const adminPassword = "Canopy#Trees2024"

type apiResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Error   *apperrors.Notice `json:"error"`
	code    int
}

func (r apiResponse) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

type portal struct {
	server  *httptest.Server
	client  *http.Client
	backend *memory.Backend
	notices *notify.Recorder
	window  time.Duration
}

func newPortal(t *testing.T, window time.Duration, shared session.Storage) *portal {
	t.Helper()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	codec, err := session.NewAEADCodec(key)
	require.NoError(t, err)

	p := &portal{
		backend: memory.NewBackend(security.NewBcryptHasher(4)),
		notices: &notify.Recorder{},
		window:  window,
	}
	log := logger.Nop()
	m := metrics.NewMetrics("test")
	auditor := audit.NewService(p.backend, log)

	newManager := func(kind session.Kind, w time.Duration) *session.Manager {
		return session.NewManager(kind, session.ManagerOptions{
			Window: w,
			Codec:  codec,
			OnEnd:  authService.EndHook(kind, auditor, m, p.notices),
		})
	}
	sessions := authService.NewSessions(p.backend, log,
		newManager(session.KindAdmin, window),
		newManager(session.KindOrganization, 0),
		newManager(session.KindPlanter, 0),
	)
	policy := security.DefaultPasswordPolicy()
	admin := authService.NewAdminService(sessions, p.backend, policy, auditor, p.notices, m, log)
	lookup := authService.NewLookupService(sessions, p.backend, auditor, p.notices, m, log)
	creds := authService.NewCredentialService(p.backend, policy, auditor, p.notices, log)

	forms := formsService.NewService(p.backend, p.notices, email.NewNopService(), m, log, formsService.Config{})
	forms.Register(volunteer.Name, volunteer.Schema)

	r := NewRouter(
		health.NewHandler(m.Registry(), health.Check{Name: "backend", Pinger: p.backend}),
		authHandler.NewHandler(admin, lookup, creds, sessions, nil, 20*time.Millisecond),
		formsHandler.NewHandler(forms),
		m,
		RouterConfig{
			CORSConfig:     middleware.DefaultCORSConfig("http://portal.example.org"),
			SecurityConfig: middleware.DefaultSecurityConfig(false),
			SizeLimit:      middleware.DefaultSizeLimitConfig(),
			SessionStorage: middleware.SessionStorageConfig{Shared: shared},
		},
	)
	r.Setup()

	p.server = httptest.NewServer(r.Engine())
	t.Cleanup(p.server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	p.client = &http.Client{Jar: jar, Timeout: 5 * time.Second}
	return p
}

func (p *portal) do(t *testing.T, method, path string, body interface{}) apiResponse {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, p.server.URL+"/api/v1"+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{code: resp.StatusCode}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return out
}

func TestAdminSessionFlow(t *testing.T) {
	for name, shared := range map[string]session.Storage{
		"cookie": nil,
		"memory": session.NewMemoryStorage(time.Minute),
	} {
		t.Run(name, func(t *testing.T) {
			p := newPortal(t, 10*time.Minute, shared)
			id, err := p.backend.AddAdmin("asha@canopy.org", adminPassword, "Asha Rao", "super_admin")
			require.NoError(t, err)

			resp := p.do(t, http.MethodGet, "/auth/admin/session", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, apperrors.MsgSessionExpired, resp.Error.Message)

			resp = p.do(t, http.MethodPost, "/auth/admin/login", map[string]string{
				"email": "asha@canopy.org", "password": adminPassword,
			})
			require.Equal(t, http.StatusOK, resp.code, resp.Message)
			var view struct {
				SubjectID   string `json:"subject_id"`
				Role        string `json:"role"`
				RemainingMS int64  `json:"remaining_ms"`
				Remaining   string `json:"remaining"`
			}
			resp.decode(t, &view)
			assert.Equal(t, id, view.SubjectID)
			assert.Equal(t, "super_admin", view.Role)
			assert.InDelta(t, (10 * time.Minute).Milliseconds(), view.RemainingMS, 5000)

			resp = p.do(t, http.MethodGet, "/auth/admin/session", nil)
			assert.Equal(t, http.StatusOK, resp.code)

			resp = p.do(t, http.MethodPost, "/auth/admin/logout", nil)
			assert.Equal(t, http.StatusOK, resp.code)

			resp = p.do(t, http.MethodGet, "/auth/admin/session", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.code)
		})
	}
}

func TestAdminLogin_UniformFailure(t *testing.T) {
	p := newPortal(t, 10*time.Minute, nil)
	_, err := p.backend.AddAdmin("asha@canopy.org", adminPassword, "Asha Rao", "super_admin")
	require.NoError(t, err)

	wrong := p.do(t, http.MethodPost, "/auth/admin/login", map[string]string{"email": "asha@canopy.org", "password": "nope"})
	unknown := p.do(t, http.MethodPost, "/auth/admin/login", map[string]string{"email": "ghost@canopy.org", "password": adminPassword})

	for _, resp := range []apiResponse{wrong, unknown} {
		assert.Equal(t, http.StatusUnauthorized, resp.code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, apperrors.MsgInvalidCredentials, resp.Error.Message)
	}
	assert.Equal(t, *wrong.Error, *unknown.Error)
}

func TestAdminSession_Deactivated(t *testing.T) {
	p := newPortal(t, 10*time.Minute, nil)
	id, err := p.backend.AddAdmin("asha@canopy.org", adminPassword, "Asha Rao", "super_admin")
	require.NoError(t, err)

	resp := p.do(t, http.MethodPost, "/auth/admin/login", map[string]string{"email": "asha@canopy.org", "password": adminPassword})
	require.Equal(t, http.StatusOK, resp.code)

	p.backend.SetActive(repository.TableAdminUsers, id, false)

	resp = p.do(t, http.MethodGet, "/auth/admin/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	// The session was cleared, so the next read reports it as ended.
	resp = p.do(t, http.MethodGet, "/auth/admin/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.MsgSessionExpired, resp.Error.Message)
}

// A sub-second window still reaches the countdown, since the session cookie
// outlives it. After the stream the ending is recorded and the session is gone.
func TestAdminCountdown_StreamsUntilExpiry(t *testing.T) {
	for name, shared := range map[string]session.Storage{
		"cookie": nil,
		"memory": session.NewMemoryStorage(time.Minute),
	} {
		t.Run(name, func(t *testing.T) {
			p := newPortal(t, 300*time.Millisecond, shared)
			_, err := p.backend.AddAdmin("asha@canopy.org", adminPassword, "Asha Rao", "super_admin")
			require.NoError(t, err)

			resp := p.do(t, http.MethodPost, "/auth/admin/login", map[string]string{"email": "asha@canopy.org", "password": adminPassword})
			require.Equal(t, http.StatusOK, resp.code)

			stream, err := p.client.Get(p.server.URL + "/api/v1/auth/admin/countdown")
			require.NoError(t, err)
			defer stream.Body.Close()
			assert.Equal(t, http.StatusOK, stream.StatusCode)
			assert.Contains(t, stream.Header.Get("Content-Type"), "text/event-stream")

			var ticks []string
			sc := bufio.NewScanner(stream.Body)
			for sc.Scan() {
				if line := sc.Text(); strings.HasPrefix(line, "data:") {
					ticks = append(ticks, line)
				}
			}
			require.NotEmpty(t, ticks)
			assert.Contains(t, ticks[len(ticks)-1], `"expired":true`)

			resp = p.do(t, http.MethodGet, "/auth/admin/session", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.code)
			assert.GreaterOrEqual(t, p.notices.Count(notify.KindSessionEnded), 1)
		})
	}
}

func TestOrganizationLogin(t *testing.T) {
	p := newPortal(t, 10*time.Minute, nil)
	_, err := p.backend.AddOrganization("roots@canopy.org", "Green Roots", "", true)
	require.NoError(t, err)
	_, err = p.backend.AddOrganization("pending@canopy.org", "Pending Trust", "", false)
	require.NoError(t, err)

	resp := p.do(t, http.MethodPost, "/auth/organization/login", map[string]string{"email": "pending@canopy.org"})
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.MsgEmailNotApproved, resp.Error.Message)

	resp = p.do(t, http.MethodPost, "/auth/organization/login", map[string]string{"email": "Roots@Canopy.org"})
	require.Equal(t, http.StatusOK, resp.code)
	var view struct {
		DisplayName string `json:"display_name"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	resp.decode(t, &view)
	assert.Equal(t, "Green Roots", view.DisplayName)
	assert.Zero(t, view.ExpiresAt)

	// An organization session does not open admin routes.
	resp = p.do(t, http.MethodGet, "/auth/admin/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	resp = p.do(t, http.MethodGet, "/auth/organization/session", nil)
	assert.Equal(t, http.StatusOK, resp.code)
}

func TestVolunteerFormFlow(t *testing.T) {
	p := newPortal(t, 10*time.Minute, nil)

	resp := p.do(t, http.MethodGet, "/forms/volunteer/schema", nil)
	require.Equal(t, http.StatusOK, resp.code)

	resp = p.do(t, http.MethodPost, "/forms/volunteer", nil)
	require.Equal(t, http.StatusCreated, resp.code)
	var state struct {
		FormID      string `json:"form_id"`
		CurrentStep int    `json:"current_step"`
	}
	resp.decode(t, &state)
	require.NotEmpty(t, state.FormID)
	base := "/forms/volunteer/" + state.FormID

	resp = p.do(t, http.MethodPost, base+"/next", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.code)
	assert.Contains(t, resp.Message, "full_name")

	steps := []map[string]interface{}{
		{"full_name": "Ravi Kumar", "email": "ravi@example.org", "phone": "+911234567890", "date_of_birth": "1990-04-12", "district": "Pune"},
		{"availability": "weekends", "hours_per_month": 8},
		{"consent_contact": true, "consent_safety": true},
	}
	for i, fields := range steps {
		resp = p.do(t, http.MethodPatch, base+"/fields", fields)
		require.Equal(t, http.StatusOK, resp.code, resp.Message)
		if i < len(steps)-1 {
			resp = p.do(t, http.MethodPost, base+"/next", nil)
			require.Equal(t, http.StatusOK, resp.code, resp.Message)
		}
	}

	resp = p.do(t, http.MethodPost, base+"/previous", nil)
	require.Equal(t, http.StatusOK, resp.code)
	resp.decode(t, &state)
	assert.Equal(t, 2, state.CurrentStep)

	resp = p.do(t, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)

	resp = p.do(t, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusOK, resp.code)

	resp = p.do(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusCreated, resp.code, resp.Message)

	rows := p.backend.Records(repository.TableVolunteers)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ravi Kumar", rows[0]["full_name"])

	resp = p.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.code)
}

func TestForms_UnknownKind(t *testing.T) {
	p := newPortal(t, 10*time.Minute, nil)
	resp := p.do(t, http.MethodPost, "/forms/orchard", nil)
	assert.Equal(t, http.StatusNotFound, resp.code)
}

func TestHealthAndHeaders(t *testing.T) {
	p := newPortal(t, 10*time.Minute, nil)

	resp, err := p.client.Get(p.server.URL + "/api/v1/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1.0", resp.Header.Get("X-API-Version"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = p.client.Post(p.server.URL+"/api/v1/auth/password/check", "application/json", strings.NewReader(`{"password":"abc"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	resp, err = p.client.Get(p.server.URL + "/api/v1/health/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
