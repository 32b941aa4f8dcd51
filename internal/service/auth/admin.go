package auth

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/service/audit"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
	"github.com/jwalitptl/canopy-portal/pkg/security"
	"github.com/jwalitptl/canopy-portal/pkg/validator"
)

type CreateAdminRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name" validate:"required,max=120"`
	Role     string `json:"role" validate:"required,oneof=super_admin content_admin moderator"`
}

type AdminUser struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	FullName string       `json:"full_name"`
	Role     session.Role `json:"role"`
}

type AdminService struct {
	sessions *Sessions
	backend  repository.RPCCaller
	policy   security.PasswordPolicy
	flow
}

func NewAdminService(
	sessions *Sessions,
	backend repository.RPCCaller,
	policy security.PasswordPolicy,
	auditor *audit.Service,
	notifier notify.Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *AdminService {
	return &AdminService{
		sessions: sessions,
		backend:  backend,
		policy:   policy,
		flow:     flow{auditor: auditor, notifier: notifier, metrics: m, logger: log},
	}
}

// Login checks the credentials locally, then against the backend. Unknown
// email, wrong password and inactive account all produce the same error.
func (s *AdminService) Login(ctx context.Context, st session.Storage, email, password string) (*session.Session, error) {
	email = strings.TrimSpace(email)
	if !validator.IsEmail(email) {
		return nil, apperrors.Validation("Please enter a valid email address.")
	}
	if password == "" {
		return nil, apperrors.Validation("Please enter your password.")
	}

	m, err := s.sessions.Manager(session.KindAdmin, st)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	raw, err := s.backend.CallRPC(ctx, repository.RPCVerifyAdminLogin, map[string]interface{}{
		"p_email":    email,
		"p_password": password,
	})
	return s.complete(ctx, m, email, classify(session.KindAdmin, raw, err), apperrors.MsgInvalidCredentials)
}

func (s *AdminService) Session(ctx context.Context, st session.Storage) (*session.Session, error) {
	return s.sessions.Get(ctx, st, session.KindAdmin)
}

func (s *AdminService) Validate(ctx context.Context, st session.Storage) (*session.Session, error) {
	return s.sessions.Validate(ctx, st, session.KindAdmin)
}

func (s *AdminService) Logout(ctx context.Context, st session.Storage) {
	s.sessions.Logout(ctx, st, session.KindAdmin)
}

// CreateAdmin registers another console user. Only super admins may call it.
func (s *AdminService) CreateAdmin(ctx context.Context, st session.Storage, req CreateAdminRequest) (*AdminUser, error) {
	actor, err := s.Validate(ctx, st)
	if err != nil {
		return nil, err
	}
	if actor.Role != session.RoleSuperAdmin {
		return nil, apperrors.Forbidden("Only super admins can create admin users.")
	}

	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validator.Struct(req); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if res := s.policy.Evaluate(req.Password); !res.Valid {
		return nil, apperrors.Validation(unmetMessage(s.policy, res.Unmet))
	}

	raw, err := s.backend.CallRPC(ctx, repository.RPCCreateAdminUser, map[string]interface{}{
		"p_email":     req.Email,
		"p_password":  req.Password,
		"p_full_name": req.FullName,
		"p_role":      req.Role,
	})
	if err != nil {
		switch {
		case repository.IsRemote(err):
			return nil, apperrors.Conflict("An admin with this email already exists.")
		case repository.IsTransient(err):
			return nil, apperrors.Transient(err)
		}
		return nil, apperrors.Internal(err)
	}

	var rows []AdminUser
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return nil, apperrors.Internal(err)
	}
	created := rows[0]

	_ = s.auditor.Log(ctx, actor.SubjectID, string(session.KindAdmin), audit.ActionAdminCreated, &audit.LogOptions{
		Metadata: map[string]interface{}{"admin_id": created.ID, "role": created.Role},
	})
	return &created, nil
}

func unmetMessage(p security.PasswordPolicy, unmet []security.Requirement) string {
	parts := make([]string, 0, len(unmet))
	for _, r := range unmet {
		parts = append(parts, r.Description(p))
	}
	return "Password must contain " + strings.Join(parts, ", ") + "."
}
