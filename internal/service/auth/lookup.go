package auth

import (
	"context"
	"strings"

	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/service/audit"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
	"github.com/jwalitptl/canopy-portal/pkg/validator"
)

// LookupService signs organizations and planters in by email alone. No
// secret is exchanged: the backend's approval check is the only gate, and
// the resulting sessions have no expiry.
type LookupService struct {
	sessions *Sessions
	backend  repository.RPCCaller
	flow
}

func NewLookupService(
	sessions *Sessions,
	backend repository.RPCCaller,
	auditor *audit.Service,
	notifier notify.Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *LookupService {
	return &LookupService{
		sessions: sessions,
		backend:  backend,
		flow:     flow{auditor: auditor, notifier: notifier, metrics: m, logger: log},
	}
}

func lookupRPC(kind session.Kind) (string, bool) {
	switch kind {
	case session.KindOrganization:
		return repository.RPCVerifyOrgLoginByEmail, true
	case session.KindPlanter:
		return repository.RPCVerifyPlanterLoginByEmail, true
	}
	return "", false
}

func (s *LookupService) LoginByEmail(ctx context.Context, st session.Storage, kind session.Kind, email string) (*session.Session, error) {
	rpc, ok := lookupRPC(kind)
	if !ok {
		return nil, apperrors.NotFound("session kind", ErrUnknownKind)
	}
	email = strings.TrimSpace(email)
	if !validator.IsEmail(email) {
		return nil, apperrors.Validation("Please enter a valid email address.")
	}

	m, err := s.sessions.Manager(kind, st)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	raw, err := s.backend.CallRPC(ctx, rpc, map[string]interface{}{"p_email": email})
	return s.complete(ctx, m, email, classify(kind, raw, err), apperrors.MsgEmailNotApproved)
}

func (s *LookupService) Session(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error) {
	return s.sessions.Get(ctx, st, kind)
}

func (s *LookupService) Validate(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error) {
	return s.sessions.Validate(ctx, st, kind)
}

func (s *LookupService) Logout(ctx context.Context, st session.Storage, kind session.Kind) {
	s.sessions.Logout(ctx, st, kind)
}
