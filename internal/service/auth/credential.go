package auth

import (
	"context"
	"time"

	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/service/audit"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/security"
)

// Identity names the row whose password changes.
type Identity struct {
	Table string
	ID    string
}

// IdentityOf maps a session to the table holding its password. Planters have
// no password.
func IdentityOf(s *session.Session) (Identity, bool) {
	switch s.Kind {
	case session.KindAdmin, session.KindOrganization:
		return Identity{Table: s.Kind.Table(), ID: s.SubjectID}, true
	}
	return Identity{}, false
}

type CredentialService struct {
	backend  repository.RPCCaller
	policy   security.PasswordPolicy
	auditor  *audit.Service
	notifier notify.Notifier
	logger   *logger.Logger
}

func NewCredentialService(
	backend repository.RPCCaller,
	policy security.PasswordPolicy,
	auditor *audit.Service,
	notifier notify.Notifier,
	log *logger.Logger,
) *CredentialService {
	return &CredentialService{
		backend:  backend,
		policy:   policy,
		auditor:  auditor,
		notifier: notifier,
		logger:   log,
	}
}

// Policy exposes the password policy for live feedback.
func (s *CredentialService) Policy() security.PasswordPolicy {
	return s.policy
}

// UpdatePassword stops at the first local failure, in this order: empty
// fields, confirmation mismatch, unmet policy, unchanged password. Only then
// is the backend asked to verify the old password and store the new one. No
// session is issued or touched.
func (s *CredentialService) UpdatePassword(ctx context.Context, id Identity, oldPassword, newPassword, confirm string) error {
	switch {
	case oldPassword == "" || newPassword == "" || confirm == "":
		return apperrors.Validation("Please fill in all password fields.")
	case newPassword != confirm:
		return apperrors.Validation("The new passwords do not match.")
	}
	if res := s.policy.Evaluate(newPassword); !res.Valid {
		return apperrors.Validation(unmetMessage(s.policy, res.Unmet))
	}
	if newPassword == oldPassword {
		return apperrors.Validation("The new password must be different from the current one.")
	}

	_, err := s.backend.CallRPC(ctx, repository.RPCUpdatePasswordByOldNew, map[string]interface{}{
		"p_table":        id.Table,
		"p_id":           id.ID,
		"p_old_password": oldPassword,
		"p_new_password": newPassword,
	})
	if err != nil {
		switch {
		case repository.IsRemote(err):
			return apperrors.Authorization("The current password is incorrect.", err)
		case repository.IsTransient(err):
			return apperrors.Transient(err)
		}
		s.logger.Error(err, "password update failed", "table", id.Table)
		return apperrors.Internal(err)
	}

	_ = s.auditor.Log(ctx, id.ID, id.Table, audit.ActionPasswordChanged, nil)
	s.notifier.Notify(ctx, notify.Notice{
		Kind:    notify.KindPasswordSaved,
		Title:   "Password updated",
		Message: "Your password has been changed.",
		Time:    time.Now(),
	})
	return nil
}
