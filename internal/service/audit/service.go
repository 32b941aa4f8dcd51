package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
)

// Actions recorded in audit_logs.
const (
	ActionLogin             = "login"
	ActionLoginFailed       = "login_failed"
	ActionLogout            = "logout"
	ActionSessionExpired    = "session_expired"
	ActionSessionDeactivate = "session_deactivated"
	ActionSessionMalformed  = "session_malformed"
	ActionPasswordChanged   = "password_changed"
	ActionAdminCreated      = "admin_created"
)

type Service struct {
	repo   repository.Inserter
	logger *logger.Logger
	now    func() time.Time
}

func NewService(repo repository.Inserter, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log, now: time.Now}
}

type LogOptions struct {
	Metadata  interface{}
	IPAddress string
	UserAgent string
}

// Log writes an audit entry to the log and to audit_logs. The insert is best
// effort: a failure is logged and returned but never blocks the caller's flow.
func (s *Service) Log(ctx context.Context, subjectID, kind, action string, opts *LogOptions) error {
	if opts == nil {
		opts = &LogOptions{}
	}

	// Get IP and User Agent from gin context if not provided in opts
	ipAddress := opts.IPAddress
	userAgent := opts.UserAgent
	if gc, ok := ctx.(*gin.Context); ok && ipAddress == "" {
		ipAddress = gc.ClientIP()
		userAgent = gc.GetHeader("User-Agent")
	}

	s.logger.Info("audit",
		"action", action,
		"kind", kind,
		"subject_id", subjectID,
		"ip", ipAddress,
	)

	row := map[string]interface{}{
		"action":       action,
		"subject_kind": kind,
		"ip_address":   ipAddress,
		"user_agent":   userAgent,
		"created_at":   s.now().UTC(),
	}
	if subjectID != "" {
		row["subject_id"] = subjectID
	}
	if opts.Metadata != nil {
		metadata, err := json.Marshal(opts.Metadata)
		if err != nil {
			return err
		}
		row["metadata"] = string(metadata)
	}

	if _, err := s.repo.InsertRecord(ctx, repository.TableAuditLogs, row); err != nil {
		s.logger.Error(err, "failed to write audit log", "action", action)
		return err
	}
	return nil
}
