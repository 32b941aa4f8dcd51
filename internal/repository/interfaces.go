package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RPC names understood by every backend.
const (
	RPCCreateAdminUser           = "create_admin_user"
	RPCVerifyAdminLogin          = "verify_admin_login"
	RPCUpdatePasswordByOldNew    = "update_password_by_old_new"
	RPCVerifyOrgLoginByEmail     = "verify_org_login_by_email"
	RPCVerifyPlanterLoginByEmail = "verify_planter_login_by_email"
)

// Tables the core writes to or re-validates against.
const (
	TableAdminUsers       = "admin_users"
	TableOrganizations    = "organizations"
	TablePlanters         = "planters"
	TableTreeApplications = "tree_campaign_applications"
	TableVolunteers       = "volunteer_applications"
	TableAuditLogs        = "audit_logs"
)

// ErrTransient marks a backend call that failed before the backend could
// answer (connectivity, timeout, open circuit). Callers may retry.
var ErrTransient = errors.New("backend unavailable")

// RemoteError is an explicit rejection from the backend, for example an RPC
// that raised because the old password did not match.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// IsRemote reports whether err is an explicit backend rejection.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Transient wraps err so that IsTransient reports true.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

type (
	// Inserter creates one record and returns its id.
	Inserter interface {
		InsertRecord(ctx context.Context, table string, fields map[string]interface{}) (string, error)
	}

	// RPCCaller invokes a named backend procedure. The result is a JSON array of rows.
	RPCCaller interface {
		CallRPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
	}

	// ActiveLookup fetches a subject by id only if its active flag is set.
	// It returns nil, nil when no active subject exists.
	ActiveLookup interface {
		QueryActiveByID(ctx context.Context, table, id string) (json.RawMessage, error)
	}

	// Backend is the persistence collaborator the core depends on.
	Backend interface {
		Inserter
		RPCCaller
		ActiveLookup
		Ping(ctx context.Context) error
	}
)

// AuditPruner deletes audit rows created before a cutoff and reports how
// many were removed.
type AuditPruner interface {
	PruneAuditLogs(ctx context.Context, before time.Time) (int64, error)
}
