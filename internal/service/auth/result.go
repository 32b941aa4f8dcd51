package auth

import (
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/session"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeInactive  Outcome = "inactive"
	OutcomeTransient Outcome = "transient_error"
)

// LoginResult is the classified answer of a login RPC. Profile is set only
// on success; Err only for transient failures.
type LoginResult struct {
	Outcome Outcome
	Profile session.Profile
	Err     error
}

func Success(p session.Profile) LoginResult { return LoginResult{Outcome: OutcomeSuccess, Profile: p} }

func NotFound() LoginResult { return LoginResult{Outcome: OutcomeNotFound} }

func Inactive() LoginResult { return LoginResult{Outcome: OutcomeInactive} }

func TransientError(err error) LoginResult { return LoginResult{Outcome: OutcomeTransient, Err: err} }

// subjectRow covers the columns returned by the three login RPCs.
type subjectRow struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FullName         string `json:"full_name"`
	OrganizationName string `json:"organization_name"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	Status           string `json:"status"`
	IsActive         *bool  `json:"is_active"`
}

// classify turns an RPC answer into a LoginResult. An empty result set and
// an explicit backend rejection both mean no matching subject.
func classify(kind session.Kind, raw json.RawMessage, err error) LoginResult {
	if err != nil {
		if repository.IsRemote(err) {
			return NotFound()
		}
		return TransientError(err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return TransientError(fmt.Errorf("decode login rows: %w", err))
	}
	if len(rows) == 0 {
		return NotFound()
	}

	var row subjectRow
	if err := json.Unmarshal(rows[0], &row); err != nil || row.ID == "" {
		return TransientError(fmt.Errorf("decode login row: %v", err))
	}
	if row.IsActive != nil && !*row.IsActive {
		return Inactive()
	}

	p := session.Profile{
		SubjectID: row.ID,
		Email:     row.Email,
		Raw:       append(json.RawMessage(nil), rows[0]...),
	}
	switch kind {
	case session.KindAdmin:
		role, err := session.ParseRole(row.Role)
		if err != nil {
			return Inactive()
		}
		p.Role = role
		p.DisplayName = row.FullName
	case session.KindOrganization:
		if row.Status != "" && row.Status != "approved" {
			return Inactive()
		}
		p.DisplayName = row.OrganizationName
	default:
		p.DisplayName = row.Name
	}
	return Success(p)
}
