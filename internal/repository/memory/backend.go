// Package memory is an in-process Backend used for local development and
// tests. It implements the same RPC contract as the PostgreSQL functions in
// migrations/.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/pkg/security"
)

type admin struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
	LoginCount   int    `json:"login_count"`
	passwordHash string
}

type organization struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	OrganizationName string `json:"organization_name"`
	Status           string `json:"status"`
	IsActive         bool   `json:"is_active"`
	ApplicationCount int    `json:"application_count"`
	passwordHash     string
}

type planter struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	IsActive     bool   `json:"is_active"`
	TreesPlanted int    `json:"trees_planted"`
}

// Backend keeps every table in memory behind one mutex.
type Backend struct {
	mu      sync.Mutex
	hasher  security.PasswordHasher
	admins  map[string]*admin
	orgs    map[string]*organization
	planter map[string]*planter
	records map[string][]map[string]interface{}

	// InsertHook, when set, runs before every insert; a non-nil error aborts it.
	InsertHook func(table string, fields map[string]interface{}) error
}

func NewBackend(hasher security.PasswordHasher) *Backend {
	return &Backend{
		hasher:  hasher,
		admins:  make(map[string]*admin),
		orgs:    make(map[string]*organization),
		planter: make(map[string]*planter),
		records: make(map[string][]map[string]interface{}),
	}
}

var _ repository.Backend = (*Backend)(nil)

func (b *Backend) Ping(context.Context) error { return nil }

// AddAdmin seeds an admin account.
func (b *Backend) AddAdmin(email, password, fullName, role string) (string, error) {
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a := &admin{
		ID:           uuid.NewString(),
		Email:        normalize(email),
		FullName:     fullName,
		Role:         role,
		IsActive:     true,
		passwordHash: hash,
	}
	b.admins[a.ID] = a
	return a.ID, nil
}

// AddOrganization seeds an organization. Only approved organizations can sign in.
func (b *Backend) AddOrganization(email, name, password string, approved bool) (string, error) {
	var hash string
	if password != "" {
		var err error
		if hash, err = b.hasher.Hash(password); err != nil {
			return "", err
		}
	}
	status := "pending"
	if approved {
		status = "approved"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &organization{
		ID:               uuid.NewString(),
		Email:            normalize(email),
		OrganizationName: name,
		Status:           status,
		IsActive:         true,
		passwordHash:     hash,
	}
	b.orgs[o.ID] = o
	return o.ID, nil
}

// AddPlanter seeds an individual planter.
func (b *Backend) AddPlanter(email, name string, treesPlanted int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &planter{
		ID:           uuid.NewString(),
		Email:        normalize(email),
		Name:         name,
		IsActive:     true,
		TreesPlanted: treesPlanted,
	}
	b.planter[p.ID] = p
	return p.ID
}

// SetActive flips the active flag of a seeded subject.
func (b *Backend) SetActive(table, id string, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch table {
	case repository.TableAdminUsers:
		if a, ok := b.admins[id]; ok {
			a.IsActive = active
		}
	case repository.TableOrganizations:
		if o, ok := b.orgs[id]; ok {
			o.IsActive = active
		}
	case repository.TablePlanters:
		if p, ok := b.planter[id]; ok {
			p.IsActive = active
		}
	}
}

// Records returns a copy of the rows inserted into table.
func (b *Backend) Records(table string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(b.records[table]))
	for _, r := range b.records[table] {
		cp := make(map[string]interface{}, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (b *Backend) InsertRecord(_ context.Context, table string, fields map[string]interface{}) (string, error) {
	b.mu.Lock()
	hook := b.InsertHook
	b.mu.Unlock()
	if hook != nil {
		if err := hook(table, fields); err != nil {
			return "", err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	row := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		row[k] = v
	}
	id := uuid.NewString()
	row["id"] = id
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC()
	}
	b.records[table] = append(b.records[table], row)
	return id, nil
}

var _ repository.AuditPruner = (*Backend)(nil)

func (b *Backend) PruneAuditLogs(_ context.Context, before time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.records[repository.TableAuditLogs][:0]
	var n int64
	for _, r := range b.records[repository.TableAuditLogs] {
		if ts, ok := r["created_at"].(time.Time); ok && ts.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	b.records[repository.TableAuditLogs] = kept
	return n, nil
}

func (b *Backend) QueryActiveByID(_ context.Context, table, id string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var row interface{}
	switch table {
	case repository.TableAdminUsers:
		if a, ok := b.admins[id]; ok && a.IsActive {
			row = a
		}
	case repository.TableOrganizations:
		if o, ok := b.orgs[id]; ok && o.IsActive {
			row = o
		}
	case repository.TablePlanters:
		if p, ok := b.planter[id]; ok && p.IsActive {
			row = p
		}
	default:
		return nil, fmt.Errorf("query: unknown table %q", table)
	}
	if row == nil {
		return nil, nil
	}
	return json.Marshal(row)
}

func (b *Backend) CallRPC(_ context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case repository.RPCVerifyAdminLogin:
		return b.verifyAdminLogin(str(args, "p_email"), str(args, "p_password"))
	case repository.RPCCreateAdminUser:
		return b.createAdminUser(str(args, "p_email"), str(args, "p_password"), str(args, "p_full_name"), str(args, "p_role"))
	case repository.RPCUpdatePasswordByOldNew:
		return b.updatePassword(str(args, "p_table"), str(args, "p_id"), str(args, "p_old_password"), str(args, "p_new_password"))
	case repository.RPCVerifyOrgLoginByEmail:
		return b.verifyOrgLogin(str(args, "p_email"))
	case repository.RPCVerifyPlanterLoginByEmail:
		return b.verifyPlanterLogin(str(args, "p_email"))
	}
	return nil, fmt.Errorf("rpc: unknown function %q", name)
}

func (b *Backend) verifyAdminLogin(email, password string) (json.RawMessage, error) {
	for _, a := range b.admins {
		if a.Email != normalize(email) {
			continue
		}
		if b.hasher.Compare(a.passwordHash, password) != nil {
			return rows()
		}
		if a.IsActive {
			a.LoginCount++
		}
		return rows(a)
	}
	return rows()
}

func (b *Backend) createAdminUser(email, password, fullName, role string) (json.RawMessage, error) {
	for _, a := range b.admins {
		if a.Email == normalize(email) {
			return nil, &repository.RemoteError{Op: "rpc " + repository.RPCCreateAdminUser, Message: "email already registered"}
		}
	}
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	a := &admin{
		ID:           uuid.NewString(),
		Email:        normalize(email),
		FullName:     fullName,
		Role:         role,
		IsActive:     true,
		passwordHash: hash,
	}
	b.admins[a.ID] = a
	return rows(a)
}

func (b *Backend) updatePassword(table, id, oldPassword, newPassword string) (json.RawMessage, error) {
	reject := &repository.RemoteError{Op: "rpc " + repository.RPCUpdatePasswordByOldNew, Message: "current password does not match"}

	var hash *string
	switch table {
	case repository.TableAdminUsers:
		if a, ok := b.admins[id]; ok && a.IsActive {
			hash = &a.passwordHash
		}
	case repository.TableOrganizations:
		if o, ok := b.orgs[id]; ok && o.IsActive {
			hash = &o.passwordHash
		}
	}
	if hash == nil || *hash == "" || b.hasher.Compare(*hash, oldPassword) != nil {
		return nil, reject
	}

	next, err := b.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	*hash = next
	return rows(map[string]interface{}{"success": true})
}

func (b *Backend) verifyOrgLogin(email string) (json.RawMessage, error) {
	for _, o := range b.orgs {
		if o.Email == normalize(email) && o.Status == "approved" {
			return rows(o)
		}
	}
	return rows()
}

func (b *Backend) verifyPlanterLogin(email string) (json.RawMessage, error) {
	for _, p := range b.planter {
		if p.Email == normalize(email) {
			return rows(p)
		}
	}
	return rows()
}

func rows(rs ...interface{}) (json.RawMessage, error) {
	if rs == nil {
		rs = []interface{}{}
	}
	return json.Marshal(rs)
}

func str(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
