package session

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/canopy-portal/internal/repository"
)

// ErrDeactivated is returned by Validate when the backend no longer has an
// active subject for an unexpired session.
var ErrDeactivated = errors.New("session subject is no longer active")

// Reason explains why a session ended.
type Reason string

const (
	ReasonExpired     Reason = "expired"
	ReasonLoggedOut   Reason = "logged_out"
	ReasonDeactivated Reason = "deactivated"
	ReasonMalformed   Reason = "malformed"
)

type ManagerOptions struct {
	// Window is the fixed session lifetime. Zero stores sessions without expiry.
	Window time.Duration
	// StorageTTL bounds slots of sessions without expiry. Zero keeps them
	// until logout.
	StorageTTL time.Duration
	Codec      Codec
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnEnd is called whenever a stored session is removed.
	OnEnd func(ctx context.Context, s *Session, reason Reason)
}

// Manager stores, reads, expires and re-validates sessions of one kind. Bind
// it to a storage with WithStorage before use.
type Manager struct {
	kind    Kind
	opts    ManagerOptions
	storage Storage
}

func NewManager(kind Kind, opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{kind: kind, opts: opts}
}

func (m *Manager) Kind() Kind { return m.kind }

func (m *Manager) Window() time.Duration { return m.opts.Window }

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.opts.Clock() }

// WithStorage returns a copy of the manager bound to st.
func (m *Manager) WithStorage(st Storage) *Manager {
	cp := *m
	cp.storage = st
	return &cp
}

// Store creates a session for p. expiresAt is computed once here and is
// never extended afterwards.
func (m *Manager) Store(ctx context.Context, p Profile) (*Session, error) {
	now := m.opts.Clock()
	s := &Session{
		SubjectID:   p.SubjectID,
		Kind:        m.kind,
		Role:        p.Role,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		IssuedAt:    now.UnixMilli(),
		Raw:         p.Raw,
	}
	ttl := m.opts.StorageTTL
	if m.opts.Window > 0 {
		s.ExpiresAt = s.IssuedAt + m.opts.Window.Milliseconds()
		ttl = m.opts.Window
	}

	blob, err := m.opts.Codec.Encode(s)
	if err != nil {
		return nil, err
	}
	if err := m.storage.Set(ctx, m.kind.StorageKey(), blob, ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the stored session, or nil when there is none. Undecodable and
// expired sessions are cleared and reported as absent.
func (m *Manager) Get(ctx context.Context) (*Session, error) {
	blob, ok, err := m.storage.Get(ctx, m.kind.StorageKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	s, err := m.opts.Codec.Decode(blob)
	if err != nil || s.Kind != m.kind {
		m.remove(ctx, nil, ReasonMalformed)
		return nil, nil
	}
	if s.Expired(m.opts.Clock()) {
		m.remove(ctx, s, ReasonExpired)
		return nil, nil
	}
	return s, nil
}

// Validate re-checks the stored session against the backend. A subject that
// is missing or inactive clears the session and yields ErrDeactivated. A
// failed lookup keeps the session and returns the error.
func (m *Manager) Validate(ctx context.Context, lookup repository.ActiveLookup) (*Session, error) {
	s, err := m.Get(ctx)
	if err != nil || s == nil {
		return nil, err
	}

	profile, err := lookup.QueryActiveByID(ctx, m.kind.Table(), s.SubjectID)
	if err != nil {
		return s, err
	}
	if profile == nil {
		m.remove(ctx, s, ReasonDeactivated)
		return nil, ErrDeactivated
	}
	return s, nil
}

// Clear removes the session. Logging out always succeeds for the caller; a
// storage error is returned only so it can be logged.
func (m *Manager) Clear(ctx context.Context) error {
	var current *Session
	if blob, ok, err := m.storage.Get(ctx, m.kind.StorageKey()); err == nil && ok {
		current, _ = m.opts.Codec.Decode(blob)
	}
	err := m.storage.Delete(ctx, m.kind.StorageKey())
	if current != nil && m.opts.OnEnd != nil {
		m.opts.OnEnd(ctx, current, ReasonLoggedOut)
	}
	return err
}

func (m *Manager) remove(ctx context.Context, s *Session, reason Reason) {
	_ = m.storage.Delete(ctx, m.kind.StorageKey())
	if m.opts.OnEnd != nil {
		m.opts.OnEnd(ctx, s, reason)
	}
}

// Table is where subjects of the kind are re-validated.
func (k Kind) Table() string {
	switch k {
	case KindAdmin:
		return repository.TableAdminUsers
	case KindOrganization:
		return repository.TableOrganizations
	default:
		return repository.TablePlanters
	}
}
