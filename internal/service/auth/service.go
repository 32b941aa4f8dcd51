// Package auth implements the admin password login, the passwordless
// organization and planter lookups, and password changes on top of the
// session manager.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/service/audit"
	"github.com/jwalitptl/canopy-portal/internal/session"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
)

var ErrUnknownKind = errors.New("unknown session kind")

// Sessions reads, re-validates and clears stored sessions of every kind.
type Sessions struct {
	managers map[session.Kind]*session.Manager
	lookup   repository.ActiveLookup
	logger   *logger.Logger
}

func NewSessions(lookup repository.ActiveLookup, log *logger.Logger, managers ...*session.Manager) *Sessions {
	s := &Sessions{
		managers: make(map[session.Kind]*session.Manager, len(managers)),
		lookup:   lookup,
		logger:   log,
	}
	for _, m := range managers {
		s.managers[m.Kind()] = m
	}
	return s
}

// Manager returns the manager of kind bound to st.
func (s *Sessions) Manager(kind session.Kind, st session.Storage) (*session.Manager, error) {
	m, ok := s.managers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return m.WithStorage(st), nil
}

// Get returns the stored, unexpired session of kind.
func (s *Sessions) Get(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error) {
	m, err := s.Manager(kind, st)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	sess, err := m.Get(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if sess == nil {
		return nil, apperrors.SessionExpired()
	}
	return sess, nil
}

// Validate is Get plus a re-check that the subject is still active. A
// failed lookup keeps the session and reports a transient error.
func (s *Sessions) Validate(ctx context.Context, st session.Storage, kind session.Kind) (*session.Session, error) {
	m, err := s.Manager(kind, st)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	sess, err := m.Validate(ctx, s.lookup)
	switch {
	case errors.Is(err, session.ErrDeactivated):
		return nil, apperrors.Deactivated(err)
	case err != nil && repository.IsTransient(err):
		return nil, apperrors.Transient(err)
	case err != nil:
		return nil, apperrors.Internal(err)
	case sess == nil:
		return nil, apperrors.SessionExpired()
	}
	return sess, nil
}

// Logout always succeeds for the caller.
func (s *Sessions) Logout(ctx context.Context, st session.Storage, kind session.Kind) {
	m, err := s.Manager(kind, st)
	if err != nil {
		return
	}
	if err := m.Clear(ctx); err != nil {
		s.logger.Error(err, "failed to clear session", "kind", kind)
	}
}

// Countdown streams the remaining lifetime of the current session.
func (s *Sessions) Countdown(ctx context.Context, st session.Storage, kind session.Kind, interval time.Duration) (<-chan session.Tick, error) {
	sess, err := s.Get(ctx, st, kind)
	if err != nil {
		return nil, err
	}
	m, _ := s.Manager(kind, st)
	return m.Countdown(ctx, sess, interval), nil
}

// Now is the clock reading of the kind's manager.
func (s *Sessions) Now(kind session.Kind) time.Time {
	if m, ok := s.managers[kind]; ok {
		return m.Now()
	}
	return time.Now()
}

// EndHook builds the OnEnd callback of a session manager: it counts the
// ending, audits it, and tells the user when the session ended on its own.
func EndHook(kind session.Kind, auditor *audit.Service, m *metrics.Metrics, notifier notify.Notifier) func(context.Context, *session.Session, session.Reason) {
	return func(ctx context.Context, s *session.Session, reason session.Reason) {
		m.SessionsEnded.WithLabelValues(string(kind), string(reason)).Inc()
		if s == nil {
			s = &session.Session{Kind: kind}
		}
		auditor.SessionEnded(ctx, s, reason)

		if reason == session.ReasonExpired || reason == session.ReasonDeactivated {
			n := apperrors.NoticeFor(apperrors.SessionExpired())
			notifier.Notify(ctx, notify.Notice{
				Kind:    notify.KindSessionEnded,
				Title:   n.Title,
				Message: n.Message,
				Time:    time.Now(),
			})
		}
	}
}

// flow is the login bookkeeping shared by every kind.
type flow struct {
	auditor  *audit.Service
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// complete stores a successful result, or turns any other outcome into the
// uniform failure message. A failed login never touches the stored session.
func (f *flow) complete(ctx context.Context, m *session.Manager, email string, res LoginResult, failMsg string) (*session.Session, error) {
	kind := m.Kind()
	state := f.auditor.Transition(ctx, kind, "", session.StateAnonymous, session.EventLogin)
	f.metrics.Logins.WithLabelValues(string(kind), string(res.Outcome)).Inc()

	var err error
	switch res.Outcome {
	case OutcomeSuccess:
		sess, serr := m.Store(ctx, res.Profile)
		if serr == nil {
			f.auditor.Transition(ctx, kind, sess.SubjectID, state, session.EventSucceeded)
			_ = f.auditor.Log(ctx, sess.SubjectID, string(kind), audit.ActionLogin, &audit.LogOptions{
				Metadata: map[string]interface{}{"email": sess.Email},
			})
			f.notifier.Notify(ctx, notify.Notice{
				Kind:    notify.KindSignedIn,
				Title:   "Signed in",
				Message: "Welcome back, " + sess.DisplayName + ".",
				Time:    time.Now(),
			})
			return sess, nil
		}
		err = apperrors.Internal(serr)
	case OutcomeTransient:
		f.logger.Warn("login backend unavailable", "kind", kind, "error", res.Err)
		err = apperrors.Transient(res.Err)
	default:
		err = apperrors.Authorization(failMsg, nil)
	}

	f.auditor.Transition(ctx, kind, "", state, session.EventFailed)
	_ = f.auditor.Log(ctx, "", string(kind), audit.ActionLoginFailed, &audit.LogOptions{
		Metadata: map[string]interface{}{"email": email, "outcome": res.Outcome},
	})
	n := apperrors.NoticeFor(err)
	f.notifier.Notify(ctx, notify.Notice{
		Kind:    notify.KindSignInFailed,
		Title:   n.Title,
		Message: n.Message,
		Time:    time.Now(),
	})
	return nil, err
}
