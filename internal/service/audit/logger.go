package audit

import (
	"context"

	"github.com/jwalitptl/canopy-portal/internal/session"
)

// Transition applies ev to from and records the move. Invalid transitions are
// logged and leave the state unchanged.
func (s *Service) Transition(ctx context.Context, kind session.Kind, subjectID string, from session.State, ev session.Event) session.State {
	to, err := session.Transition(from, ev)
	if err != nil {
		s.logger.Warn("invalid session transition", "kind", kind, "from", from, "event", ev)
		return from
	}
	s.logger.Debug("session transition", "kind", kind, "subject_id", subjectID, "from", from, "to", to)
	return to
}

// SessionEnded is installed as the session manager's OnEnd hook. Expiry,
// deactivation and logout look the same to the user but are recorded under
// distinct actions.
func (s *Service) SessionEnded(ctx context.Context, sess *session.Session, reason session.Reason) {
	var (
		kind, subject string
		event         session.Event
		action        string
	)
	if sess != nil {
		kind, subject = string(sess.Kind), sess.SubjectID
	}

	switch reason {
	case session.ReasonExpired:
		event, action = session.EventExpiryTick, ActionSessionExpired
	case session.ReasonDeactivated:
		event, action = session.EventRecheckFailed, ActionSessionDeactivate
	case session.ReasonLoggedOut:
		event, action = session.EventLogout, ActionLogout
	default:
		_ = s.Log(ctx, subject, kind, ActionSessionMalformed, nil)
		return
	}

	state := s.Transition(ctx, session.Kind(kind), subject, session.StateAuthenticated, event)
	s.Transition(ctx, session.Kind(kind), subject, state, session.EventReset)
	_ = s.Log(ctx, subject, kind, action, nil)
}
