// Package session models the three kinds of authenticated portal sessions.
//
// Admin sessions are password based and time boxed: expiresAt is fixed at
// login and never extended. Organization and planter sessions come from a
// passwordless email lookup and carry no expiry; they last until logout or
// until the storage slot itself expires. That is a weaker trust model than the
// admin flow, since no secret is exchanged and the backend lookup is the only
// gate.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindAdmin        Kind = "admin"
	KindOrganization Kind = "organization"
	KindPlanter      Kind = "planter"
)

// StorageKey is the slot a kind is stored under. Kinds never share a slot.
func (k Kind) StorageKey() string {
	return string(k) + "_session"
}

// displayKey is the envelope key holding the display name for the kind.
func (k Kind) displayKey() string {
	switch k {
	case KindAdmin:
		return "fullName"
	case KindOrganization:
		return "organization_name"
	default:
		return "name"
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindAdmin, KindOrganization, KindPlanter:
		return true
	}
	return false
}

type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleContentAdmin Role = "content_admin"
	RoleModerator    Role = "moderator"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSuperAdmin, RoleContentAdmin, RoleModerator:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Profile is what a successful login hands to the manager.
type Profile struct {
	SubjectID   string
	Email       string
	Role        Role
	DisplayName string
	// Raw is the profile snapshot returned by the backend.
	Raw json.RawMessage
}

// Session timestamps are milliseconds since the epoch. ExpiresAt of zero
// means the session has no explicit expiry.
type Session struct {
	SubjectID   string
	Kind        Kind
	Role        Role
	Email       string
	DisplayName string
	IssuedAt    int64
	ExpiresAt   int64
	Raw         json.RawMessage
}

// Expired reports whether now is strictly past ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != 0 && now.UnixMilli() > s.ExpiresAt
}

// Remaining is max(0, ExpiresAt-now). It is zero for sessions without expiry.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt == 0 {
		return 0
	}
	ms := s.ExpiresAt - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Session) HasExpiry() bool {
	return s.ExpiresAt != 0
}

// FormatRemaining renders a countdown as m:ss. Partial seconds round up, so
// 0:00 is only shown once nothing remains.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

var errMalformed = errors.New("malformed session envelope")

// MarshalJSON writes the storage envelope. The display name key depends on kind.
func (s Session) MarshalJSON() ([]byte, error) {
	env := map[string]interface{}{
		"kind":             s.Kind,
		"subjectId":        s.SubjectID,
		"email":            s.Email,
		s.Kind.displayKey(): s.DisplayName,
		"timestamp":        s.IssuedAt,
	}
	if s.Role != "" {
		env["role"] = s.Role
	}
	if s.ExpiresAt != 0 {
		env["expiresAt"] = s.ExpiresAt
	}
	if len(s.Raw) > 0 {
		env["raw"] = s.Raw
	}
	return json.Marshal(env)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return errMalformed
	}

	var out Session
	fields := []struct {
		key string
		dst interface{}
	}{
		{"kind", &out.Kind},
		{"subjectId", &out.SubjectID},
		{"email", &out.Email},
		{"role", &out.Role},
		{"timestamp", &out.IssuedAt},
		{"expiresAt", &out.ExpiresAt},
	}
	for _, f := range fields {
		if raw, ok := env[f.key]; ok {
			if err := json.Unmarshal(raw, f.dst); err != nil {
				return errMalformed
			}
		}
	}
	// Envelopes written by older clients used userId.
	if out.SubjectID == "" {
		if raw, ok := env["userId"]; ok {
			_ = json.Unmarshal(raw, &out.SubjectID)
		}
	}
	if raw, ok := env[out.Kind.displayKey()]; ok {
		_ = json.Unmarshal(raw, &out.DisplayName)
	}
	if raw, ok := env["raw"]; ok {
		out.Raw = append(json.RawMessage(nil), raw...)
	}

	if !out.Kind.Valid() || out.SubjectID == "" {
		return errMalformed
	}
	*s = out
	return nil
}
