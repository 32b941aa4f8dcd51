// Package notify delivers transient user-facing notices (step saved, submit
// failed, signed out) to whatever surface renders them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/messaging"
)

type Kind string

const (
	KindStepSaved     Kind = "step_saved"
	KindSubmitted     Kind = "submitted"
	KindSubmitFailed  Kind = "submit_failed"
	KindSignedIn      Kind = "signed_in"
	KindSignInFailed  Kind = "sign_in_failed"
	KindSessionEnded  Kind = "session_ended"
	KindPasswordSaved Kind = "password_saved"
)

type Notice struct {
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	FormID  string    `json:"form_id,omitempty"`
	Step    int       `json:"step,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier must not block the caller for long; delivery failures are its own concern.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Nop drops every notice.
var Nop Notifier = NotifierFunc(func(context.Context, Notice) {})

type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(l *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Notify(_ context.Context, notice Notice) {
	n.logger.Info("notice",
		"kind", notice.Kind,
		"title", notice.Title,
		"form_id", notice.FormID,
		"step", notice.Step,
	)
}

// BrokerNotifier publishes notices so that other processes (the admin console
// live feed) can render them.
type BrokerNotifier struct {
	broker  messaging.Broker
	channel string
	logger  *logger.Logger
}

func NewBrokerNotifier(b messaging.Broker, channel string, l *logger.Logger) *BrokerNotifier {
	return &BrokerNotifier{broker: b, channel: channel, logger: l}
}

func (n *BrokerNotifier) Notify(ctx context.Context, notice Notice) {
	msg := messaging.Message{Type: string(notice.Kind), Payload: notice}
	if err := n.broker.Publish(ctx, n.channel, msg); err != nil {
		n.logger.Error(err, "failed to publish notice", "channel", n.channel, "kind", notice.Kind)
	}
}

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

// Recorder keeps every notice it receives. Used by tests and the dev server.
// A nil *Recorder drops notices.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}
