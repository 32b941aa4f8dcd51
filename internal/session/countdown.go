package session

import (
	"context"
	"time"
)

type Tick struct {
	Remaining   time.Duration `json:"-"`
	RemainingMS int64         `json:"remaining_ms"`
	Text        string        `json:"text"`
	Expired     bool          `json:"expired"`
}

// Countdown emits the remaining lifetime of s every interval, starting
// immediately. A tick is Expired exactly when Session.Expired holds, so at
// ExpiresAt itself it shows 0:00 and the stream keeps going. The channel
// closes after the first expired tick, or when ctx is done; the ticker is
// always stopped. Sessions without expiry get a closed channel.
func (m *Manager) Countdown(ctx context.Context, s *Session, interval time.Duration) <-chan Tick {
	ch := make(chan Tick, 1)
	if !s.HasExpiry() {
		close(ch)
		return ch
	}
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			now := m.opts.Clock()
			rem := s.Remaining(now)
			tick := Tick{
				Remaining:   rem,
				RemainingMS: rem.Milliseconds(),
				Text:        FormatRemaining(rem),
				Expired:     s.Expired(now),
			}
			select {
			case ch <- tick:
			case <-ctx.Done():
				return
			}
			if tick.Expired {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
