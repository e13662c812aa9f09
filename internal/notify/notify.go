// Package notify delivers alerts. Every Notifier failure is reported to the
// caller, which logs it and carries on: an alert that cannot be sent never
// stops monitoring.
package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/util"
)

// Notifier sends one alert.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Multi sends each alert to every channel. All channels are tried even when
// one fails.
type Multi []Notifier

// Send implements Notifier.
func (m Multi) Send(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.WrapWithCode(stderrors.Join(errs...), errors.ErrNotify,
			fmt.Sprintf("%d of %d alert %s failed", len(errs), len(m), util.Pluralize(len(m), "channel", "channels")), "")
	}
}

// Suppressor drops an alert when an identical one was delivered within the
// window. Alerts are identical when the subject and the problem list match;
// the detail after " || " changes every cycle and is ignored.
type Suppressor struct {
	next   Notifier
	window time.Duration
	log    logger.Logger
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewSuppressor wraps next. A non-positive window disables suppression and
// returns next unchanged.
func NewSuppressor(next Notifier, window time.Duration, log logger.Logger) Notifier {
	if window <= 0 {
		return next
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Suppressor{
		next:   next,
		window: window,
		log:    log,
		now:    time.Now,
		sent:   make(map[string]time.Time),
	}
}

// Send implements Notifier. Only delivered alerts start a window, so a failed
// send is retried on the next cycle.
func (s *Suppressor) Send(ctx context.Context, subject, body string) error {
	key := suppressionKey(subject, body)
	now := s.now()

	s.mu.Lock()
	last, seen := s.sent[key]
	s.mu.Unlock()

	if seen && now.Sub(last) < s.window {
		s.log.Info("Suppressing repeat alert %q (last sent %s ago)", subject, now.Sub(last).Round(time.Second))
		return nil
	}

	if err := s.next.Send(ctx, subject, body); err != nil {
		return err
	}

	s.mu.Lock()
	for k, t := range s.sent {
		if now.Sub(t) >= s.window {
			delete(s.sent, k)
		}
	}
	s.sent[key] = now
	s.mu.Unlock()
	return nil
}

func suppressionKey(subject, body string) string {
	problems, _, _ := strings.Cut(body, " || ")
	return subject + "\x00" + problems
}
