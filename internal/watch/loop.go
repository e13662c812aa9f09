// Package watch runs the polling loop: sample the appliance, evaluate the
// sample, then persist it or raise an alert. A cycle never ends the loop;
// only cancelling the context does.
package watch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/notify"
	"github.com/rileyhilliard/ntpwatch/internal/store"
)

// Sampler produces one sample per cycle. *sampler.Sampler implements it.
type Sampler interface {
	Sample(ctx context.Context) (*health.Sample, error)
	Label() string
}

// Options configure a Loop.
type Options struct {
	// Interval is measured from the start of one cycle to the start of the
	// next. A cycle that overruns is followed immediately by the next one.
	Interval   time.Duration
	Thresholds health.Thresholds
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	// States lists every state entered, in order, ending with Idle.
	States  []State
	Sample  *health.Sample
	Verdict *health.Verdict
	// Err is the transport failure or recovered panic that ended the cycle.
	Err       error
	Alerted   bool
	Persisted bool
}

// Healthy reports whether the cycle produced a passing verdict.
func (r CycleResult) Healthy() bool {
	return r.Err == nil && r.Verdict != nil && r.Verdict.OK
}

// Final returns the last state before returning to Idle.
func (r CycleResult) Final() State {
	for i := len(r.States) - 1; i >= 0; i-- {
		if r.States[i] != StateIdle {
			return r.States[i]
		}
	}
	return StateIdle
}

// Loop drives the sampling cycles.
type Loop struct {
	sampler  Sampler
	sink     store.Sink
	notifier notify.Notifier
	log      logger.Logger
	opts     Options

	// OnCycle, when set, is called after every cycle.
	OnCycle func(CycleResult)

	evaluate func(*health.Sample, health.Thresholds) health.Verdict
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newID    func() string

	mu    sync.Mutex
	state State
}

// New creates a Loop. A nil sink discards samples and a nil notifier drops
// alerts.
func New(s Sampler, sink store.Sink, n notify.Notifier, opts Options, log logger.Logger) *Loop {
	if sink == nil {
		sink = store.Discard{}
	}
	if n == nil {
		n = notify.Multi{}
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Loop{
		sampler:  s,
		sink:     sink,
		notifier: n,
		log:      log,
		opts:     opts,
		evaluate: health.Evaluate,
		now:      time.Now,
		sleep:    sleepContext,
		newID:    func() string { return uuid.NewString() },
	}
}

// State returns the state of the cycle in progress, or Idle between cycles.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run executes cycles until ctx is cancelled. It always returns nil once
// the context ends; cycle failures are logged and alerted, never returned.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Starting NTP health monitor for %s every %s", l.sampler.Label(), l.opts.Interval)

	for {
		start := l.now()
		l.RunOnce(ctx)

		if ctx.Err() != nil {
			break
		}

		wait := l.opts.Interval - l.now().Sub(start)
		if wait < 0 {
			l.log.Warn("Cycle took %s, longer than the %s interval", l.now().Sub(start).Round(time.Millisecond), l.opts.Interval)
			wait = 0
		}
		if err := l.sleep(ctx, wait); err != nil {
			break
		}
	}

	l.log.Info("Stopping NTP health monitor for %s", l.sampler.Label())
	return nil
}

// RunOnce executes a single cycle. A panic inside the cycle is recovered,
// logged with its stack and alerted.
func (l *Loop) RunOnce(ctx context.Context) (res CycleResult) {
	res.ID = l.newID()
	res.Started = l.now()
	log := l.log.With("cycle", res.ID)

	defer func() {
		res.Duration = l.now().Sub(res.Started)
		l.enter(&res, StateIdle)
		log.Debug("cycle finished in %s: %s", res.Duration.Round(time.Millisecond), res.Final())
		if l.OnCycle != nil {
			l.OnCycle(res)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Unexpected error during NTP check: %v\n%s", r, debug.Stack())
			res.Err = errors.New(errors.ErrExec, fmt.Sprintf("cycle panicked: %v", r), "")
			l.enter(&res, StateUnhealthy)
			l.alert(ctx, log, &res, health.SubjectException, health.ExceptionBody(r))
		}
	}()

	l.cycle(ctx, log, &res)
	return res
}

func (l *Loop) cycle(ctx context.Context, log logger.Logger, res *CycleResult) {
	l.enter(res, StateSampling)
	sample, err := l.sampler.Sample(ctx)
	if err != nil {
		res.Err = err
		if ctx.Err() != nil {
			log.Info("Cycle interrupted: %s", errors.Describe(err))
			return
		}
		l.transportFailure(ctx, log, res, err)
		return
	}
	res.Sample = sample

	l.enter(res, StateEvaluating)
	verdict := l.evaluate(sample, l.opts.Thresholds)
	res.Verdict = &verdict
	msg := verdict.Message()

	if !verdict.OK {
		l.enter(res, StateUnhealthy)
		log.Error("%s", msg)
		l.alert(ctx, log, res, health.AlertSubject(sample.Host), msg)
		return
	}

	l.enter(res, StateHealthy)
	log.Info("%s", msg)
	if err := l.sink.Insert(ctx, store.FromSample(sample)); err != nil {
		log.Error("DB write failed: %s", errors.Describe(err))
		return
	}
	res.Persisted = true
}

func (l *Loop) transportFailure(ctx context.Context, log logger.Logger, res *CycleResult, err error) {
	l.enter(res, StateUnhealthy)
	body := errors.Describe(err)

	subject := health.AlertSubject(l.sampler.Label())
	if errors.IsCode(err, errors.ErrTimeout) {
		subject = health.SubjectTimeout
	}

	log.Error("%s", body)
	l.alert(ctx, log, res, subject, body)
}

// alert sends through the notifier. Delivery failures, panics included, are
// logged only.
func (l *Loop) alert(ctx context.Context, log logger.Logger, res *CycleResult, subject, body string) {
	if err := l.send(ctx, subject, body); err != nil {
		log.Error("Alert %q not delivered: %s", subject, errors.Describe(err))
		return
	}
	res.Alerted = true
}

func (l *Loop) send(ctx context.Context, subject, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrNotify, fmt.Sprintf("notifier panicked: %v", r), "")
		}
	}()
	return l.notifier.Send(ctx, subject, body)
}

func (l *Loop) enter(res *CycleResult, s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	res.States = append(res.States, s)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
