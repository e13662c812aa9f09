package watch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	notifytesting "github.com/rileyhilliard/ntpwatch/internal/notify/testing"
	"github.com/rileyhilliard/ntpwatch/internal/sampler"
	"github.com/rileyhilliard/ntpwatch/internal/store"
	sshtesting "github.com/rileyhilliard/ntpwatch/pkg/sshutil/testing"
)

const (
	trackingOK = `Reference ID    : 50505300 (PPS)
Stratum         : 1
Last offset     : -0.000000123 seconds
Leap status     : Normal
`
	sourcesOK = `MS Name/IP address         Stratum Poll Reach LastRx Last sample
===============================================================================
#* PPS0                          0   4   377    12   -234ns[ -312ns] +/-  102ns
^- 10.0.0.1                      2   6   377    20    -15us[  -20us] +/-  300us
`
	fixOK = `{"class":"TPV","mode":3,"time":"2025-01-02T10:20:30.000Z","lat":51.5,"lon":-0.12}
`
	label = "myntp (10.0.0.5)"
)

func samplerOptions() sampler.Options {
	return sampler.Options{
		Host:           "myntp",
		FallbackIP:     "10.0.0.5",
		CommandTimeout: 10 * time.Second,
		FixTimeout:     8 * time.Second,
		FixSamples:     5,
	}
}

func healthyExecutor() *sshtesting.MockExecutor {
	m := sshtesting.NewMockExecutor()
	m.SetOutput(sampler.TrackingCommand, trackingOK)
	m.SetOutput(sampler.SourcesCommand, sourcesOK)
	m.SetOutput("gpspipe", fixOK)
	return m
}

type harness struct {
	exec  *sshtesting.MockExecutor
	sink  *store.Memory
	alert *notifytesting.Recorder
	log   *logger.BufferLogger
	loop  *Loop
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		exec:  healthyExecutor(),
		sink:  store.NewMemory(10),
		alert: notifytesting.NewRecorder(),
		log:   logger.NewBufferLogger(),
	}
	s := sampler.New(h.exec, samplerOptions(), h.log)
	h.loop = New(s, h.sink, h.alert, Options{Interval: 30 * time.Second, Thresholds: health.DefaultThresholds()}, h.log)
	h.loop.newID = func() string { return "cycle-1" }
	return h
}

func TestRunOnce_Healthy(t *testing.T) {
	h := newHarness(t)

	res := h.loop.RunOnce(context.Background())

	assert.NoError(t, res.Err)
	assert.True(t, res.Healthy())
	assert.True(t, res.Persisted)
	assert.False(t, res.Alerted)
	assert.Equal(t, "cycle-1", res.ID)
	assert.Equal(t, []State{StateSampling, StateEvaluating, StateHealthy, StateIdle}, res.States)
	assert.Equal(t, StateHealthy, res.Final())
	assert.Equal(t, StateIdle, h.loop.State())

	assert.Empty(t, h.alert.Messages())
	assert.True(t, h.log.Contains("info", "OK | Host: myntp (10.0.0.5) | Leap: Normal | Stratum: 1"))

	rows := h.sink.All()
	require.Len(t, rows, 1)
	assert.Equal(t, store.GPSModeFix, rows[0].GPSMode)
	assert.Equal(t, 2, rows[0].TotalSources)
	assert.False(t, rows[0].TS.IsZero())
}

type recordingSink struct{ rows []store.MetricSample }

func (s *recordingSink) Insert(_ context.Context, m store.MetricSample) error {
	s.rows = append(s.rows, m)
	return nil
}

func TestRunOnce_StoreAssignsTimestamp(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	h.loop.sink = sink

	res := h.loop.RunOnce(context.Background())

	require.True(t, res.Persisted)
	require.Len(t, sink.rows, 1)
	assert.True(t, sink.rows[0].TS.IsZero(), "rows carry no monitor-side timestamp")
}

func TestRunOnce_ThresholdViolation(t *testing.T) {
	h := newHarness(t)
	h.exec.SetOutput(sampler.TrackingCommand, strings.Replace(trackingOK, "Stratum         : 1", "Stratum         : 9", 1))

	res := h.loop.RunOnce(context.Background())

	assert.NoError(t, res.Err)
	assert.False(t, res.Healthy())
	assert.True(t, res.Alerted)
	assert.False(t, res.Persisted, "only healthy samples are stored")
	assert.Equal(t, []State{StateSampling, StateEvaluating, StateUnhealthy, StateIdle}, res.States)
	assert.Zero(t, h.sink.Len())

	msgs := h.alert.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "NTP health alert on "+label, msgs[0].Subject)
	assert.True(t, strings.HasPrefix(msgs[0].Body, "Stratum too high (got 9, max 4) || Host: "+label), msgs[0].Body)
	assert.True(t, h.log.Contains("error", "Stratum too high"))
}

func TestRunOnce_FixToolMissing(t *testing.T) {
	h := newHarness(t)
	h.exec.SetCommandResponse("gpspipe", sshtesting.CommandResponse{
		Stderr:   []byte("gpspipe-not-found\n"),
		ExitCode: 127,
	})

	res := h.loop.RunOnce(context.Background())

	assert.NoError(t, res.Err, "a missing tool is a finding, not a transport failure")
	assert.Equal(t, StateUnhealthy, res.Final())

	last, ok := h.alert.Last()
	require.True(t, ok)
	assert.Equal(t, "NTP health alert on "+label, last.Subject)
	assert.Contains(t, last.Body, "GPS has no fix via gpspipe")
	assert.Contains(t, last.Body, "GPS: gpspipe not found on remote host")
}

func TestRunOnce_Timeout(t *testing.T) {
	h := newHarness(t)
	h.exec.SetCommandResponse(sampler.SourcesCommand, sshtesting.CommandResponse{Delay: time.Hour})

	res := h.loop.RunOnce(context.Background())

	require.Error(t, res.Err)
	assert.True(t, errors.IsCode(res.Err, errors.ErrTimeout))
	assert.Nil(t, res.Verdict, "no evaluation after a transport failure")
	assert.Equal(t, []State{StateSampling, StateUnhealthy, StateIdle}, res.States)

	last, ok := h.alert.Last()
	require.True(t, ok)
	assert.Equal(t, health.SubjectTimeout, last.Subject)
	assert.True(t, strings.HasPrefix(last.Body, "SSH command timed out contacting "+label+": chronyc sources -n"), last.Body)
	assert.Zero(t, h.sink.Len())
}

func TestRunOnce_TransportFailure(t *testing.T) {
	h := newHarness(t)
	h.exec.SetCommandResponse(sampler.TrackingCommand, sshtesting.CommandResponse{
		Stderr:   []byte("506 Cannot talk to daemon\n"),
		ExitCode: 1,
	})

	res := h.loop.RunOnce(context.Background())

	require.Error(t, res.Err)
	assert.True(t, errors.IsCode(res.Err, errors.ErrTransport))

	last, ok := h.alert.Last()
	require.True(t, ok)
	assert.Equal(t, "NTP health alert on "+label, last.Subject)
	assert.Equal(t, "chronyc tracking failed on "+label+": 506 Cannot talk to daemon", last.Body)
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.loop.evaluate = func(*health.Sample, health.Thresholds) health.Verdict {
		var m map[string]int
		m["boom"]++
		return health.Verdict{}
	}

	var res CycleResult
	require.NotPanics(t, func() { res = h.loop.RunOnce(context.Background()) })

	require.Error(t, res.Err)
	assert.Equal(t, []State{StateSampling, StateEvaluating, StateUnhealthy, StateIdle}, res.States)
	assert.Equal(t, StateIdle, h.loop.State())

	last, ok := h.alert.Last()
	require.True(t, ok)
	assert.Equal(t, health.SubjectException, last.Subject)
	assert.Contains(t, last.Body, "Unexpected error during NTP check: assignment to entry in nil map")
	assert.True(t, h.log.Contains("error", "goroutine"), "stack is logged")
}

type panickingNotifier struct{ calls int }

func (n *panickingNotifier) Send(context.Context, string, string) error {
	n.calls++
	panic("smtp client exploded")
}

func TestRunOnce_NotifierPanic(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		calls  int
		states []State
	}{
		{
			name: "unhealthy verdict",
			setup: func(h *harness) {
				h.exec.SetOutput(sampler.TrackingCommand, strings.Replace(trackingOK, "Stratum         : 1", "Stratum         : 9", 1))
			},
			calls:  1,
			states: []State{StateSampling, StateEvaluating, StateUnhealthy, StateIdle},
		},
		{
			name: "cycle panic alert",
			setup: func(h *harness) {
				h.loop.evaluate = func(*health.Sample, health.Thresholds) health.Verdict {
					panic("evaluator bug")
				}
			},
			calls:  1,
			states: []State{StateSampling, StateEvaluating, StateUnhealthy, StateIdle},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			n := &panickingNotifier{}
			h.loop.notifier = n
			tt.setup(h)

			var res CycleResult
			require.NotPanics(t, func() { res = h.loop.RunOnce(context.Background()) })

			assert.False(t, res.Alerted)
			assert.Equal(t, tt.calls, n.calls)
			assert.Equal(t, tt.states, res.States)
			assert.Equal(t, StateIdle, h.loop.State())
			assert.True(t, h.log.Contains("error", "notifier panicked: smtp client exploded"))
		})
	}
}

func TestRun_SurvivesNotifierPanic(t *testing.T) {
	h := newHarness(t)
	h.exec.SetOutput(sampler.TrackingCommand, strings.Replace(trackingOK, "Stratum         : 1", "Stratum         : 9", 1))
	n := &panickingNotifier{}
	h.loop.notifier = n

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cycles := 0
	h.loop.OnCycle = func(CycleResult) {
		cycles++
		if cycles == 3 {
			cancel()
		}
	}
	h.loop.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	require.NotPanics(t, func() { assert.NoError(t, h.loop.Run(ctx)) })
	assert.Equal(t, 3, cycles)
	assert.Equal(t, 3, n.calls)
}

type failingSink struct{}

func (failingSink) Insert(context.Context, store.MetricSample) error {
	return errors.New(errors.ErrSink, "DB write to metrics.ntp_parent failed", "")
}

func TestRunOnce_SinkFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.loop.sink = failingSink{}

	res := h.loop.RunOnce(context.Background())

	assert.NoError(t, res.Err)
	assert.True(t, res.Healthy())
	assert.False(t, res.Persisted)
	assert.Empty(t, h.alert.Messages(), "a sink failure does not alert")
	assert.True(t, h.log.Contains("error", "DB write failed: DB write to metrics.ntp_parent failed"))
}

func TestRunOnce_NotifyFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.alert.Fail(errors.New(errors.ErrNotify, "Email alert not sent: mail settings incomplete", ""))
	h.exec.SetOutput("gpspipe", "")

	res := h.loop.RunOnce(context.Background())

	assert.False(t, res.Alerted)
	assert.Len(t, h.alert.Messages(), 1)
	assert.True(t, h.log.Contains("error", "mail settings incomplete"))
}

func TestRunOnce_CancelledCycleDoesNotAlert(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.exec.SetCommandResponse(sampler.TrackingCommand, sshtesting.CommandResponse{Error: ctx.Err()})

	res := h.loop.RunOnce(ctx)

	require.Error(t, res.Err)
	assert.Empty(t, h.alert.Messages())
	assert.Equal(t, []State{StateSampling, StateIdle}, res.States)
}

func TestRunOnce_OnCycle(t *testing.T) {
	h := newHarness(t)
	var seen []CycleResult
	h.loop.OnCycle = func(r CycleResult) { seen = append(seen, r) }

	h.loop.RunOnce(context.Background())
	h.loop.RunOnce(context.Background())

	require.Len(t, seen, 2)
	assert.Equal(t, StateHealthy, seen[1].Final())
	assert.True(t, seen[1].Persisted)
	assert.False(t, seen[1].Started.Before(seen[0].Started))
}

// fakeClock is advanced by the fake sampler and sleep.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type scriptedSampler struct {
	clock     *fakeClock
	durations []time.Duration
	calls     int
}

func (s *scriptedSampler) Label() string { return label }

func (s *scriptedSampler) Sample(context.Context) (*health.Sample, error) {
	d := s.durations[s.calls%len(s.durations)]
	s.calls++
	taken := s.clock.Now()
	s.clock.Advance(d)
	stratum, offset, leap, line := 1, 0.0001, "Normal", "#* PPS0"
	return &health.Sample{
		Host:     label,
		Taken:    taken,
		Tracking: health.TrackingSample{LeapStatus: &leap, Stratum: &stratum, LastOffsetSec: &offset},
		Sources:  health.SourcesSummary{HasSelectedSource: true, SelectedSourceLine: &line, TotalSources: 1},
		Fix:      health.FixStatus{HasFix: true, Summary: "GPS(TPV): mode=3D fix"},
	}, nil
}

func TestRun_IntervalFromCycleStart(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := &scriptedSampler{clock: clock, durations: []time.Duration{5 * time.Second, 40 * time.Second, time.Second}}
	sink := store.NewMemory(10)
	log := logger.NewBufferLogger()

	l := New(s, sink, nil, Options{Interval: 30 * time.Second, Thresholds: health.DefaultThresholds()}, log)
	l.now = clock.Now

	var sleeps []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var starts []time.Time
	l.OnCycle = func(r CycleResult) {
		starts = append(starts, r.Started)
		if len(starts) == 3 {
			cancel()
		}
	}

	require.NoError(t, l.Run(ctx))

	assert.Equal(t, []time.Duration{25 * time.Second, 0}, sleeps, "overrun cycle is followed immediately")
	require.Len(t, starts, 3)
	assert.Equal(t, 30*time.Second, starts[1].Sub(starts[0]))
	assert.Equal(t, 40*time.Second, starts[2].Sub(starts[1]))
	assert.Equal(t, 3, sink.Len())
	assert.True(t, log.Contains("warn", "longer than the 30s interval"))
	assert.True(t, log.Contains("info", "Stopping NTP health monitor"))
}

func TestRun_StopsWhileSleeping(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := &scriptedSampler{clock: clock, durations: []time.Duration{time.Second}}
	l := New(s, nil, nil, Options{Interval: time.Hour}, nil)
	l.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	l.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 1, s.calls)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateSampling, "sampling"},
		{StateEvaluating, "evaluating"},
		{StateHealthy, "healthy"},
		{StateUnhealthy, "unhealthy"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
