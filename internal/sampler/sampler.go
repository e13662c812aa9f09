// Package sampler gathers one health sample from the appliance: the chrony
// tracking and sources reports and the receiver's fix-status stream.
package sampler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/health/parsers"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/util"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

// FixGrace is added to the remote gpspipe timeout to get the local deadline,
// so the remote timeout normally fires first and partial output survives.
const FixGrace = 3 * time.Second

// Summaries used when the fix stream yields no TPV/GSA reports.
const (
	SummaryToolMissing = "gpspipe not found on remote host"
	SummaryNoData      = "no TPV data from gpspipe"
)

// Options configure a Sampler.
type Options struct {
	Host           string
	FallbackIP     string
	CommandTimeout time.Duration
	FixTimeout     time.Duration
	FixSamples     int
	FixFormat      string
}

// Label identifies the appliance in logs and alerts as "<host> (<ip>)".
func (o Options) Label() string {
	return fmt.Sprintf("%s (%s)", o.Host, o.FallbackIP)
}

// Sampler runs the three sampling commands in sequence.
type Sampler struct {
	exec sshutil.Executor
	opts Options
	log  logger.Logger
	now  func() time.Time
}

// New creates a Sampler. A nil log discards output.
func New(exec sshutil.Executor, opts Options, log logger.Logger) *Sampler {
	if log == nil {
		log = logger.Noop()
	}
	if opts.FixFormat == "" {
		opts.FixFormat = FormatJSON
	}
	return &Sampler{
		exec: exec,
		opts: opts,
		log:  log,
		now:  time.Now,
	}
}

// Label returns the appliance label used in samples.
func (s *Sampler) Label() string {
	return s.opts.Label()
}

// Sample runs tracking, sources and fix-status in that order. The first
// transport failure aborts the cycle: the error is TIMEOUT when a command
// overran its deadline and TRANSPORT otherwise, and the remaining commands
// are not issued. When the executor holds a connection it is closed before
// Sample returns.
func (s *Sampler) Sample(ctx context.Context) (*health.Sample, error) {
	defer s.release()

	sample := &health.Sample{
		Host:  s.Label(),
		Taken: s.now(),
	}

	tracking, err := s.runChrony(ctx, TrackingCommand)
	if err != nil {
		return nil, err
	}
	sample.Tracking = parsers.ParseTracking(string(tracking.Stdout))

	sources, err := s.runChrony(ctx, SourcesCommand)
	if err != nil {
		return nil, err
	}
	sample.Sources = parsers.ParseSources(string(sources.Stdout))

	fix, err := s.fixStatus(ctx)
	if err != nil {
		return nil, err
	}
	sample.Fix = fix

	return sample, nil
}

func (s *Sampler) runChrony(ctx context.Context, cmd string) (*sshutil.Result, error) {
	res, err := s.run(ctx, cmd, cmd, s.opts.CommandTimeout)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, s.exitFailure(cmd, res)
	}
	return res, nil
}

func (s *Sampler) fixStatus(ctx context.Context) (health.FixStatus, error) {
	cmd := FixStatusCommand(s.opts.FixFormat, s.opts.FixTimeout, s.opts.FixSamples)
	s.log.Debug("fix status: gpspipe format=%s samples=%d timeout=%s", s.opts.FixFormat, s.opts.FixSamples, s.opts.FixTimeout)

	res, err := s.run(ctx, "gpspipe", cmd, s.opts.FixTimeout+FixGrace)
	if err != nil {
		return health.FixStatus{}, err
	}

	if res.ExitCode == exitNotFound || containsMarker(res.Stderr) {
		s.log.Warn("gpspipe binary not found on %s", s.Label())
		return health.FixStatus{Summary: SummaryToolMissing}, nil
	}
	if res.ExitCode != 0 && res.ExitCode != exitRemoteTimeout {
		return health.FixStatus{}, s.exitFailure("gpspipe", res)
	}

	out := string(res.Stdout) + string(res.Stderr)
	var fix health.FixStatus
	if s.opts.FixFormat == FormatNMEA {
		fix = parsers.ParseNMEAStream(out)
	} else {
		fix = parsers.ParseFixStream(out)
	}
	s.log.Debug("fix status: reports=%d has_fix=%t summary=%s", fix.TPVMessageCount, fix.HasFix, fix.Summary)

	if fix.Summary == "" {
		fix.HasFix = false
		fix.Summary = util.Head(out, 3)
		if fix.Summary == "" {
			fix.Summary = SummaryNoData
		}
	}
	return fix, nil
}

// run executes one command and converts executor errors into cycle errors.
func (s *Sampler) run(ctx context.Context, name, cmd string, timeout time.Duration) (*sshutil.Result, error) {
	start := s.now()
	s.log.Debug("run start cmd=%q timeout=%s", cmd, timeout)

	res, err := s.exec.Run(ctx, cmd, timeout)
	dur := s.now().Sub(start)

	if err != nil {
		s.log.Error("run failed cmd=%q dur=%s: %s", name, dur, errors.Describe(err))
		if errors.IsCode(err, errors.ErrTimeout) {
			return nil, errors.WrapWithCode(err, errors.ErrTimeout,
				health.TimeoutBody(s.Label(), name),
				"The appliance may be overloaded or unreachable.")
		}
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("%s failed on %s", name, s.Label()),
			"Check SSH connectivity to the appliance.")
	}

	s.log.Debug("run end cmd=%q dur=%s rc=%d stdout=%s stderr=%s",
		name, dur, res.ExitCode, util.Head(string(res.Stdout), 3), util.Head(string(res.Stderr), 3))
	return res, nil
}

func (s *Sampler) exitFailure(name string, res *sshutil.Result) error {
	reason := util.Head(string(res.Stderr), 3)
	if reason == "" {
		reason = fmt.Sprintf("exit status %d", res.ExitCode)
	}
	return errors.New(errors.ErrTransport,
		fmt.Sprintf("%s failed on %s: %s", name, s.Label(), reason),
		"Check that chronyd and gpsd are running on the appliance.")
}

// release drops the executor's connection, if it keeps one.
func (s *Sampler) release() {
	if closer, ok := s.exec.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.log.Debug("closing executor: %v", err)
		}
	}
}

func containsMarker(stderr []byte) bool {
	return bytes.Contains(stderr, []byte(FixToolMissingMarker))
}
