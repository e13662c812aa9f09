package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/ui"
	"github.com/rileyhilliard/ntpwatch/internal/watch"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

// ExitUnhealthy is returned by check when the cycle completed but the
// appliance failed it.
const ExitUnhealthy = 2

var (
	checkJSON  bool
	checkHost  string
	checkAlert bool
	checkStore bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single health check and print the verdict",
	Long: `Sample the appliance once, evaluate it and print the result.
Nothing is stored and no alert is sent unless --store or --alert is given.
Exits 2 when the appliance is unhealthy or unreachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output in JSON format")
	checkCmd.Flags().StringVar(&checkHost, "host", "", "appliance host or SSH alias (overrides NTP_HOST)")
	checkCmd.Flags().BoolVar(&checkAlert, "alert", false, "send alerts like the monitor would")
	checkCmd.Flags().BoolVar(&checkStore, "store", false, "persist a healthy sample")
	rootCmd.AddCommand(checkCmd)
}

// CheckOutput is the JSON output of the check command.
type CheckOutput struct {
	Cycle      string      `json:"cycle"`
	Host       string      `json:"host"`
	Healthy    bool        `json:"healthy"`
	State      string      `json:"state"`
	Problems   []string    `json:"problems,omitempty"`
	Message    string      `json:"message,omitempty"`
	Sample     *SampleJSON `json:"sample,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Alerted    bool        `json:"alerted"`
	Persisted  bool        `json:"persisted"`
	StartedAt  time.Time   `json:"started_at"`
	States     []string    `json:"states"`
	result     watch.CycleResult
}

// SampleJSON is a sample flattened for machine output.
type SampleJSON struct {
	LeapStatus     *string  `json:"leap_status"`
	Stratum        *int     `json:"stratum"`
	LastOffsetSec  *float64 `json:"last_offset_sec"`
	SelectedSource *string  `json:"selected_source"`
	TotalSources   int      `json:"total_sources"`
	HasFix         bool     `json:"gps_fix"`
	GPSSummary     string   `json:"gps_summary"`
}

func newCheckOutput(label string, res watch.CycleResult) CheckOutput {
	out := CheckOutput{
		Cycle:      res.ID,
		Host:       label,
		Healthy:    res.Healthy(),
		State:      res.Final().String(),
		DurationMS: res.Duration.Milliseconds(),
		Alerted:    res.Alerted,
		Persisted:  res.Persisted,
		StartedAt:  res.Started.UTC(),
		result:     res,
	}
	for _, s := range res.States {
		out.States = append(out.States, s.String())
	}
	if res.Verdict != nil {
		out.Problems = res.Verdict.Problems
		out.Message = res.Verdict.Message()
	}
	if s := res.Sample; s != nil {
		out.Host = s.Host
		out.Sample = &SampleJSON{
			LeapStatus:     s.Tracking.LeapStatus,
			Stratum:        s.Tracking.Stratum,
			LastOffsetSec:  s.Tracking.LastOffsetSec,
			SelectedSource: s.Sources.SelectedSourceLine,
			TotalSources:   s.Sources.TotalSources,
			HasFix:         s.Fix.HasFix,
			GPSSummary:     s.Fix.Summary,
		}
	}
	return out
}

func checkOverrides() map[string]interface{} {
	overrides := map[string]interface{}{}
	if checkHost != "" {
		overrides["target.host"] = checkHost
	}
	return overrides
}

func checkCommand(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(checkOverrides())
	if err != nil {
		return reportError(w, checkJSON, err)
	}

	log, closeLog, err := consoleLogger()
	if err != nil {
		return reportError(w, checkJSON, errors.WrapWithCode(err, errors.ErrConfig, "Invalid log level", ""))
	}
	defer closeLog()

	m, err := newMonitor(ctx, cfg, log, monitorOptions{NoStore: !checkStore, NoAlert: !checkAlert})
	if err != nil {
		return reportError(w, checkJSON, err)
	}
	defer m.Close(log)
	defer sshutil.CloseAgent()

	res := m.loop.RunOnce(ctx)
	out := newCheckOutput(cfg.Label(), res)

	if checkJSON {
		if res.Healthy() {
			err = WriteJSONSuccess(w, out)
		} else {
			err = WriteJSONFailure(w, out, checkFailure(res))
		}
		if err != nil {
			return err
		}
	} else {
		fmt.Fprint(w, ui.RenderCheck(checkView(out)))
	}

	if !res.Healthy() {
		return &ExitError{Code: ExitUnhealthy}
	}
	return nil
}

func checkView(out CheckOutput) ui.CheckView {
	v := ui.CheckView{
		Label:    out.Host,
		Sample:   out.result.Sample,
		Verdict:  out.result.Verdict,
		Duration: out.result.Duration,
	}
	if out.result.Err != nil {
		v.Err = errors.Describe(out.result.Err)
	}
	return v
}

// checkFailure is the error reported in the JSON envelope for a failed cycle.
func checkFailure(res watch.CycleResult) *JSONError {
	switch {
	case res.Err != nil:
		return ErrorToJSON(res.Err)
	case res.Verdict == nil:
		return &JSONError{Code: ErrCodeUnknown, Message: "Check did not finish"}
	default:
		return &JSONError{
			Code:    ErrCodeUnhealthy,
			Message: health.AlertSubject(res.Sample.Host),
			Cause:   res.Verdict.Message(),
		}
	}
}

// reportError prints err as a JSON envelope in JSON mode and returns an
// ExitError so Execute doesn't print it twice. Otherwise err is returned as is.
func reportError(w io.Writer, jsonMode bool, err error) error {
	if !jsonMode {
		return err
	}
	if werr := WriteJSONFromError(w, err); werr != nil {
		return werr
	}
	return &ExitError{Code: 1}
}
