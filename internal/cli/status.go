package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/store"
	"github.com/rileyhilliard/ntpwatch/internal/ui"
)

var (
	statusJSON     bool
	statusWindow   string
	statusInterval string
)

// statusNow is swapped in tests.
var statusNow = time.Now

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the stored samples",
	Long: `Show the newest stored sample and the offset history over a window,
grouped into buckets. Reads from DATABASE_URL.

Windows: ` + strings.Join(store.WindowNames(), ", ") + `
Intervals: ` + strings.Join(store.IntervalNames(), ", "),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
	statusCmd.Flags().StringVar(&statusWindow, "window", "24h", "how far back to look")
	statusCmd.Flags().StringVar(&statusInterval, "interval", "1h", "bucket width")
	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON output of the status command.
type StatusOutput struct {
	Latest   *LatestJSON  `json:"latest"`
	Window   string       `json:"window"`
	Interval string       `json:"interval"`
	Buckets  []BucketJSON `json:"buckets"`
}

// LatestJSON is the newest stored row.
type LatestJSON struct {
	TS             time.Time `json:"ts"`
	LastOffsetSec  *float64  `json:"last_offset_sec"`
	Stratum        *int      `json:"stratum"`
	TotalSources   int       `json:"total_sources"`
	LeapStatus     *string   `json:"leap_status"`
	GPSMode        string    `json:"gps_mode"`
	SelectedSource *string   `json:"selected_source"`
	GPSSummary     string    `json:"gps_summary"`
}

// BucketJSON is one aggregated interval.
type BucketJSON struct {
	Bucket          time.Time `json:"bucket"`
	AvgOffsetSec    *float64  `json:"avg_offset_sec"`
	P95AbsOffsetSec *float64  `json:"p95_abs_offset_sec"`
	MaxAbsOffsetSec *float64  `json:"max_abs_offset_sec"`
}

func newStatusOutput(latest *store.MetricSample, buckets []store.OffsetBucket) StatusOutput {
	out := StatusOutput{
		Window:   statusWindow,
		Interval: statusInterval,
		Buckets:  make([]BucketJSON, 0, len(buckets)),
	}
	if latest != nil {
		out.Latest = &LatestJSON{
			TS:             latest.TS,
			LastOffsetSec:  latest.LastOffsetSec,
			Stratum:        latest.Stratum,
			TotalSources:   latest.TotalSources,
			LeapStatus:     latest.LeapStatus,
			GPSMode:        latest.GPSMode,
			SelectedSource: latest.SelectedSource,
			GPSSummary:     latest.GPSSummary,
		}
	}
	for _, b := range buckets {
		out.Buckets = append(out.Buckets, BucketJSON(b))
	}
	return out
}

func statusCommand(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return reportError(w, statusJSON, err)
	}
	if cfg.Database.URL == "" {
		return reportError(w, statusJSON, errors.New(errors.ErrConfig,
			"No database configured",
			"Set DATABASE_URL to the store the monitor writes to."))
	}

	log, closeLog, err := consoleLogger()
	if err != nil {
		return reportError(w, statusJSON, errors.WrapWithCode(err, errors.ErrConfig, "Invalid log level", ""))
	}
	defer closeLog()

	opts := cfg.StoreOptions(log)
	opts.Migrate = false
	st, err := openStore(ctx, opts)
	if err != nil {
		return reportError(w, statusJSON, err)
	}
	defer st.Close()

	latest, err := st.Latest(ctx)
	if err != nil {
		return reportError(w, statusJSON, err)
	}
	buckets, err := st.OffsetBuckets(ctx, statusWindow, statusInterval)
	if err != nil {
		return reportError(w, statusJSON, err)
	}

	if statusJSON {
		return WriteJSONSuccess(w, newStatusOutput(latest, buckets))
	}

	fmt.Fprint(w, ui.RenderLatest(latest, statusNow()))
	fmt.Fprintln(w)
	fmt.Fprint(w, ui.RenderBuckets(buckets, statusWindow, statusInterval,
		cfg.Thresholds.MaxAbsOffsetSec, ui.TerminalWidth(os.Stdout, 80)))
	return nil
}
