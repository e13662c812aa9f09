package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

var (
	runHost     string
	runInterval int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the appliance until interrupted",
	Long: `Run the health monitor. Every interval ntpwatch samples chrony and the GPS
receiver over SSH, stores healthy samples and alerts on anything else.
SIGINT or SIGTERM stop it after the cycle in progress.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCommand(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&runHost, "host", "", "appliance host or SSH alias (overrides NTP_HOST)")
	runCmd.Flags().IntVar(&runInterval, "interval", 0, "seconds between cycles (overrides CHECK_INTERVAL_SEC)")
	rootCmd.AddCommand(runCmd)
}

func runOverrides() map[string]interface{} {
	overrides := map[string]interface{}{}
	if runHost != "" {
		overrides["target.host"] = runHost
	}
	if runInterval != 0 {
		overrides["check.interval_sec"] = runInterval
	}
	return overrides
}

func runCommand(ctx context.Context) error {
	cfg, err := loadConfig(runOverrides())
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.LoggerOptions())
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't open the log",
			"Set LOG_PATH to a writable file, or to an empty value to log to stderr only.")
	}
	defer closeLog()
	logger.SetDefault(log)

	m, err := newMonitor(ctx, cfg, log, monitorOptions{})
	if err != nil {
		log.Error("%s", errors.Describe(err))
		return err
	}
	defer m.Close(log)
	defer sshutil.CloseAgent()

	return m.loop.Run(ctx)
}
