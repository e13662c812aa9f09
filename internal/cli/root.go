package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/ntpwatch/internal/config"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/ui"
)

// Global flags
var (
	cfgFile  string
	envFile  string
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "ntpwatch",
	Short: "Health monitor for a GPS-disciplined NTP appliance",
	Long: `ntpwatch polls a GPS-disciplined NTP server over SSH, checks chrony's
tracking and source selection plus the receiver's fix, stores healthy samples
and alerts by email or MQTT when something is off.

Settings come from the environment (NTP_HOST, DATABASE_URL, EMAIL_SENDER, ...),
an optional .env file and an optional YAML file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColors(noColor, os.Stdout)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// ExitError ends the process with Code without printing anything further.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	os.Exit(run(rootCmd, os.Stderr))
}

func run(cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	msg := err.Error()
	fmt.Fprint(stderr, msg)
	if !strings.HasSuffix(msg, "\n") {
		fmt.Fprintln(stderr)
	}
	return 1
}

// loadConfig builds the Config from every source, with flags applied last.
func loadConfig(overrides map[string]interface{}) (config.Config, error) {
	if overrides == nil {
		overrides = map[string]interface{}{}
	}
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	return config.Load(config.LoadOptions{
		ConfigPath: cfgFile,
		EnvFile:    envFile,
		Overrides:  overrides,
	})
}

// consoleLogger logs to stderr only, for the one-shot commands. It stays
// quiet below warnings unless --log-level was given.
func consoleLogger() (logger.Logger, func(), error) {
	level := logLevel
	if level == "" {
		level = "WARN"
	}
	return logger.New(logger.Options{Level: level})
}
