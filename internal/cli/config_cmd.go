package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/ntpwatch/internal/config"
	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

var (
	configKeys bool
	configSSH  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after every source has been applied, as YAML.
Passwords and database credentials are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configCommand(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.Flags().BoolVar(&configKeys, "keys", false, "list every key with its environment variable")
	configCmd.Flags().BoolVar(&configSSH, "ssh", false, "show the resolved SSH target and the aliases in the SSH config")
	rootCmd.AddCommand(configCmd)
}

func configCommand(w io.Writer) error {
	if configKeys {
		return writeConfigKeys(w)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	if configSSH {
		return writeSSHTarget(w, cfg)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}

func writeConfigKeys(w io.Writer) error {
	for _, key := range config.Keys() {
		if _, err := fmt.Fprintf(w, "%-32s %s\n", key, config.EnvName(key)); err != nil {
			return err
		}
	}
	return nil
}

func writeSSHTarget(w io.Writer, cfg config.Config) error {
	opts, err := cfg.SSHOptions()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s dials %s\n", cfg.Target.Host, sshutil.Describe(opts))
	if opts.HasFallback() {
		fmt.Fprintf(w, "fallback %s\n", opts.FallbackIP)
	}

	hosts, err := sshutil.ConfigHosts(opts)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Can't read the SSH config", "")
	}
	if len(hosts) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nSSH config aliases:")
	for _, h := range hosts {
		marker := " "
		if h.Alias == cfg.Target.Host {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-20s %s\n", marker, h.Alias, h.Description())
	}
	return nil
}
