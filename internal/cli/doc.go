// Package cli implements the ntpwatch command-line interface.
//
// The package is organized around Cobra commands. Each command loads the
// configuration once, builds the components it needs from it and hands off
// to the packages that do the work:
//
//	ntpwatch run       - poll the appliance until interrupted
//	ntpwatch check     - run a single cycle and print the verdict
//	ntpwatch status    - summarize the samples already stored
//	ntpwatch config    - print the effective configuration
//	ntpwatch version   - print build information
//
// # Flag Handling
//
// Global flags (--config, --env-file, --log-level, --no-color) are defined
// on the root command. Flags override every other configuration source;
// see config.Load for the full precedence order.
//
// # Exit Codes
//
// 0 on success, 1 when a command fails, and 2 when `check` completes but the
// appliance is unhealthy or unreachable.
package cli
