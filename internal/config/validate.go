package config

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/sampler"
	"github.com/rileyhilliard/ntpwatch/internal/store"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

// Validate checks cfg and returns the first problem as a CONFIG error naming
// the offending variable.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Target.Host) == "" {
		return invalid("target.host", "must not be empty", "Set NTP_HOST to the appliance hostname or SSH alias.")
	}

	positive := []struct {
		key string
		val int
	}{
		{"check.interval_sec", cfg.Check.IntervalSec},
		{"check.command_timeout_sec", cfg.Check.CommandTimeoutSec},
		{"ssh.connect_timeout_sec", cfg.SSH.ConnectTimeoutSec},
		{"gps.timeout_sec", cfg.GPS.TimeoutSec},
		{"gps.samples", cfg.GPS.Samples},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return invalid(p.key, fmt.Sprintf("must be positive, got %d", p.val), "")
		}
	}

	if cfg.SSH.Port <= 0 || cfg.SSH.Port > 65535 {
		return invalid("ssh.port", fmt.Sprintf("%d is not a TCP port", cfg.SSH.Port), "")
	}
	if cfg.Thresholds.MaxStratum < 0 {
		return invalid("thresholds.max_stratum", fmt.Sprintf("must not be negative, got %d", cfg.Thresholds.MaxStratum), "")
	}
	if cfg.Thresholds.MaxAbsOffsetSec < 0 {
		return invalid("thresholds.max_abs_offset_sec", fmt.Sprintf("must not be negative, got %g", cfg.Thresholds.MaxAbsOffsetSec), "")
	}
	if cfg.Alert.SuppressSec < 0 {
		return invalid("alert.suppress_sec", fmt.Sprintf("must not be negative, got %d", cfg.Alert.SuppressSec), "Use 0 to alert on every unhealthy cycle.")
	}

	switch strings.ToLower(cfg.GPS.Format) {
	case sampler.FormatJSON, sampler.FormatNMEA:
	default:
		return invalid("gps.format", fmt.Sprintf("unknown format %q", cfg.GPS.Format),
			fmt.Sprintf("Use %q (gpsd TPV reports) or %q (raw sentences).", sampler.FormatJSON, sampler.FormatNMEA))
	}

	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return invalid("log.level", err.Error(), "Use DEBUG, INFO, WARN or ERROR.")
	}

	if _, err := sshutil.ParseHostKeyMode(cfg.SSH.StrictHostKey); err != nil {
		return withKey("ssh.strict_host_key", err)
	}

	if err := store.ValidateURL(cfg.Database.URL); err != nil {
		return withKey("database.url", err)
	}
	if _, err := store.ParseTable(cfg.Database.Table); err != nil {
		return withKey("database.table", err)
	}

	if cfg.Email.SMTPPort <= 0 || cfg.Email.SMTPPort > 65535 {
		return invalid("email.smtp_port", fmt.Sprintf("%d is not a TCP port", cfg.Email.SMTPPort), "")
	}

	if cfg.MQTT.Broker != "" && !strings.Contains(cfg.MQTT.Broker, "://") {
		return invalid("mqtt.broker", fmt.Sprintf("%q has no scheme", cfg.MQTT.Broker), "Use tcp://host:1883, ssl://host:8883 or ws://host/path.")
	}

	return nil
}

// describeKey renders "gps.format (GPS_FORMAT)".
func describeKey(key string) string {
	if name := EnvName(key); name != "" {
		return fmt.Sprintf("%s (%s)", key, name)
	}
	return key
}

func invalid(key, problem, suggestion string) error {
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Invalid %s: %s", describeKey(key), problem),
		suggestion)
}

// withKey prefixes a validation error from another package with the setting
// it came from.
func withKey(key string, err error) error {
	return errors.WrapWithCode(err, errors.ErrConfig,
		fmt.Sprintf("Invalid %s", describeKey(key)),
		"")
}
